////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import "gitlab.com/elixxir/ekv"

// record adapts a raw byte slice to the Marshaler and Unmarshaler interfaces
// the backing KV moves objects through. Collections store pre-encoded
// documents and log entries, so there is nothing further to serialize.
type record struct {
	data []byte
}

func (r *record) Marshal() []byte { return r.data }

func (r *record) Unmarshal(b []byte) error {
	r.data = b
	return nil
}

func setBytes(kv ekv.KeyValue, key string, data []byte) error {
	return kv.Set(key, &record{data: data})
}

func getBytes(kv ekv.KeyValue, key string) ([]byte, error) {
	r := &record{}
	if err := kv.Get(key, r); err != nil {
		return nil, err
	}
	return r.data, nil
}
