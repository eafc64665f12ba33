////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/replica"
)

// documentCollection implements replica.DocumentCollection. Documents live in
// the backing KV under <name>/doc/<id>; the id set is tracked in an index key
// so Query can enumerate without a KV scan.
type documentCollection struct {
	kv   ekv.KeyValue
	name string
	cfg  replica.Config

	mux    sync.Mutex
	loaded bool
	closed bool
	index  map[string]struct{}
	order  uint64

	events *listeners
}

func newDocumentCollection(kv ekv.KeyValue, name string,
	cfg replica.Config) *documentCollection {
	return &documentCollection{
		kv:     kv,
		name:   name,
		cfg:    cfg,
		index:  make(map[string]struct{}),
		events: newListeners(),
	}
}

func (dc *documentCollection) Name() string { return dc.name }

// Load reads the persisted id index and write counter. Must be called before
// any Put, Get, or Query.
func (dc *documentCollection) Load() error {
	dc.mux.Lock()
	defer dc.mux.Unlock()

	if dc.closed {
		return errors.WithMessagef(ErrDisconnected, "documents %q", dc.name)
	}
	if dc.loaded {
		return nil
	}

	index, err := loadIndex(dc.kv, indexKey(dc.name))
	if err != nil {
		return errors.WithMessagef(err,
			"failed to load index of documents %q", dc.name)
	}
	order, err := loadCounter(dc.kv, orderKey(dc.name))
	if err != nil {
		return errors.WithMessagef(err,
			"failed to load write counter of documents %q", dc.name)
	}

	dc.index = index
	dc.order = order
	dc.loaded = true
	return nil
}

func (dc *documentCollection) Close() error {
	dc.mux.Lock()
	defer dc.mux.Unlock()

	dc.closed = true
	return nil
}

// Put stores doc as the current value for id, replacing any prior value in
// full, and fires a write event carrying the new insertion order.
func (dc *documentCollection) Put(id string, doc []byte) error {
	dc.mux.Lock()
	defer dc.mux.Unlock()

	if err := dc.usable(); err != nil {
		return err
	}
	if id == "" {
		return errors.Errorf("documents %q: refusing to put empty id", dc.name)
	}

	if err := setBytes(dc.kv, docKey(dc.name, id), doc); err != nil {
		return errors.WithMessagef(err,
			"failed to put document %q into %q", id, dc.name)
	}

	if _, known := dc.index[id]; !known {
		dc.index[id] = struct{}{}
		if err := storeIndex(dc.kv, indexKey(dc.name), dc.index); err != nil {
			return errors.WithMessagef(err,
				"failed to update index of documents %q", dc.name)
		}
	}

	order := dc.order
	dc.order++
	if err := storeCounter(dc.kv, orderKey(dc.name), dc.order); err != nil {
		return errors.WithMessagef(err,
			"failed to update write counter of documents %q", dc.name)
	}

	dc.events.fire(replica.WriteEvent{
		Collection: dc.name,
		Address:    LocalAddress,
		Order:      order,
		Value:      doc,
	})
	return nil
}

// Get returns the current value for id, or nil if the id has never been
// written.
func (dc *documentCollection) Get(id string) ([]byte, error) {
	dc.mux.Lock()
	defer dc.mux.Unlock()

	if err := dc.usable(); err != nil {
		return nil, err
	}
	if _, known := dc.index[id]; !known {
		return nil, nil
	}

	doc, err := getBytes(dc.kv, docKey(dc.name, id))
	if err != nil {
		return nil, errors.WithMessagef(err,
			"failed to get document %q from %q", id, dc.name)
	}
	return doc, nil
}

// Query returns every current document matching pred; a nil pred matches all.
func (dc *documentCollection) Query(pred func(doc []byte) bool) (
	[][]byte, error) {
	dc.mux.Lock()
	defer dc.mux.Unlock()

	if err := dc.usable(); err != nil {
		return nil, err
	}

	matches := make([][]byte, 0, len(dc.index))
	for id := range dc.index {
		doc, err := getBytes(dc.kv, docKey(dc.name, id))
		if err != nil {
			return nil, errors.WithMessagef(err,
				"failed to read document %q while querying %q", id, dc.name)
		}
		if pred == nil || pred(doc) {
			matches = append(matches, doc)
		}
	}
	return matches, nil
}

func (dc *documentCollection) OnWrite(fn replica.WriteFunc) (
	replica.ListenerID, error) {
	dc.mux.Lock()
	closed := dc.closed
	dc.mux.Unlock()
	if closed {
		return "", errors.WithMessagef(ErrDisconnected,
			"documents %q", dc.name)
	}
	return dc.events.add(fn), nil
}

func (dc *documentCollection) RemoveListener(id replica.ListenerID) {
	dc.events.remove(id)
}

func (dc *documentCollection) isClosed() bool {
	dc.mux.Lock()
	defer dc.mux.Unlock()
	return dc.closed
}

func (dc *documentCollection) usable() error {
	if dc.closed {
		return errors.WithMessagef(ErrDisconnected, "documents %q", dc.name)
	}
	if !dc.loaded {
		return errors.Errorf("documents %q used before Load", dc.name)
	}
	return nil
}

func docKey(name, id string) string { return name + "/doc/" + id }
func indexKey(name string) string   { return name + "/index" }
func orderKey(name string) string   { return name + "/order" }

func loadIndex(kv ekv.KeyValue, key string) (map[string]struct{}, error) {
	raw, err := getBytes(kv, key)
	if err != nil {
		if ekv.Exists(err) {
			return nil, err
		}
		// Never written, equivalent to an empty collection.
		return make(map[string]struct{}), nil
	}

	var ids []string
	if err = json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	index := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		index[id] = struct{}{}
	}
	return index, nil
}

func storeIndex(kv ekv.KeyValue, key string, index map[string]struct{}) error {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return setBytes(kv, key, raw)
}
