////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/replica"
)

// logCollection implements replica.LogCollection. Entries live in the backing
// KV under <name>/entry/<n> with a head counter tracking the next insertion
// order. Entries are only ever added; supersession is the caller's concern.
type logCollection struct {
	kv   ekv.KeyValue
	name string
	cfg  replica.Config

	mux    sync.Mutex
	loaded bool
	closed bool
	head   uint64

	events *listeners
}

func newLogCollection(kv ekv.KeyValue, name string,
	cfg replica.Config) *logCollection {
	return &logCollection{
		kv:     kv,
		name:   name,
		cfg:    cfg,
		events: newListeners(),
	}
}

func (lc *logCollection) Name() string { return lc.name }

// Load reads the persisted head counter. Must be called before any Append or
// Iterate.
func (lc *logCollection) Load() error {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if lc.closed {
		return errors.WithMessagef(ErrDisconnected, "log %q", lc.name)
	}
	if lc.loaded {
		return nil
	}

	head, err := loadCounter(lc.kv, headKey(lc.name))
	if err != nil {
		return errors.WithMessagef(err,
			"failed to load head of log %q", lc.name)
	}

	lc.head = head
	lc.loaded = true
	return nil
}

func (lc *logCollection) Close() error {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	lc.closed = true
	return nil
}

// Append adds value as a new entry at the head of the log, fires a write
// event, and returns the entry's pointer.
func (lc *logCollection) Append(value []byte) (replica.Pointer, error) {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if err := lc.usable(); err != nil {
		return replica.Pointer{}, err
	}

	order := lc.head
	if err := setBytes(lc.kv, entryKey(lc.name, order), value); err != nil {
		return replica.Pointer{}, errors.WithMessagef(err,
			"failed to append entry %d to log %q", order, lc.name)
	}

	lc.head++
	if err := storeCounter(lc.kv, headKey(lc.name), lc.head); err != nil {
		return replica.Pointer{}, errors.WithMessagef(err,
			"failed to advance head of log %q", lc.name)
	}

	ptr := replica.Pointer{Hash: entryHash(value, order), Order: order}
	lc.events.fire(replica.WriteEvent{
		Collection: lc.name,
		Address:    LocalAddress,
		Order:      order,
		Value:      value,
	})
	return ptr, nil
}

// Iterate returns entries in ascending insertion order. A limit greater than
// zero returns only the newest limit entries.
func (lc *logCollection) Iterate(limit int) ([]replica.Entry, error) {
	lc.mux.Lock()
	defer lc.mux.Unlock()

	if err := lc.usable(); err != nil {
		return nil, err
	}

	first := uint64(0)
	if limit > 0 && uint64(limit) < lc.head {
		first = lc.head - uint64(limit)
	}

	entries := make([]replica.Entry, 0, lc.head-first)
	for n := first; n < lc.head; n++ {
		value, err := getBytes(lc.kv, entryKey(lc.name, n))
		if err != nil {
			return nil, errors.WithMessagef(err,
				"failed to read entry %d of log %q", n, lc.name)
		}
		entries = append(entries, replica.Entry{
			Value: value,
			Hash:  entryHash(value, n),
			Order: n,
		})
	}
	return entries, nil
}

func (lc *logCollection) OnWrite(fn replica.WriteFunc) (
	replica.ListenerID, error) {
	lc.mux.Lock()
	closed := lc.closed
	lc.mux.Unlock()
	if closed {
		return "", errors.WithMessagef(ErrDisconnected, "log %q", lc.name)
	}
	return lc.events.add(fn), nil
}

func (lc *logCollection) RemoveListener(id replica.ListenerID) {
	lc.events.remove(id)
}

func (lc *logCollection) isClosed() bool {
	lc.mux.Lock()
	defer lc.mux.Unlock()
	return lc.closed
}

func (lc *logCollection) usable() error {
	if lc.closed {
		return errors.WithMessagef(ErrDisconnected, "log %q", lc.name)
	}
	if !lc.loaded {
		return errors.Errorf("log %q used before Load", lc.name)
	}
	return nil
}

func entryKey(name string, n uint64) string {
	return name + "/entry/" + strconv.FormatUint(n, 10)
}
func headKey(name string) string { return name + "/head" }

// entryHash is the content address of an entry. The order is mixed in so two
// identical payloads appended twice get distinct addresses.
func entryHash(value []byte, order uint64) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(order, 10)))
	h.Write(value)
	return hex.EncodeToString(h.Sum(nil))
}

func loadCounter(kv ekv.KeyValue, key string) (uint64, error) {
	raw, err := getBytes(kv, key)
	if err != nil {
		if ekv.Exists(err) {
			return 0, err
		}
		return 0, nil
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func storeCounter(kv ekv.KeyValue, key string, n uint64) error {
	return setBytes(kv, key, []byte(strconv.FormatUint(n, 10)))
}
