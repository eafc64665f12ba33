////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import (
	"strconv"
	"sync"

	"gitlab.com/meshchat/client/replica"
)

// listeners fans write events out to every registered callback. Events are
// delivered synchronously under the lock so each listener observes writes in
// the same order the engine accepted them; callbacks are required by the
// replica contract to return promptly.
type listeners struct {
	mux    sync.Mutex
	lastID int
	funcs  map[replica.ListenerID]replica.WriteFunc
}

func newListeners() *listeners {
	return &listeners{funcs: make(map[replica.ListenerID]replica.WriteFunc)}
}

func (l *listeners) add(fn replica.WriteFunc) replica.ListenerID {
	l.mux.Lock()
	defer l.mux.Unlock()

	l.lastID++
	id := replica.ListenerID(strconv.Itoa(l.lastID))
	l.funcs[id] = fn
	return id
}

func (l *listeners) remove(id replica.ListenerID) {
	l.mux.Lock()
	defer l.mux.Unlock()

	delete(l.funcs, id)
}

func (l *listeners) fire(ev replica.WriteEvent) {
	l.mux.Lock()
	defer l.mux.Unlock()

	for _, fn := range l.funcs {
		fn(ev)
	}
}
