////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/replica"
)

func newTestDocuments(t *testing.T) replica.DocumentCollection {
	t.Helper()
	db := New(ekv.MakeMemstore())
	dc, err := db.OpenDocuments("users", replica.Config{
		OpenWrite: true, Replicate: true})
	require.NoError(t, err)
	require.NoError(t, dc.Load())
	return dc
}

func newTestLog(t *testing.T) replica.LogCollection {
	t.Helper()
	db := New(ekv.MakeMemstore())
	lc, err := db.OpenLog("messages", replica.Config{
		OpenWrite: true, Replicate: true})
	require.NoError(t, err)
	require.NoError(t, lc.Load())
	return lc
}

// The record adapter round-trips raw bytes through the KV, and a missing key
// surfaces as the KV's not-found error.
func TestRecord_RoundTrip(t *testing.T) {
	kv := ekv.MakeMemstore()

	require.NoError(t, setBytes(kv, "users/doc/alice", []byte(`{"v":1}`)))

	data, err := getBytes(kv, "users/doc/alice")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":1}`), data)

	require.NoError(t, setBytes(kv, "users/doc/alice", []byte(`{"v":2}`)))
	data, err = getBytes(kv, "users/doc/alice")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":2}`), data)

	_, err = getBytes(kv, "users/doc/nobody")
	require.Error(t, err)
	require.False(t, ekv.Exists(err))
}

// Put then Get round-trips a document; Get of an unknown id returns nil
// without an error.
func TestDocumentCollection_PutGet(t *testing.T) {
	dc := newTestDocuments(t)

	require.NoError(t, dc.Put("alice", []byte(`{"id":"alice"}`)))

	doc, err := dc.Get("alice")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"id":"alice"}`), doc)

	missing, err := dc.Get("nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// A second Put for the same id replaces the document in full.
func TestDocumentCollection_PutOverwrites(t *testing.T) {
	dc := newTestDocuments(t)

	require.NoError(t, dc.Put("alice", []byte(`{"v":1}`)))
	require.NoError(t, dc.Put("alice", []byte(`{"v":2}`)))

	doc, err := dc.Get("alice")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":2}`), doc)

	docs, err := dc.Query(nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

// Query applies the predicate over current values only.
func TestDocumentCollection_Query(t *testing.T) {
	dc := newTestDocuments(t)

	require.NoError(t, dc.Put("a", []byte("keep")))
	require.NoError(t, dc.Put("b", []byte("drop")))
	require.NoError(t, dc.Put("c", []byte("keep")))

	docs, err := dc.Query(func(doc []byte) bool {
		return string(doc) == "keep"
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

// Documents survive a disconnect when the same backing KV is reopened.
func TestDocumentCollection_Persistence(t *testing.T) {
	kv := ekv.MakeMemstore()

	db := New(kv)
	dc, err := db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)
	require.NoError(t, dc.Load())
	require.NoError(t, dc.Put("alice", []byte("v1")))
	require.NoError(t, db.Disconnect())

	db = New(kv)
	dc, err = db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)
	require.NoError(t, dc.Load())
	doc, err := dc.Get("alice")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), doc)
}

// Every write fires exactly one event per listener, in insertion order, with
// strictly increasing order numbers.
func TestDocumentCollection_WriteEvents(t *testing.T) {
	dc := newTestDocuments(t)

	var got []replica.WriteEvent
	id, err := dc.OnWrite(func(ev replica.WriteEvent) {
		got = append(got, ev)
	})
	require.NoError(t, err)

	require.NoError(t, dc.Put("a", []byte("1")))
	require.NoError(t, dc.Put("a", []byte("2")))
	require.NoError(t, dc.Put("b", []byte("3")))

	require.Len(t, got, 3)
	for i, ev := range got {
		require.Equal(t, "users", ev.Collection)
		require.Equal(t, LocalAddress, ev.Address)
		require.Equal(t, uint64(i), ev.Order)
	}
	require.Equal(t, []byte("2"), got[1].Value)

	// After removal no further events arrive.
	dc.RemoveListener(id)
	require.NoError(t, dc.Put("c", []byte("4")))
	require.Len(t, got, 3)
}

// Append assigns sequential orders and Iterate returns entries in that order.
func TestLogCollection_AppendIterate(t *testing.T) {
	lc := newTestLog(t)

	first, err := lc.Append([]byte("one"))
	require.NoError(t, err)
	second, err := lc.Append([]byte("two"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.Order)
	require.Equal(t, uint64(1), second.Order)
	require.NotEqual(t, first.Hash, second.Hash)

	entries, err := lc.Iterate(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("one"), entries[0].Value)
	require.Equal(t, []byte("two"), entries[1].Value)
	require.Equal(t, first.Hash, entries[0].Hash)
}

// A positive limit returns only the newest entries.
func TestLogCollection_IterateLimit(t *testing.T) {
	lc := newTestLog(t)

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := lc.Append([]byte(v))
		require.NoError(t, err)
	}

	entries, err := lc.Iterate(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("c"), entries[0].Value)
	require.Equal(t, []byte("d"), entries[1].Value)
}

// Identical payloads appended twice stay distinct entries with distinct
// addresses; the log never collapses history.
func TestLogCollection_AppendNeverMutates(t *testing.T) {
	lc := newTestLog(t)

	p1, err := lc.Append([]byte("same"))
	require.NoError(t, err)
	p2, err := lc.Append([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, p1.Hash, p2.Hash)

	entries, err := lc.Iterate(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

// Operations after Disconnect fail with ErrDisconnected; a second Disconnect
// is a no-op.
func TestDatabase_Disconnect(t *testing.T) {
	db := New(ekv.MakeMemstore())
	dc, err := db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)
	require.NoError(t, dc.Load())

	require.NoError(t, db.Disconnect())
	require.NoError(t, db.Disconnect())

	require.ErrorIs(t, dc.Put("a", []byte("x")), ErrDisconnected)
	_, err = db.OpenDocuments("more", replica.Config{})
	require.ErrorIs(t, err, ErrDisconnected)
}

// A handle closed on its own is replaced by a fresh one over the same
// persisted state when the name is reopened.
func TestDatabase_ReopenAfterClose(t *testing.T) {
	db := New(ekv.MakeMemstore())
	dc, err := db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)
	require.NoError(t, dc.Load())
	require.NoError(t, dc.Put("a", []byte("x")))
	require.NoError(t, dc.Close())

	dc2, err := db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)
	require.NoError(t, dc2.Load())

	doc, err := dc2.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("x"), doc)
}

// A name cannot be reopened as the other collection kind.
func TestDatabase_WrongKind(t *testing.T) {
	db := New(ekv.MakeMemstore())
	_, err := db.OpenDocuments("users", replica.Config{})
	require.NoError(t, err)

	_, err = db.OpenLog("users", replica.Config{})
	require.ErrorIs(t, err, ErrWrongKind)
}
