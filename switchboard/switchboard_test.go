////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package switchboard

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/localdb"
	"gitlab.com/meshchat/client/replica"
)

func newTestCollection(t *testing.T) replica.DocumentCollection {
	t.Helper()
	db := localdb.New(ekv.MakeMemstore())
	dc, err := db.OpenDocuments("users", replica.Config{
		OpenWrite: true, Replicate: true})
	require.NoError(t, err)
	require.NoError(t, dc.Load())
	return dc
}

// A write on the collection reaches the subscribed merge function exactly
// once and then triggers the scope's observers.
func TestSwitchboard_Subscribe(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	merged := make(chan replica.WriteEvent, 8)
	observed := make(chan string, 8)

	s.RegisterObserver("users", func(scope string) { observed <- scope })
	err := s.Subscribe("users", dc,
		func(ev replica.WriteEvent) (bool, error) {
			merged <- ev
			return true, nil
		})
	require.NoError(t, err)

	require.NoError(t, dc.Put("alice", []byte("v1")))

	select {
	case ev := <-merged:
		require.Equal(t, []byte("v1"), ev.Value)
	case <-time.After(time.Second):
		t.Fatal("merge was never called")
	}
	select {
	case scope := <-observed:
		require.Equal(t, "users", scope)
	case <-time.After(time.Second):
		t.Fatal("observer was never notified")
	}

	select {
	case <-merged:
		t.Fatal("merge called more than once for a single write")
	case <-time.After(50 * time.Millisecond):
	}
}

// Subscribing the same scope twice replaces the first subscription: a single
// write is merged exactly once, by the second merge function.
func TestSwitchboard_Subscribe_Replaces(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	firstMerged := make(chan struct{}, 8)
	secondMerged := make(chan struct{}, 8)

	err := s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) {
			firstMerged <- struct{}{}
			return true, nil
		})
	require.NoError(t, err)
	err = s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) {
			secondMerged <- struct{}{}
			return true, nil
		})
	require.NoError(t, err)

	require.NoError(t, dc.Put("alice", []byte("v1")))

	select {
	case <-secondMerged:
	case <-time.After(time.Second):
		t.Fatal("replacement subscription never heard the write")
	}
	select {
	case <-firstMerged:
		t.Fatal("replaced subscription still heard the write")
	case <-time.After(50 * time.Millisecond):
	}
}

// Observers are not notified when the merge function reports the event as
// outside its scope.
func TestSwitchboard_NoNotifyWhenNotApplied(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	observed := make(chan string, 8)
	s.RegisterObserver("users", func(scope string) { observed <- scope })

	err := s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) { return false, nil })
	require.NoError(t, err)

	require.NoError(t, dc.Put("alice", []byte("v1")))

	select {
	case <-observed:
		t.Fatal("observer notified for an unapplied event")
	case <-time.After(100 * time.Millisecond):
	}
}

// A merge error drops the event without killing the delivery loop; the next
// event still arrives.
func TestSwitchboard_MergeErrorDoesNotStopDelivery(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	merged := make(chan replica.WriteEvent, 8)
	err := s.Subscribe("users", dc,
		func(ev replica.WriteEvent) (bool, error) {
			if string(ev.Value) == "bad" {
				return false, errors.New("malformed record")
			}
			merged <- ev
			return true, nil
		})
	require.NoError(t, err)

	require.NoError(t, dc.Put("alice", []byte("bad")))
	require.NoError(t, dc.Put("alice", []byte("good")))

	select {
	case ev := <-merged:
		require.Equal(t, []byte("good"), ev.Value)
	case <-time.After(time.Second):
		t.Fatal("delivery stopped after a merge error")
	}
}

// Unsubscribe detaches delivery and is idempotent; UnsubscribeAll clears
// every scope.
func TestSwitchboard_Unsubscribe(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	merged := make(chan struct{}, 8)
	err := s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) {
			merged <- struct{}{}
			return true, nil
		})
	require.NoError(t, err)
	require.True(t, s.Subscribed("users"))

	s.Unsubscribe("users")
	s.Unsubscribe("users")
	require.False(t, s.Subscribed("users"))

	require.NoError(t, dc.Put("alice", []byte("v1")))
	select {
	case <-merged:
		t.Fatal("merge called after Unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) { return true, nil }))
	s.UnsubscribeAll()
	require.False(t, s.Subscribed("users"))
}

// Unsubscribing a scope drops its observers, so resubscribing the scope
// starts with a clean observer list instead of accumulating stale ones.
func TestSwitchboard_Unsubscribe_DropsObservers(t *testing.T) {
	s := New()
	dc := newTestCollection(t)

	observed := make(chan string, 8)
	s.RegisterObserver("users", func(scope string) { observed <- scope })

	err := s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) { return true, nil })
	require.NoError(t, err)

	s.Unsubscribe("users")

	applied := make(chan struct{}, 8)
	err = s.Subscribe("users", dc,
		func(replica.WriteEvent) (bool, error) {
			applied <- struct{}{}
			return true, nil
		})
	require.NoError(t, err)

	require.NoError(t, dc.Put("alice", []byte("v1")))

	select {
	case <-applied:
	case <-time.After(time.Second):
		t.Fatal("resubscription never heard the write")
	}
	select {
	case <-observed:
		t.Fatal("observer from before Unsubscribe was still notified")
	case <-time.After(100 * time.Millisecond):
	}
}
