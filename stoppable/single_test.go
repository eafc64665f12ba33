////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"testing"
	"time"
)

// Tests that a new Single is running and carries its name.
func TestNewSingle(t *testing.T) {
	s := NewSingle("test")
	if s.Name() != "test" {
		t.Errorf("Name: got %q, expected %q", s.Name(), "test")
	}
	if !s.IsRunning() {
		t.Errorf("new Single is not running, status %s", s.GetStatus())
	}
}

// Tests that Close releases the controlled goroutine and the status walks
// Running -> Stopping -> Stopped.
func TestSingle_Close(t *testing.T) {
	s := NewSingle("test")
	done := make(chan struct{})

	go func() {
		<-s.Quit()
		s.ToStopped()
		close(done)
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned: %+v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not quit after Close")
	}

	if s.GetStatus() != Stopped {
		t.Errorf("status after shutdown: got %s, expected %s",
			s.GetStatus(), Stopped)
	}
}

// Tests that a second Close is a silent no-op.
func TestSingle_Close_Twice(t *testing.T) {
	s := NewSingle("test")
	go func() {
		<-s.Quit()
		s.ToStopped()
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("first Close returned: %+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close returned: %+v", err)
	}
}
