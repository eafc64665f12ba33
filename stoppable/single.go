////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable controls the shutdown of long-lived goroutines. The
// synchronization layer uses one Single per event-delivery loop so listener
// teardown can wait for the loop to drain before the owning store goes away.
package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Single stops one goroutine through a quit channel.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a new Single in the Running state.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

// Name returns the name given at construction.
func (s *Single) Name() string { return s.name }

// GetStatus returns the current status.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

// IsRunning returns true until Close is called.
func (s *Single) IsRunning() bool { return s.GetStatus() == Running }

// Quit returns the channel the controlled goroutine must select on. It is
// closed exactly once, when Close is called.
func (s *Single) Quit() <-chan struct{} { return s.quit }

// ToStopped marks the Single stopped. The controlled goroutine calls this
// just before returning. Panics if Close was never called, which means the
// goroutine exited outside its lifecycle.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("Stoppable %q reached ToStopped from status %s "+
			"instead of %s", s.name, s.GetStatus(), Stopping)
	}
	jww.TRACE.Printf("Stoppable %q is now %s", s.name, Stopped)
}

// Close signals the controlled goroutine to quit. It returns an error if the
// Single was not running; calling it again is a no-op.
func (s *Single) Close() error {
	var err error
	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			err = errors.Errorf("stoppable %q cannot stop from status %s",
				s.name, s.GetStatus())
			return
		}
		jww.TRACE.Printf("Stoppable %q is now %s", s.name, Stopping)
		close(s.quit)
	})
	return err
}
