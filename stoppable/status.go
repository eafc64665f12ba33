////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import "strconv"

// Status holds the current state of a Stoppable.
type Status uint32

const (
	// Running is the state between construction and Close.
	Running Status = iota

	// Stopping is the state after Close is called and before the controlled
	// goroutine acknowledges the quit signal.
	Stopping

	// Stopped is the terminal state.
	Stopped
)

// String adheres to the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "invalid status: " + strconv.Itoa(int(s))
	}
}
