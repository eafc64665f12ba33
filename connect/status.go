////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package connect

import "strconv"

// Status tracks the Manager through its lifecycle.
type Status uint32

const (
	// Uninitialized is the state before the first Initialize call.
	Uninitialized Status = iota

	// Connecting is the state while the network bootstraps and the
	// collections open.
	Connecting

	// Ready is the state in which collections may be used.
	Ready

	// Failed is the state after a bootstrap or open error. Initialize may be
	// retried from here.
	Failed

	// ShuttingDown is the state while Shutdown releases resources.
	ShuttingDown

	// Closed is the terminal state.
	Closed
)

// String adheres to the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case ShuttingDown:
		return "shutting down"
	case Closed:
		return "closed"
	default:
		return "invalid status: " + strconv.Itoa(int(s))
	}
}
