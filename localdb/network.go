////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package localdb

import "time"

// Loopback is the network companion to the local engine. It bootstraps into
// nothing and is always healthy; a node running on localdb replicates with no
// one. It satisfies connect.Network.
type Loopback struct{}

func (Loopback) Bootstrap(time.Duration) error { return nil }

func (Loopback) Stop() error { return nil }
