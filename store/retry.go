////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package store

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	jww "github.com/spf13/jwalterweatherman"
)

// RetryReplication runs op with exponential backoff for as long as it fails
// with ErrReplication, up to maxElapsed. Any other error aborts immediately.
//
// op must rebuild the operation on every attempt rather than capture a
// finished entity: log appends are not idempotent, so a retried append has to
// generate a fresh id to avoid ambiguous duplicate entries.
func RetryReplication(maxElapsed time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		jww.WARN.Printf("[STORE] Replicated write attempt %d failed, "+
			"backing off: %+v", attempt, err)
		return err
	}, bo)
}
