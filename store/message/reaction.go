////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"github.com/forPelevin/gomoji"
	"github.com/pkg/errors"

	"gitlab.com/meshchat/client/store"
)

// validateReaction checks that the reaction is exactly one emoji with no
// surrounding characters.
func validateReaction(reaction string) error {
	found := gomoji.CollectAll(reaction)
	if len(found) != 1 || found[0].Character != reaction {
		return errors.WithMessagef(store.ErrValidation,
			"reaction %q is not a single emoji", reaction)
	}
	return nil
}
