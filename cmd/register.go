////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/meshchat/client/store/user"
)

// registerCmd creates the local user's profile document, keyed by wallet
// address.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a user profile under a wallet address",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		u, err := c.users.Register(user.User{
			WalletAddress: viper.GetString(walletFlag),
			Username:      viper.GetString(usernameFlag),
			Email:         viper.GetString(emailFlag),
		})
		if err != nil {
			jww.FATAL.Panicf("Failed to register: %+v", err)
		}
		fmt.Printf("Registered %s as %q\n", u.Id, u.Username)
	},
}

func init() {
	registerCmd.Flags().StringP(walletFlag, "", "",
		"Wallet address that identifies the user")
	viper.BindPFlag(walletFlag, registerCmd.Flags().Lookup(walletFlag))

	registerCmd.Flags().StringP(usernameFlag, "", "",
		"Display name for the profile")
	viper.BindPFlag(usernameFlag, registerCmd.Flags().Lookup(usernameFlag))

	registerCmd.Flags().StringP(emailFlag, "", "",
		"Contact email for the profile")
	viper.BindPFlag(emailFlag, registerCmd.Flags().Lookup(emailFlag))

	rootCmd.AddCommand(registerCmd)
}
