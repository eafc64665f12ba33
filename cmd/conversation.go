////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// conversationCmd creates a conversation from --user and --participants, or
// with --list prints every conversation --user takes part in.
var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Create or list conversations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		actor := viper.GetString(userFlag)
		if actor == "" {
			jww.FATAL.Panicf("The conversation command requires --%s",
				userFlag)
		}

		if viper.GetBool(listFlag) {
			for _, conv := range c.conversations.ListForUser(actor) {
				name := conv.Metadata.Name
				if name == "" {
					name = strings.Join(conv.Participants, ", ")
				}
				fmt.Printf("%s  %-6s  %s\n", conv.Id, conv.Type, name)
			}
			return
		}

		participants := viper.GetStringSlice(participantsFlag)
		conv, err := c.conversations.Create(actor, participants,
			viper.GetString(nameFlag))
		if err != nil {
			jww.FATAL.Panicf("Failed to create the conversation: %+v", err)
		}

		for _, p := range conv.Participants {
			if err = c.users.AttachConversation(p, conv.Id); err != nil {
				jww.WARN.Printf("Could not attach %q to profile %q: %+v",
					conv.Id, p, err)
			}
		}
		fmt.Printf("Created %s conversation %s\n", conv.Type, conv.Id)
	},
}

func init() {
	conversationCmd.Flags().StringSliceP(participantsFlag, "", nil,
		"Wallet addresses taking part, including the creator")
	viper.BindPFlag(participantsFlag,
		conversationCmd.Flags().Lookup(participantsFlag))

	conversationCmd.Flags().StringP(nameFlag, "n", "",
		"Display name for a group conversation")
	viper.BindPFlag(nameFlag, conversationCmd.Flags().Lookup(nameFlag))

	conversationCmd.Flags().BoolP(listFlag, "", false,
		"List conversations instead of creating one")
	viper.BindPFlag(listFlag, conversationCmd.Flags().Lookup(listFlag))

	rootCmd.AddCommand(conversationCmd)
}
