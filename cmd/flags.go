////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

// CLI flag name constants, organized by subcommand with root level flags at
// the top. Pulling flags through Viper should use the constants defined here.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	// Log flags
	logLevelFlag = "logLevel"
	logFlag      = "log"

	// Session flags
	sessionFlag  = "session"
	passwordFlag = "password"

	// Misc
	waitTimeoutFlag = "waitTimeout"
	userFlag        = "user"

	// Send flags
	conversationFlag = "conversation"
	messageFlag      = "message"

	///////////////// Register subcommand flags ///////////////////////////////
	walletFlag   = "wallet"
	usernameFlag = "username"
	emailFlag    = "email"

	///////////////// Conversation subcommand flags ///////////////////////////
	participantsFlag = "participants"
	nameFlag         = "name"
	listFlag         = "list"

	///////////////// History subcommand flags ////////////////////////////////
	receiveCountFlag = "receiveCount"
)
