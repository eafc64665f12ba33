////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/connect"
	"gitlab.com/meshchat/client/localdb"
	"gitlab.com/meshchat/client/store"
	"gitlab.com/meshchat/client/store/conversation"
	"gitlab.com/meshchat/client/store/message"
	"gitlab.com/meshchat/client/store/user"
	"gitlab.com/meshchat/client/switchboard"
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands.
// With --message and --conversation set it sends one message as --user, then
// prints the conversation's newest messages.
var rootCmd = &cobra.Command{
	Use:   "meshchat",
	Short: "Runs a client for the replicated peer-to-peer chat platform",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := initClient()
		defer c.close()

		sender := viper.GetString(userFlag)
		convId := viper.GetString(conversationFlag)
		text := viper.GetString(messageFlag)

		if text != "" {
			if sender == "" || convId == "" {
				jww.FATAL.Panicf("Sending requires --%s and --%s",
					userFlag, conversationFlag)
			}
			// Send regenerates the message id on every attempt, so a
			// replication failure is safe to retry with backoff.
			var sent *message.Message
			err := store.RetryReplication(waitTimeout(), func() error {
				var sendErr error
				sent, sendErr = c.messages.Send(sender, convId, text)
				return sendErr
			})
			if err != nil {
				jww.FATAL.Panicf("Failed to send: %+v", err)
			}
			fmt.Printf("Sent %s\n", sent.Id)
		}

		if convId != "" {
			count := viper.GetInt(receiveCountFlag)
			msgs, err := c.messages.Query(convId, count)
			if err != nil {
				jww.FATAL.Panicf("Failed to query %q: %+v", convId, err)
			}
			for _, m := range msgs {
				printMessage(m)
			}
		}
	},
}

// client bundles the storage engine and the collection stores behind it for
// the lifetime of one command.
type client struct {
	db            *localdb.Database
	manager       *connect.Manager
	swb           *switchboard.Switchboard
	users         *user.Store
	conversations *conversation.Store
	messages      *message.Store
}

// initClient opens the session storage, brings the engine to ready, and
// loads the three collection stores.
func initClient() *client {
	initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))

	kv := openSession(viper.GetString(sessionFlag),
		viper.GetString(passwordFlag))
	db := localdb.New(kv)
	manager := connect.NewManager(localdb.Loopback{}, db)

	if err := manager.Initialize(waitTimeout()); err != nil {
		jww.FATAL.Panicf("Failed to initialize the engine: %+v", err)
	}

	swb := switchboard.New()

	userDocs, err := manager.GetDocuments(connect.UsersCollection)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
	users, err := user.NewStore(userDocs, swb)
	if err != nil {
		jww.FATAL.Panicf("Failed to load the user store: %+v", err)
	}

	convDocs, err := manager.GetDocuments(connect.ConversationsCollection)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
	conversations, err := conversation.NewStore(convDocs, swb)
	if err != nil {
		jww.FATAL.Panicf("Failed to load the conversation store: %+v", err)
	}

	msgLog, err := manager.GetLog(connect.MessagesCollection)
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
	messages := message.NewStore(msgLog, swb, conversations)

	return &client{
		db:            db,
		manager:       manager,
		swb:           swb,
		users:         users,
		conversations: conversations,
		messages:      messages,
	}
}

func (c *client) close() {
	c.users.Close()
	c.conversations.Close()
	c.swb.UnsubscribeAll()
	c.manager.Shutdown()
}

// waitTimeout is the bound on engine bootstrap and on one replicated write's
// retry window, as set by the wait-timeout flag in seconds.
func waitTimeout() time.Duration {
	secs := viper.GetUint(waitTimeoutFlag)
	if secs == 0 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}

// openSession opens the persistent session store, or an in-memory one when
// no session directory is given.
func openSession(baseDir, password string) ekv.KeyValue {
	if baseDir == "" {
		jww.WARN.Print("No session directory given; state will not persist")
		return ekv.MakeMemstore()
	}
	fs, err := ekv.NewFilestore(baseDir, password)
	if err != nil {
		jww.FATAL.Panicf("Failed to open session at %q: %+v", baseDir, err)
	}
	return fs
}

func printMessage(m message.Message) {
	when := m.Timestamp.Format(time.Stamp)
	switch {
	case m.Deleted != nil:
		fmt.Printf("[%s] %s: (deleted)\n", when, m.Sender)
	case m.Edited != nil:
		fmt.Printf("[%s] %s: %s (edited)\n", when, m.Sender, m.Content)
	default:
		fmt.Printf("[%s] %s: %s\n", when, m.Sender, m.Content)
	}
}

func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.INFO.Printf("log level set to: TRACE")
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else if threshold == 1 {
		jww.INFO.Printf("log level set to: DEBUG")
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		jww.INFO.Printf("log level set to: INFO")
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
}

func initConfig() {}

// init is the initialization function for Cobra which defines commands
// and flags.
func init() {
	// NOTE: The point of init() is to be declarative. There is one init in
	// each sub command. Do not put variable declarations here, and ensure all
	// the Flags are of the *P variety, unless there's a very good reason not
	// to have them as local params to sub command.
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().UintP(logLevelFlag, "v", 0,
		"Verbosity level for log printing (2+ = Trace, 1 = Debug, 0 = Info)")
	viper.BindPFlag(logLevelFlag,
		rootCmd.PersistentFlags().Lookup(logLevelFlag))

	rootCmd.PersistentFlags().StringP(logFlag, "l", "-",
		"Path to the log output path (- is stdout)")
	viper.BindPFlag(logFlag, rootCmd.PersistentFlags().Lookup(logFlag))

	rootCmd.PersistentFlags().StringP(sessionFlag, "s", "",
		"Sets the initial storage directory for client session data")
	viper.BindPFlag(sessionFlag,
		rootCmd.PersistentFlags().Lookup(sessionFlag))

	rootCmd.PersistentFlags().StringP(passwordFlag, "p", "",
		"Password to the session file")
	viper.BindPFlag(passwordFlag,
		rootCmd.PersistentFlags().Lookup(passwordFlag))

	rootCmd.PersistentFlags().UintP(waitTimeoutFlag, "w", 15,
		"The number of seconds to wait for the engine to become ready")
	viper.BindPFlag(waitTimeoutFlag,
		rootCmd.PersistentFlags().Lookup(waitTimeoutFlag))

	rootCmd.PersistentFlags().StringP(userFlag, "u", "",
		"Wallet address acting as the local user")
	viper.BindPFlag(userFlag, rootCmd.PersistentFlags().Lookup(userFlag))

	rootCmd.PersistentFlags().StringP(conversationFlag, "c", "",
		"Conversation id to operate on")
	viper.BindPFlag(conversationFlag,
		rootCmd.PersistentFlags().Lookup(conversationFlag))

	rootCmd.Flags().StringP(messageFlag, "m", "",
		"Message content to send to the conversation")
	viper.BindPFlag(messageFlag, rootCmd.Flags().Lookup(messageFlag))

	rootCmd.Flags().IntP(receiveCountFlag, "", 20,
		"How many of the newest messages to print after sending")
	viper.BindPFlag(receiveCountFlag,
		rootCmd.Flags().Lookup(receiveCountFlag))
}
