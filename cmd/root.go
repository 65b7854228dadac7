package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "signalclaw",
	Short: "Messaging gateway bridging Signal and Telegram to an assistant",
	Long: `SignalClaw receives messages from signal-cli-rest-api and Telegram,
forwards messages from registered chats to an assistant over AMQP, and
sends the assistant's replies back to the originating chat.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
