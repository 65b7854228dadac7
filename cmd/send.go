package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <jid> <message>",
	Short: "Send a message through a running gateway",
	Long:  "Queues one outbound message on a running gateway. It is routed to the channel that owns the JID.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jid := strings.TrimSpace(args[0])
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return errors.New("message is empty")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), adminRequestTimeout)
		defer cancel()

		if err := dialGateway().send(ctx, jid, text); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Queued message for %s\n", jid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
