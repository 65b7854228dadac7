package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"signalclaw/pkg/channel"
)

var (
	groupName            string
	groupFolder          string
	groupTrigger         string
	groupRequiresTrigger bool
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage registered chats on a running gateway",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		ctx, cancel := context.WithTimeout(cmd.Context(), adminRequestTimeout)
		defer cancel()

		groups, err := dialGateway().registeredGroups(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderRegistered(groups))
		return nil
	},
}

var groupsRegisterCmd = &cobra.Command{
	Use:   "register <jid>",
	Short: "Register a chat so its messages reach the assistant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jid := strings.TrimSpace(args[0])
		group := channel.RegisteredGroup{
			Name:    strings.TrimSpace(groupName),
			Folder:  strings.TrimSpace(groupFolder),
			Trigger: strings.TrimSpace(groupTrigger),
		}
		if cmd.Flags().Changed("requires-trigger") {
			group.RequiresTrigger = &groupRequiresTrigger
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), adminRequestTimeout)
		defer cancel()

		if err := dialGateway().register(ctx, jid, group); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", jid)
		return nil
	},
}

var groupsUnregisterCmd = &cobra.Command{
	Use:   "unregister <jid>",
	Short: "Stop forwarding a chat's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jid := strings.TrimSpace(args[0])

		ctx, cancel := context.WithTimeout(cmd.Context(), adminRequestTimeout)
		defer cancel()

		if err := dialGateway().unregister(ctx, jid); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", jid)
		return nil
	},
}

func init() {
	groupsRegisterCmd.Flags().StringVar(&groupName, "name", "", "display name")
	groupsRegisterCmd.Flags().StringVar(&groupFolder, "folder", "", "assistant workspace folder (required)")
	groupsRegisterCmd.Flags().StringVar(&groupTrigger, "trigger", "", "trigger word, e.g. @Andy")
	groupsRegisterCmd.Flags().BoolVar(&groupRequiresTrigger, "requires-trigger", true, "only answer messages carrying the trigger")
	_ = groupsRegisterCmd.MarkFlagRequired("folder")

	groupsCmd.AddCommand(groupsListCmd, groupsRegisterCmd, groupsUnregisterCmd)
	rootCmd.AddCommand(groupsCmd)
}

func renderRegistered(groups map[string]channel.RegisteredGroup) string {
	if len(groups) == 0 {
		return "No chats registered."
	}

	rows := make([][]string, 0, len(groups))
	for _, jid := range slices.Sorted(maps.Keys(groups)) {
		group := groups[jid]
		rows = append(rows, []string{jid, group.Name, group.Folder, group.Trigger, group.AddedAt})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("JID", "NAME", "FOLDER", "TRIGGER", "ADDED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}
