package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"signalclaw/pkg/chats"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("88")).Padding(0, 1)
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
	registeredStyle = cellStyle.Foreground(lipgloss.Color("42"))
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List Signal group chats seen by the gateway",
	Long:  "Queries a running gateway for discovered Signal group chats, most recently active first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		ctx, cancel := context.WithTimeout(cmd.Context(), adminRequestTimeout)
		defer cancel()

		groups, err := dialGateway().availableGroups(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderGroups(groups))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway status server URL (default from config)")
	rootCmd.AddCommand(chatsCmd)
}

func renderGroups(groups []chats.AvailableGroup) string {
	if len(groups) == 0 {
		return "No group chats discovered yet."
	}

	rows := make([][]string, 0, len(groups))
	for _, group := range groups {
		rows = append(rows, []string{group.JID, group.Name, group.LastActivity, strconv.FormatBool(group.IsRegistered)})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("JID", "NAME", "LAST ACTIVITY", "REGISTERED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3 && row >= 0 && row < len(groups) && groups[row].IsRegistered:
				return registeredStyle
			default:
				return cellStyle
			}
		}).
		String()
}
