package chats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"signalclaw/pkg/channel"
)

// AvailableGroup is one discoverable group chat.
type AvailableGroup struct {
	JID          string `json:"jid"`
	Name         string `json:"name"`
	LastActivity string `json:"lastActivity"`
	IsRegistered bool   `json:"isRegistered"`
}

// ChatLister lists stored chat metadata.
type ChatLister interface {
	ListChats() ([]ChatRecord, error)
}

// AvailableGroups filters records to the group namespace accepted by isGroup,
// marks registration state, and orders them by most recent activity.
func AvailableGroups(records []ChatRecord, registry map[string]channel.RegisteredGroup, isGroup func(jid string) bool) []AvailableGroup {
	groups := make([]AvailableGroup, 0, len(records))
	for _, record := range records {
		if record.JID == GroupSyncJID || !isGroup(record.JID) {
			continue
		}

		_, registered := registry[record.JID]
		groups = append(groups, AvailableGroup{
			JID:          record.JID,
			Name:         record.Name,
			LastActivity: record.LastMessageTime,
			IsRegistered: registered,
		})
	}

	slices.SortStableFunc(groups, func(a, b AvailableGroup) int {
		return compareTimestamps(b.LastActivity, a.LastActivity)
	})

	return groups
}

// ListAvailableGroups runs AvailableGroups over the stored chats.
func ListAvailableGroups(lister ChatLister, registry *Registry, isGroup func(jid string) bool) ([]AvailableGroup, error) {
	records, err := lister.ListChats()
	if err != nil {
		return nil, fmt.Errorf("list available groups: %w", err)
	}

	return AvailableGroups(records, registry.Snapshot(), isGroup), nil
}

// compareTimestamps orders ISO-8601 timestamps, falling back to string order
// when either side does not parse.
func compareTimestamps(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ta.Compare(tb)
}
