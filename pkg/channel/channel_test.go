package channel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type prefixChannel struct {
	name   string
	prefix string
}

func (c prefixChannel) Name() string                                      { return c.name }
func (c prefixChannel) Connect(context.Context) error                     { return nil }
func (c prefixChannel) Disconnect(context.Context) error                  { return nil }
func (c prefixChannel) SendMessage(context.Context, string, string) error { return nil }
func (c prefixChannel) IsConnected() bool                                 { return true }
func (c prefixChannel) OwnsJID(jid string) bool                           { return strings.HasPrefix(jid, c.prefix) }
func (c prefixChannel) SetTyping(context.Context, string, bool) error     { return nil }
func (c prefixChannel) PrefixAssistantName() bool                         { return false }

func TestFindOwner(t *testing.T) {
	channels := []Channel{
		prefixChannel{name: "signal", prefix: "signal-group:"},
		prefixChannel{name: "telegram", prefix: "tg:"},
	}

	owner, ok := FindOwner(channels, "tg:42")
	require.True(t, ok)
	require.Equal(t, "telegram", owner.Name())

	_, ok = FindOwner(channels, "12345@g.us")
	require.False(t, ok)
}

func TestCallbacksValidate(t *testing.T) {
	require.Error(t, Callbacks{}.Validate())

	valid := Callbacks{
		OnMessage:      func(string, InboundMessage) {},
		OnChatMetadata: func(string, string) {},
		Registry:       func() map[string]RegisteredGroup { return nil },
	}
	require.NoError(t, valid.Validate())

	valid.Registry = nil
	require.ErrorContains(t, valid.Validate(), "registry")
}

func TestPreview(t *testing.T) {
	if got := Preview(" hello ", 10); got != "hello" {
		t.Fatalf("Preview short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", 60)
	got := Preview(long, 50)
	if len(got) != 53 {
		t.Fatalf("Preview long len = %d, want 53", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("Preview long = %q, want ellipsis suffix", got)
	}

	if got := Preview("héllo wörld", 5); got != "héllo..." {
		t.Fatalf("Preview multibyte = %q, want %q", got, "héllo...")
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 1, 1, 1, 2, 3, 456_000_000, time.FixedZone("CET", 3600))
	require.Equal(t, "2024-01-01T00:02:03.456Z", FormatTime(ts))
}
