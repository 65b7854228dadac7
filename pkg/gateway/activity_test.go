package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/config"
)

func TestRecordEventTracksChannelActivity(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.svc.AddChannel(&fakeChannel{name: "signal", jidPrefix: "+", connected: true})
	at := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

	env.svc.recordEvent(bus.Event{Type: bus.EventChatObserved, Channel: "signal", At: at})
	env.svc.recordEvent(bus.Event{Type: bus.EventMessageReceived, Channel: "signal", At: at.Add(time.Second)})
	env.svc.recordEvent(bus.Event{Type: bus.EventSendFailed, Channel: "signal", At: at.Add(2 * time.Second), Error: "Signal API send failed: 400"})
	env.svc.recordEvent(bus.Event{Type: bus.EventSendFailed, At: at, Error: "no channel owns chat"})

	status := env.svc.currentStatus("ok")
	require.Equal(t, int64(1), status.UnroutedReplies)
	require.Equal(t, channelState{
		Connected:     true,
		LastChatAt:    "2024-01-01T00:00:01.000Z",
		LastInboundAt: "2024-01-01T00:00:02.000Z",
		LastSendError: "Signal API send failed: 400",
	}, status.Channels["signal"])

	env.svc.recordEvent(bus.Event{Type: bus.EventMessageSent, Channel: "signal", At: at.Add(3 * time.Second)})
	env.svc.recordEvent(bus.Event{Type: bus.EventChannelState, Channel: "signal", Error: "webhook closed"})

	state := env.svc.currentStatus("ok").Channels["signal"]
	require.Empty(t, state.LastSendError)
	require.Equal(t, "2024-01-01T00:00:04.000Z", state.LastSentAt)
	require.Equal(t, "webhook closed", state.LastError)
}

func TestGatewayServiceRunReportsSendFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freeTCPPort(t)
	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: port, AssistantName: "Andy"}}
	r := newFakeRelay()
	env := newTestEnv(t, cfg, r)

	signalCh := &fakeChannel{name: "signal", jidPrefix: "+", sendErr: errors.New("Signal API send failed: 500 boom")}
	env.svc.AddChannel(signalCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.svc.Run(ctx)
	}()

	require.Eventually(t, signalCh.IsConnected, 3*time.Second, 10*time.Millisecond)

	r.replies <- bus.OutboundMessage{ChatJID: "+15550001111", Content: "pong"}
	r.replies <- bus.OutboundMessage{ChatJID: "tg:42", Content: "lost"}

	statusURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var status statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.UnroutedReplies == 1 &&
			status.Channels["signal"].LastSendError == "Signal API send failed: 500 boom"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}
