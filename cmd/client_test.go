package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/chats"
	"signalclaw/pkg/config"
)

type fakeGateway struct {
	mu     sync.Mutex
	groups map[string]channel.RegisteredGroup
	sent   []map[string]string
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	t.Helper()

	gw := &fakeGateway{groups: make(map[string]channel.RegisteredGroup)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, []chats.AvailableGroup{
			{JID: "signal-group:g2", Name: "Two", LastActivity: "2024-01-01T00:00:02.000Z"},
			{JID: "signal-group:g1", LastActivity: "2024-01-01T00:00:01.000Z", IsRegistered: true},
		})
	})
	mux.HandleFunc("GET /groups", func(w http.ResponseWriter, _ *http.Request) {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		writeTestJSON(w, http.StatusOK, gw.groups)
	})
	mux.HandleFunc("PUT /groups/{jid}", func(w http.ResponseWriter, r *http.Request) {
		var group channel.RegisteredGroup
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &group); err != nil || group.Folder == "" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "group folder is required"})
			return
		}
		gw.mu.Lock()
		gw.groups[r.PathValue("jid")] = group
		gw.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /send", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["chat_jid"] == "" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "chat_jid and content are required"})
			return
		}
		gw.mu.Lock()
		gw.sent = append(gw.sent, req)
		gw.mu.Unlock()
		writeTestJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})
	mux.HandleFunc("DELETE /groups/{jid}", func(w http.ResponseWriter, r *http.Request) {
		gw.mu.Lock()
		delete(gw.groups, r.PathValue("jid"))
		gw.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return gw, server
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestAdminClientRoundTrip(t *testing.T) {
	gw, server := newFakeGateway(t)
	client := newAdminClient(server.URL+"/", "")
	ctx := context.Background()

	groups, err := client.availableGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "signal-group:g2", groups[0].JID)
	require.True(t, groups[1].IsRegistered)

	require.NoError(t, client.register(ctx, "+15550001111", channel.RegisteredGroup{Name: "Alice", Folder: "alice"}))
	gw.mu.Lock()
	require.Contains(t, gw.groups, "+15550001111")
	gw.mu.Unlock()

	registered, err := client.registeredGroups(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice", registered["+15550001111"].Folder)

	require.NoError(t, client.unregister(ctx, "+15550001111"))
	registered, err = client.registeredGroups(ctx)
	require.NoError(t, err)
	require.Empty(t, registered)
}

func TestAdminClientSurfacesGatewayError(t *testing.T) {
	_, server := newFakeGateway(t)
	client := newAdminClient(server.URL, "")

	err := client.register(context.Background(), "+15550001111", channel.RegisteredGroup{Name: "Alice"})
	require.ErrorContains(t, err, "register +15550001111: gateway returned 400: group folder is required")
}

func TestAdminClientUnreachable(t *testing.T) {
	client := newAdminClient("http://127.0.0.1:1", "")

	_, err := client.availableGroups(context.Background())
	require.ErrorContains(t, err, "list chats")
}

func TestResolveGatewayURLPrefersFlag(t *testing.T) {
	previous := gatewayURL
	t.Cleanup(func() { gatewayURL = previous })

	gatewayURL = " http://gateway:9000 "
	require.Equal(t, "http://gateway:9000", resolveGatewayURL(nil))
}

func TestResolveGatewayURLFromConfig(t *testing.T) {
	cfg := &config.Config{Gateway: config.GatewayConfig{Host: "0.0.0.0", Port: 9100}}
	require.Equal(t, "http://127.0.0.1:9100", resolveGatewayURL(cfg))

	cfg.Gateway.Host = "10.0.0.5"
	require.Equal(t, "http://10.0.0.5:9100", resolveGatewayURL(cfg))

	require.Equal(t, "http://127.0.0.1:18790", resolveGatewayURL(nil))
}

func TestResolveAdminToken(t *testing.T) {
	t.Setenv("SIGNALCLAW_ADMIN_TOKEN", " from-env ")
	require.Equal(t, "from-env", resolveAdminToken(nil))
	require.Equal(t, "from-config", resolveAdminToken(&config.Config{Gateway: config.GatewayConfig{AdminToken: "from-config"}}))
}

func TestAdminClientSendsBearerToken(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		writeTestJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}))
	t.Cleanup(server.Close)

	require.NoError(t, newAdminClient(server.URL, "s3cret").send(context.Background(), "+15550001111", "hi"))
	require.Equal(t, "Bearer s3cret", authorization)

	require.NoError(t, newAdminClient(server.URL, "").send(context.Background(), "+15550001111", "hi"))
	require.Empty(t, authorization)
}

func TestAdminClientSurfacesUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized"})
	}))
	t.Cleanup(server.Close)

	_, err := newAdminClient(server.URL, "").registeredGroups(context.Background())
	require.ErrorContains(t, err, "list groups: gateway returned 401: Unauthorized")
}

func TestChatsCommandRendersTable(t *testing.T) {
	_, server := newFakeGateway(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"chats", "--gateway", server.URL})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		gatewayURL = ""
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "signal-group:g2")
	require.Contains(t, out.String(), "LAST ACTIVITY")
}

func TestRenderGroupsEmpty(t *testing.T) {
	require.Equal(t, "No group chats discovered yet.", renderGroups(nil))
	require.Equal(t, "No chats registered.", renderRegistered(nil))
}

func TestRenderRegisteredSortsByJID(t *testing.T) {
	out := renderRegistered(map[string]channel.RegisteredGroup{
		"signal-group:b": {Name: "B", Folder: "b"},
		"+15550001111":   {Name: "Alice", Folder: "alice"},
	})

	require.Less(t, bytes.Index([]byte(out), []byte("+15550001111")), bytes.Index([]byte(out), []byte("signal-group:b")))
}

func TestSendCommandQueuesMessage(t *testing.T) {
	gw, server := newFakeGateway(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"send", "--gateway", server.URL, "signal-group:abc", "hello", "there"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		gatewayURL = ""
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Queued message for signal-group:abc")

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Equal(t, []map[string]string{{"chat_jid": "signal-group:abc", "content": "hello there"}}, gw.sent)
}
