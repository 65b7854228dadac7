package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/channel"
	"signalclaw/pkg/config"
)

const maxAdminBodyBytes = 64 << 10

type channelState struct {
	Connected     bool   `json:"connected"`
	LastChatAt    string `json:"last_chat_at,omitempty"`
	LastInboundAt string `json:"last_inbound_at,omitempty"`
	LastSentAt    string `json:"last_sent_at,omitempty"`
	LastSendError string `json:"last_send_error,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

type statusResponse struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	RelayEnabled    bool                    `json:"relay_enabled"`
	RelayLastErr    string                  `json:"relay_last_error,omitempty"`
	UnroutedReplies int64                   `json:"unrouted_replies,omitempty"`
	Channels        map[string]channelState `json:"channels"`
}

func (s *Service) statusAddr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = config.DefaultGatewayHost
	}

	return net.JoinHostPort(host, strconv.Itoa(s.cfg.Gateway.Port))
}

func (s *Service) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /chats", s.requireAdmin(s.handleChats))
	mux.HandleFunc("GET /groups", s.requireAdmin(s.handleListGroups))
	mux.HandleFunc("PUT /groups/{jid}", s.requireAdmin(s.handleRegisterGroup))
	mux.HandleFunc("DELETE /groups/{jid}", s.requireAdmin(s.handleUnregisterGroup))
	mux.HandleFunc("POST /send", s.requireAdmin(s.handleSend))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// requireAdmin gates the admin routes. A configured token must arrive as a
// bearer credential; with no token only loopback peers are served.
func (s *Service) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	token := s.cfg.Gateway.AdminToken
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="signalclaw"`)
				_ = writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized"})
				return
			}
			next(w, r)
			return
		}

		if !isLoopbackPeer(r.RemoteAddr) {
			s.log.Warn("Rejected admin request from non-loopback peer", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			_ = writeJSON(w, http.StatusForbidden, map[string]string{"status": "error", "message": "Admin API requires gateway.admin_token for remote access"})
			return
		}
		next(w, r)
	}
}

func isLoopbackPeer(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.statusAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.statusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) handleChats(w http.ResponseWriter, r *http.Request) {
	groups, err := s.AvailableGroups(r.Context())
	if err != nil {
		s.log.Error("Failed to list available groups", "error", err)
		_ = writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Failed to list chats"})
		return
	}

	if err := writeJSON(w, http.StatusOK, groups); err != nil {
		s.log.Error("Failed to write chats response", "error", err)
	}
}

func (s *Service) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, s.registry.Snapshot()); err != nil {
		s.log.Error("Failed to write groups response", "error", err)
	}
}

func (s *Service) handleRegisterGroup(w http.ResponseWriter, r *http.Request) {
	jid := r.PathValue("jid")

	var group channel.RegisteredGroup
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAdminBodyBytes)).Decode(&group); err != nil {
		_ = writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid JSON"})
		return
	}

	if err := s.registry.Register(jid, group); err != nil {
		s.log.Warn("Failed to register group", "chat_jid", jid, "error", err)
		_ = writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	s.log.Info("Registered group", "chat_jid", jid, "folder", group.Folder)
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleUnregisterGroup(w http.ResponseWriter, r *http.Request) {
	jid := r.PathValue("jid")
	if err := s.registry.Unregister(jid); err != nil {
		s.log.Error("Failed to unregister group", "chat_jid", jid, "error", err)
		_ = writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	s.log.Info("Unregistered group", "chat_jid", jid)
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendRequest queues one outbound message as if the assistant had replied.
type sendRequest struct {
	ChatJID string `json:"chat_jid"`
	Content string `json:"content"`
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAdminBodyBytes)).Decode(&req); err != nil {
		_ = writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid JSON"})
		return
	}
	if strings.TrimSpace(req.ChatJID) == "" || strings.TrimSpace(req.Content) == "" {
		_ = writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "chat_jid and content are required"})
		return
	}

	if !s.bus.PublishOutbound(r.Context(), bus.OutboundMessage{ChatJID: req.ChatJID, Content: req.Content}) {
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "Outbound queue unavailable"})
		return
	}

	_ = writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	if err := writeJSON(w, statusCode, s.currentStatus(status)); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(payload)
}

func (s *Service) currentStatus(status string) statusResponse {
	channels := s.snapshotChannels()

	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]channelState, len(channels))
	for _, ch := range channels {
		states[ch.Name()] = s.channelStateLocked(ch)
	}

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		RelayEnabled:    s.relay != nil,
		RelayLastErr:    s.relayLastErr,
		UnroutedReplies: s.unroutedReplies,
		Channels:        states,
	}
}

// isReady requires every channel connected and no outstanding relay error.
func (s *Service) isReady() bool {
	channels := s.snapshotChannels()
	if len(channels) == 0 {
		return false
	}

	for _, ch := range channels {
		if !ch.IsConnected() {
			return false
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relayLastErr == ""
}
