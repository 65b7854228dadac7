package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	webhookPath = "/webhook/signal"
	healthPath  = "/health"

	webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// webhookServer receives signal-cli-rest-api callbacks.
type webhookServer struct {
	echo   *echo.Echo
	server *http.Server
	ln     net.Listener
	log    *slog.Logger
	handle func(body []byte)
	done   chan struct{}
}

func newWebhookServer(handle func(body []byte), log *slog.Logger) *webhookServer {
	s := &webhookServer{
		echo:   echo.New(),
		log:    log,
		handle: handle,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.GET(healthPath, s.handleHealth)
	s.echo.POST(webhookPath, s.handleWebhook)

	return s
}

// start binds addr before returning so bind failures surface to the caller.
func (s *webhookServer) start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.ln = ln
	s.server = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Signal webhook server error", "error", err)
		}
	}()

	s.log.Info("Signal webhook server listening", "address", ln.Addr().String())
	return nil
}

// shutdown stops accepting and returns once the serve loop has exited.
func (s *webhookServer) shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	if err != nil {
		_ = s.server.Close()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.log.Info("Signal webhook server closed")
	return err
}

func (s *webhookServer) addr() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

func (s *webhookServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func (s *webhookServer) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		s.log.Error("Failed to read Signal webhook body", "error", err)
		return c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "Unreadable body"})
	}
	if int64(len(body)) > webhookMaxBodyBytes {
		s.log.Warn("Rejecting oversized Signal webhook body", "limit", webhookMaxBodyBytes)
		return c.JSON(http.StatusRequestEntityTooLarge, statusResponse{Status: "error", Message: "Payload too large"})
	}

	if !json.Valid(body) {
		s.log.Error("Failed to parse Signal webhook payload", "body", string(body))
		return c.JSON(http.StatusBadRequest, statusResponse{Status: "error", Message: "Invalid JSON"})
	}

	s.handle(body)

	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

// handleError answers unknown routes and methods with 404.
func (s *webhookServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
	}

	response := statusResponse{Status: "error"}
	switch code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		code = http.StatusNotFound
		response = statusResponse{Status: "not found"}
	default:
		s.log.Error("Signal webhook request failed", "error", err)
	}

	if writeErr := c.JSON(code, response); writeErr != nil {
		s.log.Error("Failed to write webhook error response", "error", writeErr)
	}
}
