package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/chats"
	"signalclaw/pkg/config"
)

const adminRequestTimeout = 10 * time.Second

var gatewayURL string

// adminClient talks to a running gateway's status server.
type adminClient struct {
	http *resty.Client
}

type adminError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newAdminClient(baseURL, token string) *adminClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(adminRequestTimeout).
		SetError(&adminError{})
	if token != "" {
		client.SetAuthToken(token)
	}

	return &adminClient{http: client}
}

// dialGateway builds a client for the running gateway named by flags and
// config.
func dialGateway() *adminClient {
	// Without a config file the defaults and environment still apply.
	cfg, _ := config.LoadConfig()
	return newAdminClient(resolveGatewayURL(cfg), resolveAdminToken(cfg))
}

// resolveGatewayURL prefers the --gateway flag, then the configured status
// server address.
func resolveGatewayURL(cfg *config.Config) string {
	if value := strings.TrimSpace(gatewayURL); value != "" {
		return value
	}

	host := config.DefaultGatewayHost
	port := config.DefaultGatewayPort
	if cfg != nil {
		if h := strings.TrimSpace(cfg.Gateway.Host); h != "" && h != "0.0.0.0" && h != "::" {
			host = h
		}
		port = cfg.Gateway.Port
	}

	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// resolveAdminToken reads the admin token from config, or from the
// environment when no config file is present.
func resolveAdminToken(cfg *config.Config) string {
	if cfg != nil {
		return cfg.Gateway.AdminToken
	}

	return strings.TrimSpace(os.Getenv("SIGNALCLAW_ADMIN_TOKEN"))
}

func (c *adminClient) availableGroups(ctx context.Context) ([]chats.AvailableGroup, error) {
	var groups []chats.AvailableGroup
	resp, err := c.http.R().SetContext(ctx).SetResult(&groups).Get("/chats")
	if err := checkResponse(resp, err, "list chats"); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *adminClient) registeredGroups(ctx context.Context) (map[string]channel.RegisteredGroup, error) {
	groups := make(map[string]channel.RegisteredGroup)
	resp, err := c.http.R().SetContext(ctx).SetResult(&groups).Get("/groups")
	if err := checkResponse(resp, err, "list groups"); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *adminClient) register(ctx context.Context, jid string, group channel.RegisteredGroup) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("jid", jid).
		SetBody(group).
		Put("/groups/{jid}")
	return checkResponse(resp, err, "register "+jid)
}

func (c *adminClient) unregister(ctx context.Context, jid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("jid", jid).
		Delete("/groups/{jid}")
	return checkResponse(resp, err, "unregister "+jid)
}

func checkResponse(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	if apiErr, ok := resp.Error().(*adminError); ok && apiErr.Message != "" {
		return fmt.Errorf("%s: gateway returned %d: %s", action, resp.StatusCode(), apiErr.Message)
	}
	return fmt.Errorf("%s: gateway returned %d", action, resp.StatusCode())
}

func (c *adminClient) send(ctx context.Context, jid string, text string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_jid": jid, "content": text}).
		Post("/send")
	return checkResponse(resp, err, "send to "+jid)
}
