package signal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const (
	aboutPath = "/v1/about"
	sendPath  = "/v2/send"

	groupRecipientPrefix = "group."
)

// SendError carries a non-success response from the send endpoint.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("Signal API send failed: %d %s", e.StatusCode, e.Body)
}

// SendTimeoutError reports a send that exceeded the send timeout.
type SendTimeoutError struct {
	JID string
}

func (e *SendTimeoutError) Error() string {
	return "Signal API timeout sending to " + e.JID
}

type sendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// apiClient talks to signal-cli-rest-api.
type apiClient struct {
	baseURL string
	http    *resty.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultSendTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// about checks the readiness endpoint.
func (c *apiClient) about(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(aboutPath)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("Signal API returned %d", resp.StatusCode())
	}

	return nil
}

func (c *apiClient) send(ctx context.Context, req sendRequest) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post(sendPath)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &SendError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	return nil
}

// recipientFor maps a chat JID to the send endpoint's recipient form.
//
// Webhooks carry the raw group id, while sends need "group." followed by the
// base64 of that id string.
func recipientFor(jid string) string {
	groupID, ok := GroupIDFromJID(jid)
	if !ok {
		return jid
	}

	return groupRecipientPrefix + base64.StdEncoding.EncodeToString([]byte(groupID))
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
