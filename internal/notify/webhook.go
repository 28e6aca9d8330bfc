package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the delivery endpoint rejected the credentials.
var ErrUnauthorized = errors.New("notification unauthorized")

// ErrInvalidArgument indicates the delivery endpoint rejected the payload.
var ErrInvalidArgument = errors.New("notification invalid argument")

// ErrUnknownRecipient indicates the delivery endpoint could not resolve the address.
var ErrUnknownRecipient = errors.New("notification recipient unknown")

// WebhookSender posts messages as JSON to an external delivery service.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a sender for the given endpoint. A zero timeout
// falls back to five seconds.
func NewWebhookSender(url, token string, timeout time.Duration, client *http.Client) (*WebhookSender, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("notification webhook url required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	return &WebhookSender{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		now:    time.Now,
	}, nil
}

type webhookPayload struct {
	Address string `json:"address"`
	Message
}

// Send delivers one message.
func (w *WebhookSender) Send(ctx context.Context, address string, msg Message) error {
	if w == nil {
		return errors.New("notification webhook not initialised")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = w.now().UTC()
	}
	body, err := json.Marshal(webhookPayload{Address: address, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, summary)
	default:
		return fmt.Errorf("notification request failed: %s", summary)
	}
}
