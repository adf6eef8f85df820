package facade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/inbound"
	"go-ama-realtime/internal/protocol"
)

var ErrTriggerRejected = errors.New("broadcast trigger rejected")

// HTTPTrigger publishes events to a remote realtime service through its
// internal broadcast endpoint.
type HTTPTrigger struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

var _ inbound.BroadcastUseCase = (*HTTPTrigger)(nil)

// NewHTTPTrigger targets the service at baseURL, e.g. http://realtime:8080.
// A nil client gets a 10s timeout.
func NewHTTPTrigger(baseURL string, client *http.Client, log logger.Logger) *HTTPTrigger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTrigger{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  log.WithField("service", "http_trigger"),
	}
}

// BroadcastURL is the internal endpoint for one session.
func BroadcastURL(baseURL, sessionID, excludeConnID string) string {
	u := strings.TrimSuffix(baseURL, "/") + "/internal/sessions/" + url.PathEscape(sessionID) + "/broadcast"
	if excludeConnID != "" {
		u += "?" + url.Values{"exclude": {excludeConnID}}.Encode()
	}
	return u
}

func (t *HTTPTrigger) Publish(
	ctx context.Context,
	sessionID string,
	ev protocol.Event,
	excludeConnID string,
) error {
	if sessionID == "" {
		return errors.New("session identifier is required")
	}
	body, err := ev.Encode()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		BroadcastURL(t.baseURL, sessionID, excludeConnID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post broadcast: %w", err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", ErrTriggerRejected, resp.Status, strings.TrimSpace(string(msg)))
	}

	t.logger.Debugf("Triggered %s for session %s", ev.Type, sessionID)
	return nil
}
