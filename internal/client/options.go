package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// maxBackoffMultiplier caps the linear backoff at five times the base interval.
const maxBackoffMultiplier = 5

var ErrChannelClosed = errors.New("channel closed")

// Options tunes a Channel. Zero fields take the DefaultOptions value.
type Options struct {
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds automatic reconnects after a drop or a
	// failed dial. A negative value disables reconnection.
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = d.ReconnectInterval
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	return o
}

// ReconnectDelay is the wait before reconnect attempt k (1-based):
// base * min(k, 5).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxBackoffMultiplier {
		attempt = maxBackoffMultiplier
	}
	return base * time.Duration(attempt)
}

// SessionURL builds the upgrade URL for a session. base is the hub origin,
// e.g. ws://localhost:8080.
func SessionURL(base, sessionID, visitorID string, admin bool) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/ws/" + url.PathEscape(sessionID)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + sessionID
	q := u.Query()
	if visitorID != "" {
		q.Set("visitorId", visitorID)
	}
	if admin {
		q.Set("admin", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
