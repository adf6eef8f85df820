package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SessionDirectory records which sessions are open. The connection path asks
// it before handing an upgrade to the hub router.
//
// The data layer owns the entries. A session is open while the key
// <prefix>:session:<sessionId> exists; the value is unused (Register stores
// the expiry as Unix seconds) and the key's TTL is the session's remaining
// lifetime. Any writer that sets that key with a TTL, in any language, opens
// a session. Register and Remove are the Go-side helpers for the same
// contract.
type SessionDirectory struct {
	client *Client
}

func NewSessionDirectory(client *Client) *SessionDirectory {
	return &SessionDirectory{client: client}
}

func (d *SessionDirectory) sessionKey(sessionID string) string {
	return d.client.key("session", sessionID)
}

// Register marks sessionID as open until ttl elapses.
func (d *SessionDirectory) Register(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("register session %s: ttl must be positive", sessionID)
	}
	if err := d.client.rdb.Set(ctx, d.sessionKey(sessionID), time.Now().Add(ttl).Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("register session %s: %w", sessionID, err)
	}
	return nil
}

// Remove ends a session early.
func (d *SessionDirectory) Remove(ctx context.Context, sessionID string) error {
	if err := d.client.rdb.Del(ctx, d.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("remove session %s: %w", sessionID, err)
	}
	return nil
}

// SessionActive reports whether sessionID exists and has not expired.
func (d *SessionDirectory) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	err := d.client.rdb.Get(ctx, d.sessionKey(sessionID)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	return true, nil
}
