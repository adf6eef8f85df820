package outbound

import "context"

// SessionValidator answers whether a session exists and has not expired.
// It is consulted before an upgrade request reaches the hub router.
type SessionValidator interface {
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// AllowAllSessions accepts every identifier. Used when session validity is
// enforced in front of this service.
type AllowAllSessions struct{}

func (AllowAllSessions) SessionActive(context.Context, string) (bool, error) {
	return true, nil
}
