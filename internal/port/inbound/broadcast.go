package inbound

import (
	"context"

	"go-ama-realtime/internal/protocol"
)

// BroadcastUseCase is what mutation handlers call once a change visible to
// session participants has been persisted. One call per successful mutation.
type BroadcastUseCase interface {
	// Publish delivers ev to every connection of the session except
	// excludeConnID, which may be empty.
	Publish(ctx context.Context, sessionID string, ev protocol.Event, excludeConnID string) error
}
