package facade

import (
	"context"
	"fmt"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/inbound"
	"go-ama-realtime/internal/protocol"
)

// BroadcastApplicationService triggers broadcasts on the hub router running
// in this process.
type BroadcastApplicationService struct {
	router *hub.Router
	logger logger.Logger
}

var _ inbound.BroadcastUseCase = (*BroadcastApplicationService)(nil)

func NewBroadcastApplicationService(router *hub.Router, log logger.Logger) *BroadcastApplicationService {
	return &BroadcastApplicationService{
		router: router,
		logger: log.WithField("service", "broadcast"),
	}
}

func (s *BroadcastApplicationService) Publish(
	ctx context.Context,
	sessionID string,
	ev protocol.Event,
	excludeConnID string,
) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := s.router.Broadcast(ctx, sessionID, ev, excludeConnID); err != nil {
		return fmt.Errorf("broadcast %s to session %s: %w", ev.Type, sessionID, err)
	}
	s.logger.Debugf("Published %s to session %s", ev.Type, sessionID)
	return nil
}
