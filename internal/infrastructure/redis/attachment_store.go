package redis

import (
	"context"
	"fmt"
	"time"

	"go-ama-realtime/internal/infrastructure/hub"
)

// attachmentTTL bounds how long entries linger if a process dies without
// removing its connections.
const attachmentTTL = 24 * time.Hour

// AttachmentStore keeps connection attachments in one hash per session, so
// presence is visible to every process and survives restarts.
type AttachmentStore struct {
	client *Client
}

var _ hub.AttachmentStore = (*AttachmentStore)(nil)

func NewAttachmentStore(client *Client) *AttachmentStore {
	return &AttachmentStore{client: client}
}

func (s *AttachmentStore) hashKey(sessionID string) string {
	return s.client.key("conns", sessionID)
}

func (s *AttachmentStore) Save(ctx context.Context, sessionID, connID string, data []byte) error {
	key := s.hashKey(sessionID)
	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, connID, data)
	pipe.Expire(ctx, key, attachmentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save attachment %s/%s: %w", sessionID, connID, err)
	}
	return nil
}

func (s *AttachmentStore) Delete(ctx context.Context, sessionID, connID string) error {
	if err := s.client.rdb.HDel(ctx, s.hashKey(sessionID), connID).Err(); err != nil {
		return fmt.Errorf("delete attachment %s/%s: %w", sessionID, connID, err)
	}
	return nil
}

func (s *AttachmentStore) List(ctx context.Context, sessionID string) (map[string][]byte, error) {
	values, err := s.client.rdb.HGetAll(ctx, s.hashKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list attachments %s: %w", sessionID, err)
	}

	out := make(map[string][]byte, len(values))
	for connID, data := range values {
		out[connID] = []byte(data)
	}
	return out, nil
}
