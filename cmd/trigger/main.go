package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/pflag"

	"go-ama-realtime/internal/application/facade"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

// trigger posts one domain event to a running service, the way a mutation
// handler does after a successful write.
func main() {
	var (
		baseURL   = pflag.String("url", "http://localhost:8080", "realtime service origin")
		sessionID = pflag.StringP("session", "s", "", "session identifier")
		eventType = pflag.StringP("type", "t", "", "event type, e.g. vote_changed")
		data      = pflag.StringP("data", "d", "{}", "event data as JSON")
		exclude   = pflag.String("exclude", "", "connection id to skip")
		timeout   = pflag.Duration("timeout", 10*time.Second, "request timeout")
	)
	pflag.Parse()

	log := logger.NewLogrusLogger(logger.NewDefaultConfig())

	t, err := protocol.ParseEventType(*eventType)
	if err != nil {
		log.Fatalf("invalid event type: %v", err)
	}
	ev := protocol.Event{Type: t, Data: json.RawMessage(*data)}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	trigger := facade.NewHTTPTrigger(*baseURL, nil, log)
	if err := trigger.Publish(ctx, *sessionID, ev, *exclude); err != nil {
		log.Fatalf("broadcast failed: %v", err)
	}
	log.Infof("Broadcast %s to session %s", t, *sessionID)
}
