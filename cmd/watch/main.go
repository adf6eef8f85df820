package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"go-ama-realtime/internal/client"
	"go-ama-realtime/internal/infrastructure/config"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/protocol"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a YAML config file")
		baseURL    = pflag.String("url", "ws://localhost:8080", "realtime service origin")
		sessionID  = pflag.StringP("session", "s", "", "session identifier to watch")
		visitorID  = pflag.String("visitor", "", "visitor identifier sent with the upgrade")
		admin      = pflag.Bool("admin", false, "connect as the session host")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewLogrusLogger(logger.NewDefaultConfig()).Fatalf("failed to load config: %v", err)
	}
	log := logger.NewLogrusLogger(logger.NewConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.FilePath))

	url, err := client.SessionURL(*baseURL, *sessionID, *visitorID, *admin)
	if err != nil {
		log.Fatalf("invalid session url: %v", err)
	}

	channel := client.New(url, client.Options{
		ReconnectInterval:    cfg.Client.ReconnectInterval,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Client.HeartbeatInterval,
		HandshakeTimeout:     cfg.Client.HandshakeTimeout,
	}, log)

	for _, eventType := range protocol.EventTypes {
		channel.On(eventType, func(data json.RawMessage) {
			log.WithFields(logger.Fields{
				"session_id": *sessionID,
				"event":      eventType,
			}).Info(string(data))
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = channel.Connect(func(connected bool) {
		switch {
		case connected:
			log.Infof("Watching session %s", *sessionID)
		case channel.ReconnectFailed():
			log.Error("Gave up reconnecting")
			stop()
		default:
			log.Warn("Disconnected, reconnecting")
		}
	})
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	<-ctx.Done()
	if err := channel.Disconnect(); err != nil {
		log.Debugf("close: %v", err)
	}
}
