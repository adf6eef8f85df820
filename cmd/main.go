package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"go-ama-realtime/internal/application/facade"
	"go-ama-realtime/internal/infrastructure/config"
	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/infrastructure/redis"
	"go-ama-realtime/internal/infrastructure/server"
	"go-ama-realtime/internal/port/outbound"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	ctx := context.Background()
	sctx := WithSignal(ctx)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewLogrusLogger(logger.NewDefaultConfig()).Fatalf("failed to load config: %v", err)
	}

	log := logger.NewLogrusLogger(logger.NewConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.FilePath))
	if logger.ParseLevel(cfg.Log.Level) != logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := hub.RouterConfig{
		Hub: hub.Options{
			SendBufferSize:    cfg.Hub.SendBufferSize,
			WriteTimeout:      cfg.Hub.WriteTimeout,
			PongTimeout:       cfg.Hub.PongTimeout,
			PingInterval:      cfg.Hub.PingInterval,
			CleanupInterval:   cfg.Hub.CleanupInterval,
			MaxBroadcastBytes: cfg.Hub.MaxBroadcastBytes,
		},
		IdleEvictAfter:  cfg.Hub.IdleEvictAfter,
		JanitorInterval: cfg.Hub.JanitorInterval,
	}

	var sessions outbound.SessionValidator = outbound.AllowAllSessions{}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err := redisClient.Ping(ctx); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		routerCfg.Bus = redis.NewBus(redisClient, log)
		routerCfg.Store = redis.NewAttachmentStore(redisClient)
		if cfg.Hub.ValidateSessions {
			sessions = redis.NewSessionDirectory(redisClient)
		}
		log.Infof("redis enabled at %s, hubs are shared across processes", cfg.Redis.Addr)
	}

	hubRouter := hub.NewRouter(routerCfg, log)
	if err := hubRouter.Start(sctx); err != nil {
		log.Errorf("failed to start hub router: %v", err)
		return
	}

	broadcaster := facade.NewBroadcastApplicationService(hubRouter, log)
	router := InitRouter(hubRouter, sessions, broadcaster, log)
	httpSrv := server.NewHTTPServer(server.HTTPConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, router, log)

	app := newApplication(log, cfg, httpSrv, hubRouter, redisClient)
	if err := app.Run(sctx); err != nil {
		log.Errorf("failed to run application: %v", err)
	}
}

type Application struct {
	logger  logger.Logger
	cfg     *config.Config
	httpSrv server.Server
	router  *hub.Router
	redis   *redis.Client
}

func newApplication(
	logger logger.Logger,
	cfg *config.Config,
	httpSrv server.Server,
	hubRouter *hub.Router,
	redisClient *redis.Client,
) *Application {
	return &Application{
		logger:  logger.WithField("app", "ama-realtime"),
		cfg:     cfg,
		httpSrv: httpSrv,
		router:  hubRouter,
		redis:   redisClient,
	}
}

func (app *Application) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	eg.Go(func() error {
		return app.httpSrv.Start(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			app.cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		// Stop hubs first so clients see a close frame and reconnect elsewhere
		if err := app.router.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub router: %v", err)
		}

		if app.redis != nil {
			defer app.redis.Close()
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	return eg.Wait()
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
