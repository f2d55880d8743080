// cmd/deck-engine — 会话事件处理引擎主入口。
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentdeck/go-deck-v2/internal/agentproc"
	"github.com/agentdeck/go-deck-v2/internal/bus"
	"github.com/agentdeck/go-deck-v2/internal/config"
	"github.com/agentdeck/go-deck-v2/internal/dashboard"
	"github.com/agentdeck/go-deck-v2/internal/database"
	"github.com/agentdeck/go-deck-v2/internal/engine"
	"github.com/agentdeck/go-deck-v2/internal/remote"
	"github.com/agentdeck/go-deck-v2/internal/store"
	"github.com/agentdeck/go-deck-v2/pkg/logger"
	"github.com/agentdeck/go-deck-v2/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.Init(cfg.LogLevel)
	}

	// 持久层可选: 未配置连接串时引擎以纯内存模式运行
	var persist engine.Persistence
	var stores *dashboard.Stores
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database init failed", logger.FieldError, err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}

		sessionStore := store.NewSessionStore(pool)
		eventStore := store.NewEventLogStore(pool)
		usageStore := store.NewUsageStore(pool)
		persist = engine.NewStorePersistence(sessionStore, eventStore, usageStore, 5*time.Second)
		stores = &dashboard.Stores{
			Session:  sessionStore,
			EventLog: eventStore,
			Usage:    usageStore,
		}
	} else {
		logger.Warn("running without persistence (POSTGRES_CONNECTION_STRING not set)")
	}

	mbus := bus.NewMessageBus()

	agent := agentproc.NewClient(cfg.AgentCommand, "deck-agent",
		agentproc.WithScanBuffer(cfg.AgentScanBufKiB),
		agentproc.WithSpawnWait(time.Duration(cfg.AgentSpawnSec)*time.Second),
	)

	eng := engine.New(cfg, agent, persist, mbus)
	agent.SetEventHandler(eng.HandleEvent)
	agent.SetExitHandler(func(err error) {
		logger.Error("agent process exited", logger.FieldError, err)
		cancel()
	})

	if err := agent.Spawn(ctx); err != nil {
		logger.Fatal("agent spawn failed", logger.FieldError, err)
	}
	eng.Start()
	eng.Restore()

	srv := dashboard.NewServer(eng, stores, mbus)
	util.SafeGo("dashboard.http", func() {
		logger.Infow("dashboard starting", logger.FieldAddr, cfg.DashboardAddr)
		if err := srv.Run(cfg.DashboardAddr); err != nil {
			logger.Fatal("dashboard failed", logger.FieldError, err)
		}
	})

	sync := remote.NewClient(cfg, eng, mbus)
	sync.Start()

	<-ctx.Done()
	logger.Info("shutting down")
	sync.Shutdown()
	eng.Shutdown()
	if err := agent.Shutdown(); err != nil {
		logger.Warn("agent shutdown", logger.FieldError, err)
	}
}
