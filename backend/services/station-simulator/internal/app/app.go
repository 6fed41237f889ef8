package app

import (
	"context"
	"database/sql"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargesim/backend/libs/db"
	libredis "chargesim/backend/libs/redis"
	"chargesim/backend/services/station-simulator/internal/config"
	"chargesim/backend/services/station-simulator/internal/perf"
	"chargesim/backend/services/station-simulator/internal/repository"
	"chargesim/backend/services/station-simulator/internal/simulator"
	"chargesim/backend/services/station-simulator/internal/statusstore"
	"chargesim/backend/services/station-simulator/internal/uiserver"
	"chargesim/backend/services/station-simulator/internal/ws"
)

// App wires all dependencies for the station simulator.
type App struct {
	simulator *simulator.Simulator
	ui        *uiserver.Server
	db        *sql.DB
	redis     *goredis.Client
	logger    *zap.Logger
}

// New builds the application graph. Postgres and redis are optional.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	stats := perf.NewStatistics()
	wsOpts := ws.Options{WriteTimeout: cfg.WriteTimeout(), PingInterval: cfg.PingInterval()}

	opts := simulator.Options{
		CentralSystemURL:  cfg.CentralSystem.URL,
		Username:          cfg.CentralSystem.Username,
		Password:          cfg.CentralSystem.Password,
		CallTimeout:       cfg.CentralSystem.CallTimeout,
		HeartbeatInterval: cfg.CentralSystem.HeartbeatInterval,
		ReconnectDelay:    cfg.CentralSystem.ReconnectDelay,
		StartDelay:        cfg.Stations.StartDelay,
		WebSocket:         wsOpts,
		Statistics:        stats,
	}

	var transactions *repository.TransactionRepository
	if cfg.Database.DSN != "" {
		sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN, repository.Schema...)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		transactions = repository.NewTransactionRepository(sqlDB)
		opts.MessageLog = repository.NewOCPPLogRepository(sqlDB)
		opts.History = transactions
		logger.Info("ocpp message log and transaction history enabled")
	}

	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		opts.StatusStore = statusstore.NewStore(client, cfg.Redis.StatusTTL)
		logger.Info("generator status persistence enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	sim, err := simulator.New(cfg.Stations.Templates, opts, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.simulator = sim

	if cfg.UI.Enabled {
		// A nil *TransactionRepository must not become a non-nil interface.
		var lister uiserver.TransactionLister
		if transactions != nil {
			lister = transactions
		}
		ui, err := uiserver.NewServer(uiserver.Config{
			Addr:      cfg.UIAddress(),
			Auth:      cfg.UI.Auth,
			WebSocket: wsOpts,
		}, uiserver.NewProcessor(sim, lister, logger), stats.Handler(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ui = ui
	}

	return a, nil
}

// Run starts the stations and the UI server until ctx ends.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.simulator.Run(gctx) })
	if a.ui != nil {
		g.Go(func() error { return a.ui.Run(gctx) })
	}
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
