package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/suPer8Hu/genbi-gateway/internal/app"
	"github.com/suPer8Hu/genbi-gateway/internal/backend"
	"github.com/suPer8Hu/genbi-gateway/internal/chat"
	"github.com/suPer8Hu/genbi-gateway/internal/config"
	"github.com/suPer8Hu/genbi-gateway/internal/db"
	"github.com/suPer8Hu/genbi-gateway/internal/query"
	"github.com/suPer8Hu/genbi-gateway/internal/store/redisstore"
	"github.com/suPer8Hu/genbi-gateway/internal/wsconn"
	"go.uber.org/zap"
)

// gateway is the assembled object graph shared by serve and ask.
type gateway struct {
	app        *app.App
	dispatcher *app.Dispatcher
	conn       *wsconn.Conn
	client     *backend.Client

	closers []func() error
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

type wireOptions struct {
	// persist enables the gorm session cache
	persist bool
}

func wire(ctx context.Context, cfg config.Config, logger *zap.Logger, opts wireOptions) (*gateway, error) {
	g := &gateway{}

	var persister chat.Persister
	if opts.persist && cfg.DBDSN != "" {
		gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		repo := chat.NewRepo(gdb)
		if err := repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			g.closers = append(g.closers, sqlDB.Close)
		}
		persister = repo
	}

	var cfgStore query.Store = query.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, query config kept in memory", zap.Error(err))
			_ = rds.Close()
		} else {
			cfgStore = rds
			g.closers = append(g.closers, rds.Close)
		}
	}

	store, err := chat.NewStore(ctx, persister, logger.Named("store"))
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	settings, err := query.LoadSettings(ctx, cfgStore, cfg.UserID, cfg.ProfileName)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("query settings: %w", err)
	}

	g.client = backend.NewClient(cfg.BackendURL)
	g.app = app.New(app.Options{
		Store:    store,
		Settings: settings,
		Identity: app.Identity{
			UserID:      cfg.UserID,
			Username:    cfg.Username,
			ProfileName: cfg.ProfileName,
		},
		Backend: g.client,
		Logger:  logger,
	})
	g.client.Creds = g.app.Credentials
	if cfg.BackendAccessToken != "" {
		creds := g.app.Credentials()
		creds.AccessToken = cfg.BackendAccessToken
		g.app.SetCredentials(creds)
	}

	router := app.NewRouter(g.app)
	g.conn = wsconn.New(wsconn.Options{
		URL:            cfg.BackendWSURL,
		Header:         http.Header{},
		MaxRetries:     cfg.WSMaxRetries,
		InitialBackoff: cfg.WSInitialBackoff,
		MaxBackoff:     cfg.WSMaxBackoff,
		PingInterval:   cfg.WSHeartbeat,
		OnMessage:      router.HandleFrame,
		OnStateChange:  g.app.ConnectionChanged,
		OnError: func(err error) {
			logger.Warn("upstream socket error", zap.Error(err))
		},
		OnGiveUp: g.app.ConnectionLost,
		Logger:   logger.Named("wsconn"),
	})
	g.closers = append(g.closers, g.conn.Close)

	g.dispatcher = app.NewDispatcher(g.app, g.conn, cfg.QueryTimeout)
	return g, nil
}
