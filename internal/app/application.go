// Package app wires every component together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"coursechat/internal/account"
	"coursechat/internal/api"
	"coursechat/internal/auth"
	"coursechat/internal/chat"
	"coursechat/internal/config"
	"coursechat/internal/course"
	"coursechat/internal/database"
	"coursechat/internal/message"
	"coursechat/internal/notify"
	"coursechat/internal/websocket"
	pkgdatabase "coursechat/pkg/database"
	"coursechat/pkg/interfaces"
)

// Application coordinates all system components.
// Initialization order: database → message store → auth → notifications →
// courses → chat → websocket → API → HTTP.
type Application struct {
	config     *config.Config
	log        *slog.Logger
	dbManager  *database.Manager
	store      interfaces.MessageStore
	registry   *course.Registry
	rooms      *chat.Rooms
	channel    *chat.Channel
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	addr       string
}

// NewApplication creates an application with all components initialized
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := chat.ParseRevocationPolicy(cfg.Chat.Revocation)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		log.Warn("using the development JWT secret; set COURSECHAT_JWT_SECRET")
	}

	// STEP 1: database manager and schema
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Store.DatabasePath
	dbConfig.MaxConnections = cfg.Store.MaxConnections
	dbConfig.RetryDelay = cfg.Store.RetryDelay

	dbManager, err := database.NewManager(dbConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	migrations := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsFS())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema check failed: %w", err)
	}
	versions, _ := migrations.AppliedVersions()
	log.Info("database ready", "path", dbConfig.DatabasePath, "migrations", versions)

	// STEP 2: chat message store
	store, err := openStore(cfg.Store, dbManager, log)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 3: identity, accounts, notifications, courses
	authService := auth.NewService(dbManager, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), auth.DefaultHashParams(), log)
	feed := notify.NewFeed(dbManager, log)
	registry := course.NewRegistry(dbManager, feed, log)
	gate := course.NewGate(registry)
	accounts := account.NewService(dbManager, auth.DefaultHashParams(), log)
	accounts.OnDelete(registry.ForgetUser)

	// STEP 4: rooms, channel and the revocation hook
	rooms := chat.NewRooms(log)
	chatConfig := chat.DefaultConfig()
	chatConfig.RateLimit = cfg.Chat.RateLimit
	chatConfig.RateWindow = cfg.Chat.RateWindow
	channel := chat.NewChannel(store, rooms, chatConfig, log)
	registry.OnBlock(chat.NewRevoker(rooms, policy, log))

	// STEP 5: websocket handler and API
	wsHandler := websocket.NewHandler(authService, gate, channel, rooms, websocket.HandlerConfig{
		EnforceMembership: cfg.Chat.EnforceMembership,
		Connection: websocket.ConnectionConfig{
			SendBuffer:   cfg.Chat.SendBuffer,
			WriteWait:    cfg.Chat.WriteWait,
			PongWait:     cfg.Chat.PongWait,
			PingInterval: cfg.Chat.PingInterval,
		},
	}, log)

	apiServer := api.NewServer(api.Dependencies{
		Auth:     authService,
		Accounts: accounts,
		Courses:  registry,
		Gate:     gate,
		Feed:     feed,
		History:  channel,
		Store:    store,
		Rooms:    rooms,
		Chat:     wsHandler,
	}, log)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log.With("component", "app"),
		dbManager:  dbManager,
		store:      store,
		registry:   registry,
		rooms:      rooms,
		channel:    channel,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
		addr:       httpServer.Addr,
	}, nil
}

// openStore picks the chat message backend. SQLite shares the manager that
// also holds users and courses.
func openStore(cfg config.StoreConfig, dbManager *database.Manager, log *slog.Logger) (interfaces.MessageStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return dbManager, nil
	case config.BackendMemory:
		return message.NewMemoryStore(), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return message.NewRedisStore(client, log), nil
	case config.BackendBadger:
		store, err := message.OpenBadger(cfg.BadgerDir, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// Start begins serving. The chat channel starts first so no connection can
// submit before it is ready.
func (app *Application) Start(ctx context.Context) error {
	if err := app.channel.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat channel: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.channel.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.addr = ln.Addr().String()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server error", "err", err)
		}
	}()

	app.log.Info("coursechat started", "addr", app.addr, "store", app.config.Store.Backend,
		"enforce_membership", app.config.Chat.EnforceMembership, "revocation", app.config.Chat.Revocation)
	return nil
}

// Stop shuts down in reverse order: HTTP, chat, stores
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.channel.Stop(); err != nil && !errors.Is(err, chat.ErrChannelStopped) {
		errs = append(errs, fmt.Errorf("chat channel: %w", err))
	}
	if app.store != interfaces.MessageStore(app.dbManager) {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("message store: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	app.log.Info("shutdown complete", "open_sessions", app.wsHandler.ActiveSessions())
	return errors.Join(errs...)
}

// Addr is the listening address once started
func (app *Application) Addr() string {
	return app.addr
}

// Handler exposes the HTTP surface without a listener
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// ShutdownTimeout bounds Stop when triggered by a signal
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}
