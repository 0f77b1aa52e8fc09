package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/teamtalk/internal/cache"
	"github.com/teamtalk/internal/config"
	"github.com/teamtalk/internal/handler"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/middleware"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/service"
	"github.com/teamtalk/internal/startup"
	"github.com/teamtalk/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting api service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer bootCancel()

	pool, err := startup.ConnectDBWithRetry(bootCtx, cfg.Database.URL, cfg.DBMaxConnections())
	if err != nil {
		logger.Errorf("database: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := startup.RunMigrations(bootCtx, pool); err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	logger.Info("database connected, migrations applied")
	if *migrate && !*dev {
		return
	}

	rdb, err := startup.ConnectRedisWithRetry(bootCtx, cfg.Redis.URL)
	if err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}
	defer rdb.Close()
	cacheClient := cache.NewFromClient(rdb)

	// The broker is optional: without it notifications degrade, messaging
	// does not.
	var publisher *notify.Publisher
	if conn, err := startup.ConnectAMQPWithRetry(bootCtx, cfg.AMQP.URL); err != nil {
		logger.Errorf("amqp unavailable, notification intents disabled: %v", err)
	} else {
		defer conn.Close()
		publisher, err = notify.NewPublisher(conn, cfg.AMQP.Queue)
		if err != nil {
			logger.Errorf("amqp publisher: %v", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	receiptRepo := repository.NewReceiptRepository(pool)

	hub := ws.NewHub(handler.Membership{Convs: convRepo}, cfg.MaxWSConnections)

	var intents service.IntentPublisher
	if publisher != nil {
		intents = publisher
	}
	convSvc := service.NewConversations(convRepo, msgRepo, cacheClient, hub, intents)
	msgSvc := service.NewMessages(convRepo, msgRepo, reactRepo, receiptRepo,
		cacheClient, hub, intents, cfg.Cache.HotTTL, cfg.Cache.ColdTTL)

	sessions := middleware.NewSessionStore(rdb)
	if *dev {
		seedDevSession(bootCtx, sessions)
	}

	r := handler.NewRouter(handler.Deps{
		Conversations: convSvc,
		Messages:      msgSvc,
		Hub:           hub,
		Sessions:      sessions,
		Push:          handler.NewPushHandler(rdb),
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hub.Shutdown()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// seedDevSession writes a fixed session so local clients can talk to the API
// without an identity provider.
func seedDevSession(ctx context.Context, sessions *middleware.SessionStore) {
	const token = "dev-token"
	id := middleware.Identity{UserID: "dev-user", OrgID: "dev-org"}
	if err := sessions.Save(ctx, token, id, 24*time.Hour); err != nil {
		logger.Errorf("seed dev session: %v", err)
		return
	}
	logger.Infof("dev session ready: Authorization: Bearer %s (user=%s org=%s)", token, id.UserID, id.OrgID)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "teamtalk"
		password = "teamtalk_secret"
		database = "teamtalk"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
