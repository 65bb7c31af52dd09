package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
	"github.com/frahmantamala/subscription-billing/internal/payment"
	paymentPostgres "github.com/frahmantamala/subscription-billing/internal/payment/postgres"
	"github.com/frahmantamala/subscription-billing/internal/subscription"
	subscriptionPostgres "github.com/frahmantamala/subscription-billing/internal/subscription/postgres"
	"github.com/frahmantamala/subscription-billing/internal/transport/rest"
	"github.com/frahmantamala/subscription-billing/internal/transport/swagger"
	"github.com/frahmantamala/subscription-billing/pkg/logger"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const openAPISpecPath = "./api/openapi.yml"

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	Bus            *events.EventBus
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	// a spec that fails to parse should stop the boot, not surprise the
	// first reader of /swagger
	if err := swagger.ValidateSpec(context.Background(), openAPISpecPath); err != nil {
		deps.Logger.Error("startHTTPServer: OpenAPI document is invalid", "path", openAPISpecPath, "error", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		// in-flight event handlers finish before the pool goes away
		if err := deps.Bus.Drain(ctx); err != nil {
			slog.Warn("Event handlers still running at shutdown", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	rest.RegisterAllRoutes(deps.Router, deps.DB, deps.PaymentHandler, deps.WebhookHandler, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := openGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize orm layer: %w", err)
	}

	bus := events.NewEventBus(log)
	payment.NewEventHandler(log).RegisterEventHandlers(bus)

	gateway := moyasar.NewClient(moyasar.Config{
		SecretKey:    config.Moyasar.SecretKey,
		BaseURL:      config.Moyasar.BaseURL,
		ReadTimeout:  config.Moyasar.ReadTimeoutOrDefault(),
		WriteTimeout: config.Moyasar.WriteTimeoutOrDefault(),
	}, log)

	paymentRepo := paymentPostgres.NewPaymentRepository(gormDB)
	subscriptionRepo := subscriptionPostgres.NewSubscriptionRepository(gormDB)
	subscriptions := subscription.NewService(subscriptionRepo, log)

	callbackTokens := payment.NewCallbackTokenManager(config.Moyasar.CallbackTokenSecret, 0)
	paymentService := payment.NewService(
		paymentRepo,
		gateway,
		subscriptions,
		bus,
		callbackTokens,
		config.Moyasar.DefaultCallbackURL,
		log,
	)

	return &Dependencies{
		Config:         config,
		DB:             db,
		Router:         chi.NewRouter(),
		Bus:            bus,
		PaymentHandler: payment.NewHandler(paymentService, callbackTokens, log),
		WebhookHandler: payment.NewWebhookHandler(paymentService, config.Moyasar.WebhookSecret, log),
		Logger:         log,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// openGorm layers the ORM over the already-configured pgx pool so sqlx and
// gorm share one set of connections and one pool limit. SQL tracing stays
// off; request logging covers the API surface.
func openGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
}
