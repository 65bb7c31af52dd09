package cmd

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/frahmantamala/subscription-billing/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers such as the pending payment reconciler.`,
}

// Reconciler worker command
var reconcilerWorkerCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Start the pending payment reconciler",
	Long:  `Sweep payments stuck in pending and settle them against the gateway.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcilerWorker()
	},
}

var (
	reconcileInterval time.Duration
	pendingAge        time.Duration
	batchSize         int
)

func startReconcilerWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.L()

	// Use command line flags if provided, otherwise use config values
	reconcilerConfig := internal.ReconcilerConfig{
		Interval:   getDurationFlag(reconcileInterval, config.Reconciler.Interval),
		PendingAge: getDurationFlag(pendingAge, config.Reconciler.PendingAge),
		BatchSize:  getIntFlag(batchSize, config.Reconciler.BatchSize),
	}

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := openGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm layer: %v\n", err)
		return
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

	reconciler := payment.NewReconciler(paymentRepo, paymentService, &reconcilerConfig, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- reconciler.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("reconciler worker is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down reconciler", "signal", sig)
		cancel()
		if err := <-runErrChan; err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconciler stopped with error", "error", err)
		}
	case err := <-runErrChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconciler stopped with error", "error", err)
		}
	}

	// let in-flight event handlers finish before the process exits
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := bus.Drain(drainCtx); err != nil {
		log.Warn("event handlers still running at shutdown", "error", err)
	}

	log.Info("reconciler worker shutdown complete")
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcilerWorkerCmd.Flags().DurationVar(&reconcileInterval, "interval", 0, "Sweep interval (overrides config)")
	reconcilerWorkerCmd.Flags().DurationVar(&pendingAge, "pending-age", 0, "Minimum age before a pending payment is swept (overrides config)")
	reconcilerWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum payments per sweep (overrides config)")

	workerCmd.AddCommand(reconcilerWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
