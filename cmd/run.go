package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"escrow/config"
	"escrow/database"
	"escrow/events"
	"escrow/feed"
	"escrow/repository"
	"escrow/service"
)

// Run initializes and starts the application
func Run(ctx context.Context) error {
	log.Println("Starting escrow ledger engine...")

	// Load configuration
	cfg := config.Get()

	// Initialize database connection
	log.Println("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("Database connection established successfully")

	// Initialize event bus
	eventBus := events.NewBus()

	// Initialize unit of work factory and account locks
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus)
	locks := service.NewAccountLocks()

	// Initialize services
	log.Println("Initializing services...")
	riskGate := service.NewRiskGate(uowFactory, cfg.RiskGateTTL)
	registryService := service.NewRegistryService(uowFactory, locks, riskGate)
	reconciliationService := service.NewReconciliationService(uowFactory, locks, cfg.VarianceReviewThreshold, cfg.SettlementLagWindow)

	// Start the feed consumer; the payout rail shares its connection
	log.Println("Starting feed consumer...")
	consumer := feed.NewConsumer(cfg.NATSUrl, registryService, reconciliationService)
	if err := consumer.Start(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to start feed consumer: %w", err)
	}

	rail := feed.NewNATSPayoutRail(consumer.Client().Conn())
	distributionService := service.NewDistributionService(
		uowFactory, locks, riskGate, rail,
		cfg.PayoutMaxRetries, cfg.PayoutRetryBase, cfg.ExecutionTimeout,
	)
	log.Println("Services initialized successfully")

	// Start the stale execution sweeper
	stopSweeper := StartStaleExecutionSweeper(ctx, distributionService, cfg.StaleExecutionAge)

	// Wait for context cancellation
	log.Printf("Engine is running in %s mode...", cfg.Environment)
	<-ctx.Done()

	// Cleanup resources
	log.Println("Shutting down engine...")
	stopSweeper()

	if err := consumer.Stop(); err != nil {
		log.Printf("Error closing feed consumer: %v", err)
	}

	// Give cleanup operations time to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("Closing database connection...")
	db.Close()

	select {
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout exceeded")
	case <-time.After(1 * time.Second):
		log.Println("Shutdown completed")
	}

	return nil
}
