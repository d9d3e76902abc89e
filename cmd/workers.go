package cmd

import (
	"context"
	"time"

	"escrow/service"

	log "github.com/sirupsen/logrus"
)

// StartStaleExecutionSweeper starts a background worker that fails executing
// distributions stuck past the configured age. A crash between the executing
// commit and the terminal commit leaves requests stranded; without the
// sweeper their amounts stay reserved forever.
// Returns a cleanup function to stop the worker gracefully.
func StartStaleExecutionSweeper(ctx context.Context, distributions service.DistributionService, staleAge time.Duration) func() {
	ticker := time.NewTicker(1 * time.Minute)
	stopChan := make(chan struct{})

	sweep := func() {
		failed, err := distributions.FailStaleExecutions(context.Background(), staleAge)
		if err != nil {
			log.Errorf("Error sweeping stale executions: %v", err)
			return
		}
		if failed > 0 {
			log.WithField("count", failed).Warn("Failed stale executing distributions")
		}
	}

	go func() {
		log.Info("Stale execution sweeper started")

		// Run immediately on startup
		sweep()

		for {
			select {
			case <-ctx.Done():
				log.Info("Stale execution sweeper shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Stale execution sweeper shutting down (stop requested)...")
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(stopChan)
	}
}
