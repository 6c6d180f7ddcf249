package liquidity_rebalancer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/services/liquidity"
)

type Rebalancer interface {
	Rebalance(ctx context.Context) ([]liquidity.RebalanceResult, error)
}

// Worker runs pool rebalancing on a cron schedule. Overlapping runs are skipped.
type Worker struct {
	rebalancer Rebalancer
	schedule   string
	timeout    time.Duration
	cron       *cron.Cron
	logger     *zap.Logger
}

func NewWorker(rebalancer Rebalancer, schedule string, timeout time.Duration, logger *zap.Logger) *Worker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Worker{
		rebalancer: rebalancer,
		schedule:   schedule,
		timeout:    timeout,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid rebalance schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info("Liquidity rebalancer started", zap.String("schedule", w.schedule))
	return nil
}

// RunOnce performs a single pass and reports how many pools moved
func (w *Worker) RunOnce(ctx context.Context) int {
	results, err := w.rebalancer.Rebalance(ctx)
	for _, r := range results {
		w.logger.Info("Pool rebalanced",
			zap.String("pool_id", r.PoolID),
			zap.String("utilization_before", r.UtilizationBefore.String()),
			zap.String("utilization_after", r.UtilizationAfter.String()))
	}
	if err != nil {
		w.logger.Error("Failed to rebalance liquidity pools", zap.Error(err), zap.Int("rebalanced", len(results)))
	}
	return len(results)
}

// Shutdown stops scheduling and waits for a running pass up to timeout
func (w *Worker) Shutdown(timeout time.Duration) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("Liquidity rebalancer stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("liquidity rebalancer did not stop within %s", timeout)
	}
}
