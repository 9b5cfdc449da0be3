/*
scheduler.go - Review queue sweep scheduler

PURPOSE:
  Periodically inspects the review queue and logs its backlog so an
  operator notices when human decisions are piling up. Items that have
  been open longer than StaleAfter are called out individually, since a
  stale ambiguity usually means a payroll run is blocked on it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Reads the queue through the same store the handlers use
  - Never mutates anything; the sweep is observation only

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - StaleAfter:    Age at which an open item is flagged (default: 48h)
  - Enabled:       Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewReviewSweeper(store)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - review/queue.go: The queue being watched
  - handlers.go: ListReviewItems (the operator's view of the same data)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/review"
)

// ReviewSweeper watches the review queue backlog.
type ReviewSweeper struct {
	Store         review.Store
	CheckInterval time.Duration
	StaleAfter    time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReviewSweeper creates a new sweeper with default timings.
func NewReviewSweeper(store review.Store) *ReviewSweeper {
	return &ReviewSweeper{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		StaleAfter:    48 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (rs *ReviewSweeper) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		zap.L().Info("review sweeper disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	zap.L().Info("review sweeper started",
		zap.Duration("check_interval", rs.CheckInterval),
		zap.Duration("stale_after", rs.StaleAfter),
	)
}

// Stop stops the sweeper.
func (rs *ReviewSweeper) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		zap.L().Info("review sweeper stopped")
	}
}

func (rs *ReviewSweeper) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReviewSweeper) sweep() {
	ctx := context.Background()
	now := time.Now()

	items, err := rs.Store.ListItems(ctx, true)
	if err != nil {
		zap.L().Error("review sweep failed to list items", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	var ambiguous, incomplete, stale int
	for _, item := range items {
		switch item.Subject {
		case review.SubjectAmbiguousIdentity, review.SubjectAliasCollision:
			ambiguous++
		case review.SubjectEntryIncomplete:
			incomplete++
		}

		age := now.Sub(item.CreatedAt)
		if age > rs.StaleAfter {
			stale++
			zap.L().Warn("review item stale",
				zap.String("item_id", item.ID),
				zap.String("subject", string(item.Subject)),
				zap.String("spoken_name", item.SpokenName),
				zap.Duration("age", age),
			)
		}
	}

	zap.L().Info("review queue backlog",
		zap.Int("open", len(items)),
		zap.Int("identity_decisions", ambiguous),
		zap.Int("incomplete_entries", incomplete),
		zap.Int("stale", stale),
	)
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReviewSweeper) RunNow() {
	rs.sweep()
}
