/*
scheduler.go - Automated completion scheduler

PURPOSE:
  Periodically sweeps requisitions that are past award and closes the ones
  whose fulfilment is complete. Paying the last invoice already closes a
  requisition inline; the sweep catches completions that happen some
  other way, e.g. a PO cancelled after everything else was paid.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only looks at Partially_PO_Created, PO_Created, Delivered and Paid
  - Each candidate is checked in its own transaction through
    Service.CloseIfComplete, so one failing requisition never blocks the rest

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCompletionScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - procurement/completion.go: CheckCompletion
  - procurement/service_fulfillment.go: CloseIfComplete
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/procurement-engine/procurement"
)

// sweepStatuses are the statuses a requisition can close from.
var sweepStatuses = []procurement.RequisitionStatus{
	procurement.StatusPartiallyPOCreated,
	procurement.StatusPOCreated,
	procurement.StatusDelivered,
	procurement.StatusPaid,
}

// CompletionScheduler closes fulfilled requisitions in the background.
type CompletionScheduler struct {
	Service       *procurement.Service
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCompletionScheduler creates a new scheduler.
func NewCompletionScheduler(svc *procurement.Service, logger *slog.Logger) *CompletionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionScheduler{
		Service:       svc,
		Logger:        logger.With("component", "completion_scheduler"),
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (cs *CompletionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.Logger.Info("scheduler disabled, not starting")
		return
	}

	if cs.ticker != nil {
		return
	}
	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan bool)
	cs.wg.Add(1)

	go cs.run()

	cs.Logger.Info("scheduler started", "interval", cs.CheckInterval, "next_run", cs.GetNextRunTime())
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (cs *CompletionScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.Logger.Info("scheduler stopped")
	}
}

func (cs *CompletionScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.RunNow(context.Background())

	for {
		select {
		case <-cs.ticker.C:
			cs.RunNow(context.Background())
		case <-cs.stop:
			return
		}
	}
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Checked int
	Closed  []procurement.RequisitionID
	Failed  int
}

// RunNow runs one sweep immediately (for testing/admin).
func (cs *CompletionScheduler) RunNow(ctx context.Context) SweepResult {
	var res SweepResult

	reqs, err := cs.Service.ListRequisitions(ctx, sweepStatuses...)
	if err != nil {
		cs.Logger.Error("listing requisitions", "error", err)
		return res
	}

	for _, req := range reqs {
		res.Checked++
		closed, err := cs.Service.CloseIfComplete(ctx, req.ID)
		if err != nil {
			res.Failed++
			cs.Logger.Warn("completion check failed", "requisition_id", req.ID, "error", err)
			continue
		}
		if closed {
			res.Closed = append(res.Closed, req.ID)
			cs.Logger.Info("requisition closed", "requisition_id", req.ID)
		}
	}

	if len(res.Closed) > 0 || res.Failed > 0 {
		cs.Logger.Info("sweep completed", "checked", res.Checked, "closed", len(res.Closed), "failed", res.Failed)
	}
	return res
}

// GetNextRunTime returns when the next scheduled check will occur.
func (cs *CompletionScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(cs.CheckInterval)
}
