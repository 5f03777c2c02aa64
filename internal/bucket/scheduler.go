package bucket

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bankfeeds/backend/internal/audit"
	"github.com/bankfeeds/backend/internal/cursor"
	"github.com/bankfeeds/backend/internal/merge"
	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
	"github.com/bankfeeds/backend/internal/providers"
)

// Scheduler drives provider polling: each connection's fetch range is
// split into bucket windows, every window is fetched and merged on its
// own, and the cursor advances only after the whole pull succeeds.
type Scheduler struct {
	registry  *providers.Registry
	cursors   *cursor.Store
	engine    *merge.Engine
	audit     *audit.AuditLogger
	reporting *time.Location

	Granularity  Granularity
	AllowEmpty   bool
	LookbackDays int
	PollInterval time.Duration
}

// NewScheduler wires the polling scheduler.
func NewScheduler(registry *providers.Registry, cursors *cursor.Store, engine *merge.Engine, auditLog *audit.AuditLogger, reporting *time.Location) *Scheduler {
	if reporting == nil {
		reporting = time.UTC
	}
	return &Scheduler{
		registry:     registry,
		cursors:      cursors,
		engine:       engine,
		audit:        auditLog,
		reporting:    reporting,
		Granularity:  Daily,
		LookbackDays: 15,
		PollInterval: 8 * time.Hour,
	}
}

// PullResult summarizes one connection's pull.
type PullResult struct {
	ConnectionID string               `json:"connection_id"`
	Service      string               `json:"service"`
	StatementIDs []int64              `json:"statement_ids"`
	Created      int                  `json:"created"`
	Skipped      int                  `json:"skipped"`
	Reports      []models.MergeReport `json:"-"`
}

// PullAll polls every connection in order. One connection's failure is
// logged and does not stop the others.
func (s *Scheduler) PullAll(ctx context.Context, conns []providers.Connection, now time.Time) []PullResult {
	var results []PullResult
	for _, conn := range conns {
		result, err := s.PullOne(ctx, conn, now)
		if err != nil {
			log.Printf("[SCHEDULER] pull failed for %s connection %s: %v", conn.Service, conn.ID, err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// PullDue polls only the connections whose cursor's next_run has
// arrived.
func (s *Scheduler) PullDue(ctx context.Context, conns []providers.Connection, now time.Time) []PullResult {
	var due []providers.Connection
	for _, conn := range conns {
		c, err := s.cursors.GetOrInit(ctx, conn.ID, conn.Service, s.PollInterval, s.LookbackDays, now)
		if err != nil {
			log.Printf("[SCHEDULER] cursor load failed for connection %s: %v", conn.ID, err)
			continue
		}
		if !c.NextRun.After(now) {
			due = append(due, conn)
		}
	}
	return s.PullAll(ctx, due, now)
}

// PullOne fetches one connection window-by-window and merges each
// bucket. The cursor is saved only when every window merged cleanly, so
// a failed run is retried in its entirety at the next tick.
func (s *Scheduler) PullOne(ctx context.Context, conn providers.Connection, now time.Time) (PullResult, error) {
	result := PullResult{ConnectionID: conn.ID, Service: conn.Service}
	runID := uuid.NewString()

	provider, err := s.registry.Get(conn.Service)
	if err != nil {
		return result, err
	}
	c, err := s.cursors.GetOrInit(ctx, conn.ID, conn.Service, s.PollInterval, s.LookbackDays, now)
	if err != nil {
		return result, err
	}

	since := c.LastSuccessfulRun
	until := now
	log.Printf("[SCHEDULER] run=%s pulling %s connection %s window %s..%s",
		runID, conn.Service, conn.ID, since.Format(time.RFC3339), until.Format(time.RFC3339))

	// Window boundaries must be reporting-timezone midnights: Fit
	// classifies transactions by reporting-timezone day, so UTC-aligned
	// windows would file midnight-crossing transactions one bucket off.
	for _, window := range s.Granularity.Windows(since.In(s.reporting), until.In(s.reporting)) {
		stmt, err := provider.FetchTransactions(ctx, conn, window.Start, window.End)
		if err != nil {
			s.audit.LogError(runID, "PULL", err)
			return result, err
		}
		stmt = normalize.CleanAll(stmt)
		fitted := Fit(stmt, window, s.reporting)

		key := merge.BucketKey{JournalID: conn.JournalID, Date: window.Start}
		report, err := s.engine.Merge(ctx, key, fitted, s.AllowEmpty)
		if err != nil {
			s.audit.LogError(runID, "MERGE", err)
			return result, err
		}
		if report.StatementID != 0 {
			result.StatementIDs = append(result.StatementIDs, report.StatementID)
			result.Reports = append(result.Reports, report)
			result.Created += report.Created
			result.Skipped += report.Skipped
			s.audit.LogMerge(runID, conn.JournalID, report.StatementID, report.Created, report.Skipped)
		}
	}

	c.LastSuccessfulRun = until
	c.AdvanceNextRun(now)
	if err := s.cursors.Save(ctx, c); err != nil {
		return result, err
	}

	s.audit.LogPull(runID, conn.Service, conn.ID, "SUCCESS", map[string]int{
		"created": result.Created,
		"skipped": result.Skipped,
	})
	log.Printf("[SCHEDULER] run=%s %s connection %s done: created=%d skipped=%d statements=%d",
		runID, conn.Service, conn.ID, result.Created, result.Skipped, len(result.StatementIDs))
	return result, nil
}

// Run polls on a fixed ticker until ctx is cancelled. Connections are
// re-listed each tick so configuration changes take effect without a
// restart.
func (s *Scheduler) Run(ctx context.Context, list func(context.Context) ([]providers.Connection, error), tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SCHEDULER] stopping")
			return
		case now := <-ticker.C:
			conns, err := list(ctx)
			if err != nil {
				log.Printf("[SCHEDULER] listing connections failed: %v", err)
				continue
			}
			s.PullDue(ctx, conns, now)
		}
	}
}
