// Package retention implements the successdesk data retention job.
//
// On a cron schedule the janitor:
//   - deletes sessions idle for longer than SESSION_IDLE_TTL, together with
//     their stored API keys and chat history;
//   - purges traces older than TRACE_RETENTION, archiving them first when an
//     archiver is configured.
//
// Archive failures are fail-safe: traces are NOT deleted if archiving fails.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/successdesk/internal/config"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultArchiveBatchSize is the max traces archived and deleted per batch.
const DefaultArchiveBatchSize = 5000

// Store is the data the janitor expires.
// Implementation: internal/store
type Store interface {
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error)
	DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int, error)
	ListTracesBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Trace, error)
	DeleteTraces(ctx context.Context, ids []string) (int, error)
}

// Archiver persists expired traces somewhere durable before they are purged.
type Archiver interface {
	Kind() string
	ArchiveTraces(ctx context.Context, traces []models.Trace) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	SessionsPurged int
	TracesArchived int
	TracesPurged   int
	ArchivePath    string
	Errors         []error
}

// Janitor periodically expires sessions and traces.
type Janitor struct {
	store          Store
	schedule       string
	sessionIdleTTL time.Duration
	traceRetention time.Duration
	batchSize      int

	mu       sync.Mutex
	archiver Archiver
	cron     *cron.Cron

	now func() time.Time
}

// NewJanitor creates a janitor from the retention settings.
func NewJanitor(s Store, cfg config.RetentionConfig) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Janitor{
		store:          s,
		schedule:       schedule,
		sessionIdleTTL: cfg.SessionIdleTTL,
		traceRetention: cfg.TraceRetention,
		batchSize:      DefaultArchiveBatchSize,
		now:            time.Now,
	}
}

// SetArchiver installs the archive backend used before trace purges.
func (j *Janitor) SetArchiver(a Archiver) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.archiver = a
	log.Info().Str("kind", a.Kind()).Msg("Archive driver registered")
}

// Start schedules the janitor and runs one cycle immediately. The schedule
// stops when ctx is canceled.
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("retention schedule %q: %w", j.schedule, err)
	}

	j.mu.Lock()
	j.cron = c
	j.mu.Unlock()

	c.Start()
	log.Info().
		Str("schedule", j.schedule).
		Dur("session_idle_ttl", j.sessionIdleTTL).
		Dur("trace_retention", j.traceRetention).
		Msg("Retention janitor started")

	go j.RunCycle(ctx)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Info().Msg("Retention janitor stopped")
	}()
	return nil
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := j.now()
	var stats CycleStats

	if j.sessionIdleTTL > 0 {
		n, err := j.store.DeleteIdleSessions(ctx, start.Add(-j.sessionIdleTTL))
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("purge idle sessions: %w", err))
		}
		stats.SessionsPurged = n
	}

	if j.traceRetention > 0 {
		j.expireTraces(ctx, start.Add(-j.traceRetention), &stats)
	}

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	if stats.SessionsPurged > 0 || stats.TracesPurged > 0 || stats.TracesArchived > 0 {
		log.Info().
			Int("purged_sessions", stats.SessionsPurged).
			Int("purged_traces", stats.TracesPurged).
			Int("archived_traces", stats.TracesArchived).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// expireTraces purges traces created before cutoff. With an archiver the
// traces go oldest first in batches, and only the ids of a batch that was
// archived are deleted; the first archive failure ends the pass.
func (j *Janitor) expireTraces(ctx context.Context, cutoff time.Time, stats *CycleStats) {
	j.mu.Lock()
	archiver := j.archiver
	j.mu.Unlock()

	if archiver == nil {
		n, err := j.store.DeleteTracesBefore(ctx, cutoff)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("purge traces: %w", err))
			return
		}
		stats.TracesPurged = n
		return
	}

	for ctx.Err() == nil {
		batch, err := j.store.ListTracesBefore(ctx, cutoff, j.batchSize)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("list expired traces: %w", err))
			return
		}
		if len(batch) == 0 {
			return
		}

		path, err := archiver.ArchiveTraces(ctx, batch)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("archive traces (%s): %w", archiver.Kind(), err))
			log.Warn().Int("pending", len(batch)).Msg("Archive failed, skipping trace purge")
			return
		}
		stats.TracesArchived += len(batch)
		stats.ArchivePath = path

		ids := make([]string, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}
		n, err := j.store.DeleteTraces(ctx, ids)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("purge archived traces: %w", err))
			return
		}
		stats.TracesPurged += n

		if len(batch) < j.batchSize || n == 0 {
			return
		}
	}
}
