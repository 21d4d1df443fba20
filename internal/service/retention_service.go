package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/pkg/jobs"
)

const retentionJobType = "audit_retention_sweep"

type retentionStore interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

type listingInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// RetentionService prunes expired audit events on a schedule. Sweeps
// run through the background job queue so a slow delete never blocks
// the scheduler tick, and each sweep that removes rows is itself
// recorded in the trail.
type RetentionService struct {
	store   retentionStore
	cache   listingInvalidator
	auditor *audit.Service
	logger  *zap.Logger

	retentionDays int
	interval      time.Duration

	queue  *jobs.Queue
	cancel context.CancelFunc
}

// NewRetentionService constructs a RetentionService instance. A nil
// cache skips listing invalidation after sweeps.
func NewRetentionService(store retentionStore, cache listingInvalidator, auditor *audit.Service, logger *zap.Logger, retentionDays int, interval time.Duration) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s := &RetentionService{
		store:         store,
		cache:         cache,
		auditor:       auditor,
		logger:        logger,
		retentionDays: retentionDays,
		interval:      interval,
	}
	s.queue = jobs.NewQueue("audit-retention", s.handleSweep, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 2,
		MaxRetries: 3,
		RetryDelay: time.Minute,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers and the scheduler tick. A
// non-positive retention disables the service entirely.
func (s *RetentionService) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		s.logger.Info("audit retention disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Trigger(); err != nil {
					s.logger.Warn("failed to enqueue retention sweep", zap.Error(err))
				}
			}
		}
	}()

	s.logger.Info("audit retention started",
		zap.Int("retention_days", s.retentionDays),
		zap.Duration("interval", s.interval))
}

// Stop halts the scheduler and drains the queue workers.
func (s *RetentionService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.queue.Stop()
}

// Trigger enqueues an immediate sweep.
func (s *RetentionService) Trigger() error {
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: retentionJobType,
	})
}

func (s *RetentionService) handleSweep(ctx context.Context, job jobs.Job) error {
	deleted, err := s.store.DeleteOlderThan(ctx, s.retentionDays)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	if deleted == 0 {
		return nil
	}

	// Cached viewer listings may reference the pruned rows.
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, auditCachePrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate audit listing cache", zap.Error(err))
		}
	}

	s.logger.Info("audit retention sweep completed",
		zap.Int64("deleted", deleted),
		zap.Int("retention_days", s.retentionDays))

	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionDelete,
		ResourceType: audit.ResourceAuditLog,
		ResourceID:   "retention",
		ActorType:    audit.ActorTypeScheduler,
		Metadata: map[string]any{
			"deleted":        deleted,
			"retention_days": s.retentionDays,
			"job_id":         job.ID,
		},
	})
	return nil
}
