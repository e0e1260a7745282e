package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/access"
	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/repositories"
)

// StatsService computes read-only rollups for privileged consumers. Each call
// is audited as a read of the stores it touches, in the same unit of work as
// the read itself.
type StatsService interface {
	// Summary computes windowed totals. Zero start/end select the default
	// trailing window.
	Summary(ctx context.Context, start, end time.Time) (*models.StatsSummary, error)

	// EventStats returns the per-event-type rollup over all retained data.
	EventStats(ctx context.Context) ([]*models.EventTypeStats, error)

	// WorkflowStats returns the per-complexity rollup over all retained data.
	WorkflowStats(ctx context.Context) ([]*models.ComplexityStats, error)

	// DailyActivity returns the trailing daily activity series.
	DailyActivity(ctx context.Context) ([]*models.DailyActivity, error)
}

type statsService struct {
	store             Store
	stats             repositories.StatsRepository
	audit             AuditService
	defaultWindowDays int
	activityDays      int
	now               func() time.Time
	logger            *zap.Logger
}

// NewStatsService creates a StatsService with the given window defaults.
func NewStatsService(
	store Store,
	stats repositories.StatsRepository,
	auditSvc AuditService,
	defaultWindowDays, activityDays int,
	logger *zap.Logger,
) StatsService {
	return &statsService{
		store:             store,
		stats:             stats,
		audit:             auditSvc,
		defaultWindowDays: defaultWindowDays,
		activityDays:      activityDays,
		now:               time.Now,
		logger:            logger.Named("stats"),
	}
}

var _ StatsService = (*statsService)(nil)

func (s *statsService) Summary(ctx context.Context, start, end time.Time) (*models.StatsSummary, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	now := s.now().UTC()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -s.defaultWindowDays)
	}
	todayStart := now.Truncate(24 * time.Hour)

	var summary *models.StatsSummary
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		summary, err = s.stats.Summary(txCtx, start, end, todayStart)
		if err != nil {
			return err
		}
		return s.auditRollup(txCtx, p, "summary", models.TableEvents, models.TableWorkflows)
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return summary, nil
}

func (s *statsService) EventStats(ctx context.Context) ([]*models.EventTypeStats, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	var stats []*models.EventTypeStats
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		stats, err = s.stats.EventStats(txCtx)
		if err != nil {
			return err
		}
		return s.auditRollup(txCtx, p, "event_stats", models.TableEvents)
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return stats, nil
}

func (s *statsService) WorkflowStats(ctx context.Context) ([]*models.ComplexityStats, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	var stats []*models.ComplexityStats
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		stats, err = s.stats.WorkflowStats(txCtx)
		if err != nil {
			return err
		}
		return s.auditRollup(txCtx, p, "workflow_stats", models.TableWorkflows)
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return stats, nil
}

func (s *statsService) DailyActivity(ctx context.Context) ([]*models.DailyActivity, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -s.activityDays)

	var series []*models.DailyActivity
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		series, err = s.stats.DailyActivity(txCtx, start, end)
		if err != nil {
			return err
		}
		return s.auditRollup(txCtx, p, "daily_activity", models.TableEvents, models.TableWorkflows)
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return series, nil
}

// auditRollup records the read against each store the rollup touched.
func (s *statsService) auditRollup(ctx context.Context, p models.Principal, rollup string, tables ...string) error {
	for _, table := range tables {
		if !access.Audited(p, table, models.OperationSelect) {
			continue
		}
		if err := s.audit.Record(ctx, models.OperationSelect, table, nil,
			map[string]any{"rollup": rollup}); err != nil {
			return err
		}
	}
	return nil
}
