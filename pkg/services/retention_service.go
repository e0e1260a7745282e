package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/partition"
	"github.com/flowmetric/telemetry-engine/pkg/repositories"
)

// RetentionService retires telemetry past the retention horizon. It is
// designed to be invoked periodically by an external scheduler and is
// idempotent: a second run in the same period deletes nothing further.
type RetentionService interface {
	// Cleanup deletes all telemetry rows older than now minus the retention
	// horizon and returns the total rows removed across both stores. Each
	// store's deletion is audited as the system principal inside the same
	// unit of work. A failure mid-way is partial-failure tolerant: the count
	// of rows already removed (and audited) is reported alongside the error.
	Cleanup(ctx context.Context, now time.Time) (int64, error)
}

type retentionService struct {
	store      Store
	events     repositories.EventRepository
	workflows  repositories.WorkflowRepository
	audit      AuditService
	partitions *partition.Manager
	months     int
	logger     *zap.Logger
}

// NewRetentionService creates a RetentionService with the given horizon in
// months.
func NewRetentionService(
	store Store,
	events repositories.EventRepository,
	workflows repositories.WorkflowRepository,
	auditSvc AuditService,
	partitions *partition.Manager,
	months int,
	logger *zap.Logger,
) RetentionService {
	return &retentionService{
		store:      store,
		events:     events,
		workflows:  workflows,
		audit:      auditSvc,
		partitions: partitions,
		months:     months,
		logger:     logger.Named("retention"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().AddDate(0, -s.months, 0)
	sys := models.System()

	var total int64
	stores := []struct {
		table  string
		delete func(ctx context.Context, cutoff time.Time) (int64, error)
	}{
		{models.TableEvents, s.events.DeleteBefore},
		{models.TableWorkflows, s.workflows.DeleteBefore},
	}

	for _, st := range stores {
		var deleted int64
		err := s.store.WithUnitOfWork(ctx, sys, func(txCtx context.Context) error {
			var err error
			deleted, err = st.delete(txCtx, cutoff)
			if err != nil {
				return err
			}
			count := deleted
			return s.audit.Record(txCtx, models.OperationDelete, st.table, &count,
				map[string]any{"cutoff": cutoff.Format(time.RFC3339)})
		})
		if err != nil {
			// Earlier stores' deletions are committed and audited; report
			// what was removed before the failure instead of rolling it back.
			return total, normalizeStorageErr(fmt.Errorf("cleanup of %s: %w", st.table, err))
		}
		total += deleted
		s.logger.Info("Retired expired telemetry",
			zap.String("table", st.table),
			zap.Int64("rows", deleted),
			zap.Time("cutoff", cutoff))
	}

	s.dropExpiredPartitions(ctx, sys, cutoff)
	return total, nil
}

// dropExpiredPartitions retires whole-month segments that lie entirely before
// the cutoff. The rows are already gone; this reclaims the empty partitions.
// Best-effort: a failure here does not fail the cleanup.
func (s *retentionService) dropExpiredPartitions(ctx context.Context, sys models.Principal, cutoff time.Time) {
	err := s.store.WithUnitOfWork(ctx, sys, func(txCtx context.Context) error {
		scope, ok := database.GetScope(txCtx)
		if !ok {
			return errNoScope
		}
		for _, table := range []string{models.TableEvents, models.TableWorkflows} {
			if _, err := s.partitions.DropBefore(txCtx, scope.Q, table, cutoff); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to drop expired partitions", zap.Error(err))
	}
}
