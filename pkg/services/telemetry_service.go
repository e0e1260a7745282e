package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/access"
	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/audit"
	"github.com/flowmetric/telemetry-engine/pkg/logging"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/repositories"
	"github.com/flowmetric/telemetry-engine/pkg/retry"
	"github.com/flowmetric/telemetry-engine/pkg/validation"
)

var errNoScope = errors.New("no principal scope in context")

// TelemetryService is the ingestion and listing surface over the two
// telemetry stores. Inserts are open to any classified principal; listings
// reach the repositories, where anonymous callers are denied.
type TelemetryService interface {
	// InsertEvent validates and persists a usage event, returning its new id.
	InsertEvent(ctx context.Context, event *models.TelemetryEvent) (uuid.UUID, error)

	// InsertWorkflow validates and persists a workflow summary. A repeated
	// (workflow_hash, user_id) submission succeeds with stored=false and no
	// new row.
	InsertWorkflow(ctx context.Context, workflow *models.WorkflowTelemetry) (id uuid.UUID, stored bool, err error)

	// ListEvents returns events for privileged inspection.
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.TelemetryEvent, error)

	// ListWorkflows returns workflows for privileged inspection.
	ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowTelemetry, error)
}

type telemetryService struct {
	store     Store
	events    repositories.EventRepository
	workflows repositories.WorkflowRepository
	audit     AuditService
	security  *audit.SecurityAuditor
	retryCfg  *retry.Config
	logger    *zap.Logger
}

// NewTelemetryService creates a new TelemetryService. retryCfg bounds the
// internal retries of transient storage failures; nil selects the defaults.
func NewTelemetryService(
	store Store,
	events repositories.EventRepository,
	workflows repositories.WorkflowRepository,
	auditSvc AuditService,
	security *audit.SecurityAuditor,
	retryCfg *retry.Config,
	logger *zap.Logger,
) TelemetryService {
	return &telemetryService{
		store:     store,
		events:    events,
		workflows: workflows,
		audit:     auditSvc,
		security:  security,
		retryCfg:  retryCfg,
		logger:    logger.Named("telemetry"),
	}
}

var _ TelemetryService = (*telemetryService)(nil)

func (s *telemetryService) InsertEvent(ctx context.Context, event *models.TelemetryEvent) (uuid.UUID, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return uuid.Nil, apperrors.ErrPermissionDenied
	}

	if err := validation.ValidateEvent(event); err != nil {
		return uuid.Nil, err
	}

	// Detection only: the payload is stored parameterized regardless, but a
	// fingerprinted injection attempt is worth a security log line.
	if s.security != nil {
		s.security.ScanEvent(ctx, event)
	}

	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
			if err := s.events.Insert(txCtx, event); err != nil {
				return err
			}
			if access.Audited(p, models.TableEvents, models.OperationInsert) {
				one := int64(1)
				return s.audit.Record(txCtx, models.OperationInsert, models.TableEvents, &one, nil)
			}
			return nil
		})
	})
	if err != nil {
		return uuid.Nil, s.mutationFailed(ctx, p, models.OperationInsert, models.TableEvents, err)
	}
	return event.ID, nil
}

func (s *telemetryService) InsertWorkflow(ctx context.Context, workflow *models.WorkflowTelemetry) (uuid.UUID, bool, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return uuid.Nil, false, apperrors.ErrPermissionDenied
	}

	if err := validation.ValidateWorkflow(workflow); err != nil {
		return uuid.Nil, false, err
	}

	if s.security != nil {
		s.security.ScanWorkflow(ctx, workflow)
	}

	var stored bool
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		return s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
			var err error
			stored, err = s.workflows.Insert(txCtx, workflow)
			if err != nil {
				return err
			}
			if stored && access.Audited(p, models.TableWorkflows, models.OperationInsert) {
				one := int64(1)
				return s.audit.Record(txCtx, models.OperationInsert, models.TableWorkflows, &one, nil)
			}
			return nil
		})
	})
	if err != nil {
		return uuid.Nil, false, s.mutationFailed(ctx, p, models.OperationInsert, models.TableWorkflows, err)
	}

	if !stored {
		s.logger.Debug("Workflow fingerprint already recorded",
			zap.String("user_id", logging.ShortenToken(workflow.UserID)))
		return uuid.Nil, false, nil
	}
	return workflow.ID, true, nil
}

func (s *telemetryService) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.TelemetryEvent, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	var events []*models.TelemetryEvent
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		events, err = s.events.List(txCtx, filter)
		if err != nil {
			return err
		}
		if access.Audited(p, models.TableEvents, models.OperationSelect) {
			n := int64(len(events))
			return s.audit.Record(txCtx, models.OperationSelect, models.TableEvents, &n, nil)
		}
		return nil
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return events, nil
}

func (s *telemetryService) ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowTelemetry, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	var workflows []*models.WorkflowTelemetry
	err := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
		var err error
		workflows, err = s.workflows.List(txCtx, filter)
		if err != nil {
			return err
		}
		if access.Audited(p, models.TableWorkflows, models.OperationSelect) {
			n := int64(len(workflows))
			return s.audit.Record(txCtx, models.OperationSelect, models.TableWorkflows, &n, nil)
		}
		return nil
	})
	if err != nil {
		return nil, normalizeStorageErr(err)
	}
	return workflows, nil
}

// mutationFailed maps a failed mutation to the error taxonomy and, for
// audited principals, leaves a best-effort trace of the failed attempt in its
// own unit of work (the original transaction rolled back).
func (s *telemetryService) mutationFailed(ctx context.Context, p models.Principal, operation, table string, cause error) error {
	if errors.Is(cause, apperrors.ErrPermissionDenied) {
		return cause
	}

	if access.Audited(p, table, operation) {
		auditErr := s.store.WithUnitOfWork(ctx, p, func(txCtx context.Context) error {
			return s.audit.Record(txCtx, operation, table, nil,
				map[string]any{"error": logging.SanitizeError(cause)})
		})
		if auditErr != nil {
			s.logger.Error("Failed to audit failed mutation",
				zap.String("operation", operation),
				zap.String("table", table),
				zap.Error(auditErr))
		}
	}

	return normalizeStorageErr(cause)
}

// normalizeStorageErr wraps non-taxonomy errors as storage failures.
func normalizeStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrPermissionDenied) ||
		errors.Is(err, apperrors.ErrStorage) ||
		apperrors.IsValidation(err) {
		return err
	}
	return apperrors.Storage(err)
}
