package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/repositories"
)

// Store is the transactional surface the services run against. Implemented by
// *database.DB.
type Store interface {
	// WithUnitOfWork runs fn inside one transaction scoped to the principal.
	WithUnitOfWork(ctx context.Context, p models.Principal, fn func(ctx context.Context) error) error
	// ReadScope returns a context scoped to the pool for the principal.
	ReadScope(ctx context.Context, p models.Principal) context.Context
}

// AuditService records privileged and maintenance operations for compliance.
//
// Record is invoked inside the unit of work of the operation it describes, so
// the audit entry and the guarded mutation commit or fail together. A failed
// audit write fails the triggering operation: an unaudited privileged action
// is a compliance violation, not a minor defect.
type AuditService interface {
	// Record writes one audit entry describing an operation by the principal
	// bound to ctx's scope. recordCount may be nil when not applicable.
	Record(ctx context.Context, operation, tableName string, recordCount *int64, metadata map[string]any) error

	// List returns audit entries for privileged inspection.
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error)
}

type auditService struct {
	store  Store
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(store Store, repo repositories.AuditRepository, logger *zap.Logger) AuditService {
	return &auditService{
		store:  store,
		repo:   repo,
		logger: logger.Named("audit"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Record(ctx context.Context, operation, tableName string, recordCount *int64, metadata map[string]any) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.Storage(errNoScope)
	}

	entry := &models.AuditLogEntry{
		Operation:   operation,
		TableName:   tableName,
		RecordCount: recordCount,
		UserRole:    string(scope.Principal.Role),
		IPAddress:   scope.Principal.IPAddress,
		Metadata:    metadata,
	}

	if err := s.repo.Record(ctx, entry); err != nil {
		s.logger.Error("Audit write failed; failing the guarded operation",
			zap.String("operation", operation),
			zap.String("table", tableName),
			zap.Error(err))
		return apperrors.Storage(err)
	}
	return nil
}

func (s *auditService) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	p, ok := models.GetPrincipal(ctx)
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	entries, err := s.repo.List(s.store.ReadScope(ctx, p), filter)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
