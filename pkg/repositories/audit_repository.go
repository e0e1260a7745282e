package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// AuditRepository provides append-only data access for the compliance audit
// log. There is no update or delete surface: entries are immutable once
// written and their archival is out of scope for this engine.
type AuditRepository interface {
	// Record inserts a new audit log entry.
	Record(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns audit entries matching the filter, newest first.
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error)
}

type auditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Record(ctx context.Context, entry *models.AuditLogEntry) error {
	scope, err := requireScope(ctx, models.TableAuditLog, models.OperationInsert)
	if err != nil {
		return err
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if len(entry.Metadata) > 0 {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO telemetry_audit_log (
			id, operation, table_name, record_count, user_role, ip_address, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var ip *string
	if entry.IPAddress != "" {
		ip = &entry.IPAddress
	}

	if _, err := scope.Q.Exec(ctx, query,
		entry.ID, entry.Operation, entry.TableName, entry.RecordCount,
		entry.UserRole, ip, metadataJSON, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	scope, err := requireScope(ctx, models.TableAuditLog, models.OperationSelect)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, operation, table_name, record_count, user_role, ip_address, metadata, created_at
		FROM telemetry_audit_log
		WHERE 1=1`
	var args []any

	if filter.Operation != "" {
		args = append(args, filter.Operation)
		query += fmt.Sprintf(" AND operation = $%d", len(args))
	}
	if filter.TableName != "" {
		args = append(args, filter.TableName)
		query += fmt.Sprintf(" AND table_name = $%d", len(args))
	}
	if filter.UserRole != "" {
		args = append(args, filter.UserRole)
		query += fmt.Sprintf(" AND user_role = $%d", len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := scope.Q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var ip *string
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID, &entry.Operation, &entry.TableName, &entry.RecordCount,
		&entry.UserRole, &ip, &metadataJSON, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	if ip != nil {
		entry.IPAddress = *ip
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
		}
	}
	return &entry, nil
}
