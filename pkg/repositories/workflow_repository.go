package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/partition"
)

// WorkflowRepository provides data access for sanitized workflow summaries.
type WorkflowRepository interface {
	// Insert persists a validated workflow unless the same
	// (workflow_hash, user_id) pair already exists. Returns stored=false for
	// the deduplicated no-op case; that outcome is a success, not an error.
	// Racing identical submissions serialize on a transaction-scoped advisory
	// lock, so exactly one row is stored and the loser observes the dedup.
	// Must run inside a unit of work.
	Insert(ctx context.Context, workflow *models.WorkflowTelemetry) (stored bool, err error)

	// List returns workflows matching the filter, newest first.
	List(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowTelemetry, error)

	// DeleteBefore removes every workflow older than the cutoff and returns
	// the number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type workflowRepository struct {
	partitions *partition.Manager
}

// NewWorkflowRepository creates a new WorkflowRepository routing writes
// through the given partition manager.
func NewWorkflowRepository(partitions *partition.Manager) WorkflowRepository {
	return &workflowRepository{partitions: partitions}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

func (r *workflowRepository) Insert(ctx context.Context, workflow *models.WorkflowTelemetry) (bool, error) {
	scope, err := requireScope(ctx, models.TableWorkflows, models.OperationInsert)
	if err != nil {
		return false, err
	}

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	if err := r.partitions.Ensure(ctx, scope.Q, models.TableWorkflows, workflow.CreatedAt); err != nil {
		return false, err
	}

	// Partitioned tables cannot carry a global unique index that omits the
	// partition key, so (workflow_hash, user_id) uniqueness is enforced with
	// an advisory lock over the pair followed by an existence check, all
	// inside the caller's transaction.
	lockKey := workflow.WorkflowHash + ":" + workflow.UserID
	if _, err := scope.Q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return false, fmt.Errorf("failed to take workflow dedup lock: %w", err)
	}

	var exists bool
	err = scope.Q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM telemetry_workflows
			WHERE workflow_hash = $1 AND user_id = $2
		)`, workflow.WorkflowHash, workflow.UserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow fingerprint: %w", err)
	}
	if exists {
		return false, nil
	}

	nodeTypesJSON, err := json.Marshal(workflow.NodeTypes)
	if err != nil {
		return false, fmt.Errorf("failed to marshal node_types: %w", err)
	}
	sanitizedJSON, err := json.Marshal(workflow.SanitizedWorkflow)
	if err != nil {
		return false, fmt.Errorf("failed to marshal sanitized_workflow: %w", err)
	}

	query := `
		INSERT INTO telemetry_workflows (
			id, user_id, workflow_hash, node_count, node_types,
			has_trigger, has_webhook, complexity, sanitized_workflow, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := scope.Q.Exec(ctx, query,
		workflow.ID, workflow.UserID, workflow.WorkflowHash, workflow.NodeCount,
		nodeTypesJSON, workflow.HasTrigger, workflow.HasWebhook,
		string(workflow.Complexity), sanitizedJSON, workflow.CreatedAt); err != nil {
		return false, fmt.Errorf("failed to insert workflow: %w", err)
	}
	return true, nil
}

func (r *workflowRepository) List(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowTelemetry, error) {
	scope, err := requireScope(ctx, models.TableWorkflows, models.OperationSelect)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, workflow_hash, node_count, node_types,
		       has_trigger, has_webhook, complexity, sanitized_workflow, created_at
		FROM telemetry_workflows
		WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Complexity != "" {
		args = append(args, string(filter.Complexity))
		query += fmt.Sprintf(" AND complexity = $%d", len(args))
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
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.WorkflowTelemetry
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return workflows, nil
}

func (r *workflowRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, err := requireScope(ctx, models.TableWorkflows, models.OperationDelete)
	if err != nil {
		return 0, err
	}

	tag, err := scope.Q.Exec(ctx,
		`DELETE FROM telemetry_workflows WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired workflows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWorkflow(row pgx.Row) (*models.WorkflowTelemetry, error) {
	var workflow models.WorkflowTelemetry
	var complexity string
	var nodeTypesJSON, sanitizedJSON []byte

	err := row.Scan(
		&workflow.ID, &workflow.UserID, &workflow.WorkflowHash, &workflow.NodeCount,
		&nodeTypesJSON, &workflow.HasTrigger, &workflow.HasWebhook,
		&complexity, &sanitizedJSON, &workflow.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.Complexity = models.Complexity(complexity)
	if len(nodeTypesJSON) > 0 {
		if err := json.Unmarshal(nodeTypesJSON, &workflow.NodeTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node_types: %w", err)
		}
	}
	if len(sanitizedJSON) > 0 {
		if err := json.Unmarshal(sanitizedJSON, &workflow.SanitizedWorkflow); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sanitized_workflow: %w", err)
		}
	}
	return &workflow, nil
}
