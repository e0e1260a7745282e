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

// EventRepository provides data access for usage events.
type EventRepository interface {
	// Insert persists a validated event into its month partition. The id and
	// creation timestamp are assigned here. Duplicates are normal for events;
	// there is no dedup key.
	Insert(ctx context.Context, event *models.TelemetryEvent) error

	// List returns events matching the filter, newest first.
	List(ctx context.Context, filter models.EventFilter) ([]*models.TelemetryEvent, error)

	// DeleteBefore removes every event older than the cutoff and returns the
	// number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventRepository struct {
	partitions *partition.Manager
}

// NewEventRepository creates a new EventRepository routing writes through the
// given partition manager.
func NewEventRepository(partitions *partition.Manager) EventRepository {
	return &eventRepository{partitions: partitions}
}

var _ EventRepository = (*eventRepository)(nil)

func (r *eventRepository) Insert(ctx context.Context, event *models.TelemetryEvent) error {
	scope, err := requireScope(ctx, models.TableEvents, models.OperationInsert)
	if err != nil {
		return err
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := r.partitions.Ensure(ctx, scope.Q, models.TableEvents, event.CreatedAt); err != nil {
		return err
	}

	propertiesJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	query := `
		INSERT INTO telemetry_events (id, user_id, event, properties, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := scope.Q.Exec(ctx, query,
		event.ID, event.UserID, event.Event, propertiesJSON, event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *eventRepository) List(ctx context.Context, filter models.EventFilter) ([]*models.TelemetryEvent, error) {
	scope, err := requireScope(ctx, models.TableEvents, models.OperationSelect)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, event, properties, created_at
		FROM telemetry_events
		WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Event != "" {
		args = append(args, filter.Event)
		query += fmt.Sprintf(" AND event = $%d", len(args))
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
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.TelemetryEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (r *eventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, err := requireScope(ctx, models.TableEvents, models.OperationDelete)
	if err != nil {
		return 0, err
	}

	tag, err := scope.Q.Exec(ctx,
		`DELETE FROM telemetry_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (*models.TelemetryEvent, error) {
	var event models.TelemetryEvent
	var propertiesJSON []byte

	if err := row.Scan(&event.ID, &event.UserID, &event.Event, &propertiesJSON, &event.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if len(propertiesJSON) > 0 {
		if err := json.Unmarshal(propertiesJSON, &event.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}
	return &event, nil
}
