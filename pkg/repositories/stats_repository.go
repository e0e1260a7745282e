package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// StatsRepository computes read-only rollups for privileged consumers.
// Every method authorizes a read on both telemetry stores; anonymous callers
// are rejected at this boundary like any other read.
type StatsRepository interface {
	// Summary computes windowed totals plus today's counts. UniqueUsers is
	// the distinct user count across both stores (union, not sum).
	Summary(ctx context.Context, start, end, todayStart time.Time) (*models.StatsSummary, error)

	// EventStats computes the per-event-type rollup over all retained data.
	EventStats(ctx context.Context) ([]*models.EventTypeStats, error)

	// WorkflowStats computes the per-complexity-bucket rollup over all
	// retained data.
	WorkflowStats(ctx context.Context) ([]*models.ComplexityStats, error)

	// DailyActivity computes the trailing daily activity series from start to
	// end, one row per day including empty days.
	DailyActivity(ctx context.Context, start, end time.Time) ([]*models.DailyActivity, error)
}

type statsRepository struct{}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository() StatsRepository {
	return &statsRepository{}
}

var _ StatsRepository = (*statsRepository)(nil)

// authorizeRead checks read access on both telemetry stores, since every
// rollup touches both.
func authorizeRead(ctx context.Context) (*scopeReader, error) {
	scope, err := requireScope(ctx, models.TableEvents, models.OperationSelect)
	if err != nil {
		return nil, err
	}
	if _, err := requireScope(ctx, models.TableWorkflows, models.OperationSelect); err != nil {
		return nil, err
	}
	return &scopeReader{scope.Q}, nil
}

func (r *statsRepository) Summary(ctx context.Context, start, end, todayStart time.Time) (*models.StatsSummary, error) {
	reader, err := authorizeRead(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.StatsSummary{WindowStart: start, WindowEnd: end}

	err = reader.q.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM telemetry_events
			 WHERE created_at >= $1 AND created_at < $2),
			(SELECT count(*) FROM telemetry_workflows
			 WHERE created_at >= $1 AND created_at < $2),
			(SELECT count(*) FROM (
				SELECT user_id FROM telemetry_events
				WHERE created_at >= $1 AND created_at < $2
				UNION
				SELECT user_id FROM telemetry_workflows
				WHERE created_at >= $1 AND created_at < $2
			) users),
			(SELECT count(*) FROM telemetry_events WHERE created_at >= $3),
			(SELECT count(*) FROM telemetry_workflows WHERE created_at >= $3)`,
		start, end, todayStart).Scan(
		&summary.TotalEvents, &summary.TotalWorkflows, &summary.UniqueUsers,
		&summary.EventsToday, &summary.WorkflowsToday)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats summary: %w", err)
	}
	return summary, nil
}

func (r *statsRepository) EventStats(ctx context.Context) ([]*models.EventTypeStats, error) {
	reader, err := authorizeRead(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := reader.q.Query(ctx, `
		SELECT event, count(*), count(DISTINCT user_id),
		       min(created_at), max(created_at)
		FROM telemetry_events
		GROUP BY event
		ORDER BY count(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute event stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.EventTypeStats
	for rows.Next() {
		var s models.EventTypeStats
		if err := rows.Scan(&s.Event, &s.Count, &s.UniqueUsers, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan event stats: %w", err)
		}
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event stats: %w", err)
	}
	return stats, nil
}

func (r *statsRepository) WorkflowStats(ctx context.Context) ([]*models.ComplexityStats, error) {
	reader, err := authorizeRead(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := reader.q.Query(ctx, `
		SELECT complexity, count(*),
		       avg(node_count), min(node_count), max(node_count),
		       count(*) FILTER (WHERE has_trigger),
		       count(*) FILTER (WHERE has_webhook)
		FROM telemetry_workflows
		GROUP BY complexity
		ORDER BY complexity`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute workflow stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ComplexityStats
	for rows.Next() {
		var s models.ComplexityStats
		var complexity string
		if err := rows.Scan(&complexity, &s.Count, &s.AvgNodeCount,
			&s.MinNodeCount, &s.MaxNodeCount, &s.WithTrigger, &s.WithWebhook); err != nil {
			return nil, fmt.Errorf("failed to scan workflow stats: %w", err)
		}
		s.Complexity = models.Complexity(complexity)
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow stats: %w", err)
	}
	return stats, nil
}

func (r *statsRepository) DailyActivity(ctx context.Context, start, end time.Time) ([]*models.DailyActivity, error) {
	reader, err := authorizeRead(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := reader.q.Query(ctx, `
		WITH ev AS (
			SELECT date_trunc('day', created_at) AS day, count(*) AS cnt
			FROM telemetry_events
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1
		), wf AS (
			SELECT date_trunc('day', created_at) AS day, count(*) AS cnt
			FROM telemetry_workflows
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1
		), act AS (
			SELECT day, count(DISTINCT user_id) AS cnt FROM (
				SELECT date_trunc('day', created_at) AS day, user_id
				FROM telemetry_events
				WHERE created_at >= $1 AND created_at < $2
				UNION
				SELECT date_trunc('day', created_at) AS day, user_id
				FROM telemetry_workflows
				WHERE created_at >= $1 AND created_at < $2
			) u GROUP BY day
		)
		SELECT gs.day,
		       coalesce(ev.cnt, 0), coalesce(wf.cnt, 0), coalesce(act.cnt, 0)
		FROM generate_series(
			date_trunc('day', $1::timestamptz),
			date_trunc('day', $2::timestamptz),
			interval '1 day'
		) AS gs(day)
		LEFT JOIN ev ON ev.day = gs.day
		LEFT JOIN wf ON wf.day = gs.day
		LEFT JOIN act ON act.day = gs.day
		ORDER BY gs.day`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily activity: %w", err)
	}
	defer rows.Close()

	var series []*models.DailyActivity
	for rows.Next() {
		var d models.DailyActivity
		if err := rows.Scan(&d.Date, &d.EventCount, &d.WorkflowCount, &d.ActiveUsers); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		series = append(series, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily activity: %w", err)
	}
	return series, nil
}
