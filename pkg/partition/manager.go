// Package partition routes time-stamped rows to monthly storage segments for
// the two high-volume telemetry stores. Segments are Postgres declarative
// partitions named <store>_<YYYY>_<MM>, created on demand and dropped once the
// whole month has passed the retention horizon.
package partition

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// Manager creates and retires monthly partitions. It caches the segments it
// has already ensured so steady-state inserts skip the DDL round trip.
type Manager struct {
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]struct{}
}

// NewManager creates a partition manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger.Named("partition"),
		ensured: make(map[string]struct{}),
	}
}

// partitioned reports whether the store is partition-managed. The audit log
// is deliberately not: it is low-volume and append-only.
func partitioned(store string) bool {
	return store == models.TableEvents || store == models.TableWorkflows
}

// Name derives the deterministic partition identifier for a store and a
// reference time, keyed by calendar month.
func Name(store string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%04d_%02d", store, t.Year(), int(t.Month()))
}

// MonthBounds returns the [start-of-month, start-of-next-month) range covering t.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Ensure makes sure a partition covering t's month exists before a write
// targets it. Creation is idempotent and safe under concurrent
// first-writers-of-the-month: callers serialize on a transaction-scoped
// advisory lock, and a partition that already exists is treated as success.
//
// The cache is only fed from catalog lookups, never from the create itself:
// q is usually the caller's transaction, so a create it ran is undone if that
// transaction rolls back. A later call on a fresh transaction observes the
// committed partition and caches it then.
func (m *Manager) Ensure(ctx context.Context, q database.Querier, store string, t time.Time) error {
	if !partitioned(store) {
		return fmt.Errorf("store %q is not partition-managed", store)
	}

	name := Name(store, t)

	m.mu.Lock()
	_, done := m.ensured[name]
	m.mu.Unlock()
	if done {
		return nil
	}

	var reg *string
	if err := q.QueryRow(ctx, `SELECT to_regclass($1)::text`, name).Scan(&reg); err != nil {
		return fmt.Errorf("failed to look up partition %s: %w", name, err)
	}
	if reg != nil {
		m.mu.Lock()
		m.ensured[name] = struct{}{}
		m.mu.Unlock()
		return nil
	}

	// Serialize concurrent creators of the same month. The lock is
	// transaction-scoped, so it releases with the caller's unit of work.
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("failed to take partition lock for %s: %w", name, err)
	}

	start, next := MonthBounds(t)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		name, store, start.Format("2006-01-02"), next.Format("2006-01-02"))

	if _, err := q.Exec(ctx, ddl); err != nil {
		// A racing creator can still win between the lock scopes of two
		// separate transactions; an existing partition is the desired state.
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "42P07" {
			return fmt.Errorf("failed to create partition %s: %w", name, err)
		}
	} else {
		m.logger.Info("Created monthly partition", zap.String("partition", name))
	}
	return nil
}

// DropBefore drops every partition of the store whose month lies entirely
// before the cutoff. Rows in the cutoff's own month are left for row-level
// deletion. Returns the names of the partitions dropped.
func (m *Manager) DropBefore(ctx context.Context, q database.Querier, store string, cutoff time.Time) ([]string, error) {
	if !partitioned(store) {
		return nil, fmt.Errorf("store %q is not partition-managed", store)
	}

	rows, err := q.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = $1`, store)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", store, err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan partition name: %w", err)
		}
		candidates = append(candidates, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partitions: %w", err)
	}

	var dropped []string
	for _, name := range candidates {
		start, ok := parseMonth(store, name)
		if !ok {
			continue
		}
		if !start.AddDate(0, 1, 0).After(cutoff) {
			if _, err := q.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
				return dropped, fmt.Errorf("failed to drop partition %s: %w", name, err)
			}
			m.mu.Lock()
			delete(m.ensured, name)
			m.mu.Unlock()
			dropped = append(dropped, name)
			m.logger.Info("Dropped expired partition", zap.String("partition", name))
		}
	}
	return dropped, nil
}

// parseMonth extracts the month start from a <store>_<YYYY>_<MM> name.
func parseMonth(store, name string) (time.Time, bool) {
	suffix, found := strings.CutPrefix(name, store+"_")
	if !found {
		return time.Time{}, false
	}
	yearStr, monthStr, found := strings.Cut(suffix, "_")
	if !found {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}
