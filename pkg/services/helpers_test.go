package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// errQuerier satisfies database.Querier without a database; every call fails.
// Unit tests that exercise transactional wiring use it so any stray SQL is an
// explicit error instead of a nil dereference.
type errQuerier struct{}

func (errQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("no database in unit test")
}

func (errQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("no database in unit test")
}

func (errQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

// mockStore runs each unit of work against a scope with no real transaction.
type mockStore struct {
	beginErr error
	uowCalls int
}

func (m *mockStore) WithUnitOfWork(ctx context.Context, p models.Principal, fn func(ctx context.Context) error) error {
	m.uowCalls++
	if m.beginErr != nil {
		return m.beginErr
	}
	return fn(database.WithScope(ctx, &database.Scope{Principal: p, Q: errQuerier{}}))
}

func (m *mockStore) ReadScope(ctx context.Context, p models.Principal) context.Context {
	return database.WithScope(ctx, &database.Scope{Principal: p, Q: errQuerier{}})
}

type mockEventRepo struct {
	insertErr    error
	inserted     []*models.TelemetryEvent
	listResult   []*models.TelemetryEvent
	listErr      error
	deleted      int64
	deleteErr    error
	deleteCutoff time.Time
}

func (m *mockEventRepo) Insert(_ context.Context, event *models.TelemetryEvent) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	event.ID = uuid.New()
	m.inserted = append(m.inserted, event)
	return nil
}

func (m *mockEventRepo) List(context.Context, models.EventFilter) ([]*models.TelemetryEvent, error) {
	return m.listResult, m.listErr
}

func (m *mockEventRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.deleteCutoff = cutoff
	return m.deleted, m.deleteErr
}

type mockWorkflowRepo struct {
	stored       bool
	insertErr    error
	inserted     []*models.WorkflowTelemetry
	listResult   []*models.WorkflowTelemetry
	listErr      error
	deleted      int64
	deleteErr    error
	deleteCutoff time.Time
}

func (m *mockWorkflowRepo) Insert(_ context.Context, workflow *models.WorkflowTelemetry) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if m.stored {
		workflow.ID = uuid.New()
		m.inserted = append(m.inserted, workflow)
	}
	return m.stored, nil
}

func (m *mockWorkflowRepo) List(context.Context, models.WorkflowFilter) ([]*models.WorkflowTelemetry, error) {
	return m.listResult, m.listErr
}

func (m *mockWorkflowRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.deleteCutoff = cutoff
	return m.deleted, m.deleteErr
}

// recordedAudit captures one AuditService.Record call.
type recordedAudit struct {
	operation   string
	tableName   string
	recordCount *int64
	role        models.Role
	metadata    map[string]any
}

type mockAuditService struct {
	recordErr error
	records   []recordedAudit
}

func (m *mockAuditService) Record(ctx context.Context, operation, tableName string, recordCount *int64, metadata map[string]any) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	var role models.Role
	if scope, ok := database.GetScope(ctx); ok {
		role = scope.Principal.Role
	}
	m.records = append(m.records, recordedAudit{
		operation:   operation,
		tableName:   tableName,
		recordCount: recordCount,
		role:        role,
		metadata:    metadata,
	})
	return nil
}

func (m *mockAuditService) List(context.Context, models.AuditFilter) ([]*models.AuditLogEntry, error) {
	return nil, nil
}

type mockStatsRepo struct {
	summary       *models.StatsSummary
	summaryStart  time.Time
	summaryEnd    time.Time
	summaryToday  time.Time
	eventStats    []*models.EventTypeStats
	workflowStats []*models.ComplexityStats
	activity      []*models.DailyActivity
	activityStart time.Time
	activityEnd   time.Time
	err           error
}

func (m *mockStatsRepo) Summary(_ context.Context, start, end, todayStart time.Time) (*models.StatsSummary, error) {
	m.summaryStart, m.summaryEnd, m.summaryToday = start, end, todayStart
	return m.summary, m.err
}

func (m *mockStatsRepo) EventStats(context.Context) ([]*models.EventTypeStats, error) {
	return m.eventStats, m.err
}

func (m *mockStatsRepo) WorkflowStats(context.Context) ([]*models.ComplexityStats, error) {
	return m.workflowStats, m.err
}

func (m *mockStatsRepo) DailyActivity(_ context.Context, start, end time.Time) ([]*models.DailyActivity, error) {
	m.activityStart, m.activityEnd = start, end
	return m.activity, m.err
}
