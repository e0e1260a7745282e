//go:build integration

package repositories

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/apperrors"
	"github.com/flowmetric/telemetry-engine/pkg/database"
	"github.com/flowmetric/telemetry-engine/pkg/models"
	"github.com/flowmetric/telemetry-engine/pkg/partition"
	"github.com/flowmetric/telemetry-engine/pkg/testhelpers"
)

var (
	anonymous  = models.Anonymous("203.0.113.7")
	privileged = models.Principal{Role: models.RolePrivileged, Subject: "operator", IPAddress: "198.51.100.4"}
	system     = models.System()
)

func uniqueToken() string {
	return uuid.NewString() // 36 chars, inside the 16-64 bound
}

func uniqueHash() string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(uuid.NewString())))
}

func newEvent(userID string) *models.TelemetryEvent {
	return &models.TelemetryEvent{
		UserID:     userID,
		Event:      "workflow_executed",
		Properties: map[string]any{"duration_ms": float64(120)},
	}
}

func newWorkflow(userID, hash string) *models.WorkflowTelemetry {
	return &models.WorkflowTelemetry{
		UserID:            userID,
		WorkflowHash:      hash,
		NodeCount:         4,
		NodeTypes:         []string{"http", "transform"},
		HasTrigger:        true,
		Complexity:        models.ComplexityMedium,
		SanitizedWorkflow: map[string]any{"nodes": []any{}},
	}
}

func TestEventRepository_InsertAndList(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewEventRepository(partition.NewManager(zap.NewNop()))
	ctx := context.Background()

	userID := uniqueToken()
	event := newEvent(userID)

	err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
		return repo.Insert(txCtx, event)
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, event.ID)
	require.False(t, event.CreatedAt.IsZero())

	// Privileged listing sees the row back, properties intact.
	events, err := repo.List(db.ReadScope(ctx, privileged), models.EventFilter{UserID: userID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, "workflow_executed", events[0].Event)
	assert.Equal(t, float64(120), events[0].Properties["duration_ms"])
}

func TestEventRepository_AnonymousCannotRead(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewEventRepository(partition.NewManager(zap.NewNop()))

	_, err := repo.List(db.ReadScope(context.Background(), anonymous), models.EventFilter{})
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestEventRepository_RequiresScope(t *testing.T) {
	testhelpers.GetTestDB(t)
	repo := NewEventRepository(partition.NewManager(zap.NewNop()))

	err := repo.Insert(context.Background(), newEvent(uniqueToken()))
	require.Error(t, err)
}

func TestWorkflowRepository_Dedup(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewWorkflowRepository(partition.NewManager(zap.NewNop()))
	ctx := context.Background()

	userID := uniqueToken()
	hash := uniqueHash()

	insert := func(w *models.WorkflowTelemetry) (bool, error) {
		var stored bool
		err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
			var err error
			stored, err = repo.Insert(txCtx, w)
			return err
		})
		return stored, err
	}

	stored, err := insert(newWorkflow(userID, hash))
	require.NoError(t, err)
	assert.True(t, stored)

	// The same user resubmitting the same fingerprint is a no-op.
	stored, err = insert(newWorkflow(userID, hash))
	require.NoError(t, err)
	assert.False(t, stored)

	// A different user submitting the same fingerprint stores a new row.
	stored, err = insert(newWorkflow(uniqueToken(), hash))
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestWorkflowRepository_ConcurrentDedup(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewWorkflowRepository(partition.NewManager(zap.NewNop()))
	ctx := context.Background()

	userID := uniqueToken()
	hash := uniqueHash()

	const submitters = 8
	results := make([]bool, submitters)
	errs := make([]error, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
				var err error
				results[i], err = repo.Insert(txCtx, newWorkflow(userID, hash))
				return err
			})
		}(i)
	}
	wg.Wait()

	storedCount := 0
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			storedCount++
		}
	}
	assert.Equal(t, 1, storedCount, "exactly one racing submission must win")

	workflows, err := repo.List(db.ReadScope(ctx, privileged), models.WorkflowFilter{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, workflows, 1)
}

func TestDeleteBefore_RemovesOnlyExpiredRows(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewEventRepository(partition.NewManager(zap.NewNop()))
	ctx := context.Background()

	userID := uniqueToken()
	old := newEvent(userID)
	old.CreatedAt = time.Now().UTC().AddDate(0, -3, 0)
	fresh := newEvent(userID)

	err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
		if err := repo.Insert(txCtx, old); err != nil {
			return err
		}
		return repo.Insert(txCtx, fresh)
	})
	require.NoError(t, err)

	cutoff := time.Now().UTC().AddDate(0, -1, 0)
	var deleted int64
	err = db.WithUnitOfWork(ctx, system, func(txCtx context.Context) error {
		var err error
		deleted, err = repo.DeleteBefore(txCtx, cutoff)
		return err
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	events, err := repo.List(db.ReadScope(ctx, privileged), models.EventFilter{UserID: userID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fresh.ID, events[0].ID)
}

func TestPartitionManager_DropBefore(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	partitions := partition.NewManager(zap.NewNop())
	repo := NewWorkflowRepository(partitions)
	ctx := context.Background()

	// A backdated insert creates its month's partition on demand.
	old := newWorkflow(uniqueToken(), uniqueHash())
	old.CreatedAt = time.Now().UTC().AddDate(0, -4, 0)
	err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
		_, err := repo.Insert(txCtx, old)
		return err
	})
	require.NoError(t, err)

	oldPartition := partition.Name(models.TableWorkflows, old.CreatedAt)
	cutoff := time.Now().UTC().AddDate(0, -2, 0)

	var dropped []string
	err = db.WithUnitOfWork(ctx, system, func(txCtx context.Context) error {
		// Rows must go before their segments can.
		if _, err := repo.DeleteBefore(txCtx, cutoff); err != nil {
			return err
		}
		scope, ok := database.GetScope(txCtx)
		require.True(t, ok)
		var derr error
		dropped, derr = partitions.DropBefore(txCtx, scope.Q, models.TableWorkflows, cutoff)
		return derr
	})
	require.NoError(t, err)
	assert.Contains(t, dropped, oldPartition)
}

func TestAuditRepository_AppendAndList(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	repo := NewAuditRepository()
	ctx := context.Background()

	count := int64(17)
	entry := &models.AuditLogEntry{
		Operation:   models.OperationDelete,
		TableName:   models.TableEvents,
		RecordCount: &count,
		UserRole:    string(models.RoleSystem),
		Metadata:    map[string]any{"cutoff": "2024-08-31T00:00:00Z"},
	}

	err := db.WithUnitOfWork(ctx, system, func(txCtx context.Context) error {
		return repo.Record(txCtx, entry)
	})
	require.NoError(t, err)

	entries, err := repo.List(db.ReadScope(ctx, privileged), models.AuditFilter{
		Operation: models.OperationDelete,
		TableName: models.TableEvents,
		UserRole:  string(models.RoleSystem),
	})
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	found := false
	for _, e := range entries {
		if e.ID == entry.ID {
			found = true
			assert.EqualValues(t, 17, *e.RecordCount)
			assert.Equal(t, "2024-08-31T00:00:00Z", e.Metadata["cutoff"])
		}
	}
	assert.True(t, found, "recorded entry must be listable")
}

func TestStatsRepository_UniqueUsersAreUnionAcrossStores(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	events := NewEventRepository(partition.NewManager(zap.NewNop()))
	workflows := NewWorkflowRepository(partition.NewManager(zap.NewNop()))
	stats := NewStatsRepository()
	ctx := context.Background()

	// Backdated window no other test writes into, so counts are exact.
	windowStart := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 1, 0)
	at := windowStart.Add(14 * 24 * time.Hour)

	userA, userB, userC := uniqueToken(), uniqueToken(), uniqueToken()

	// 5 events and 2 workflows from 3 users. userA and userB appear in both
	// stores; the distinct count must union them, not add the per-store
	// counts.
	err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
		for _, userID := range []string{userA, userA, userB, userB, userC} {
			ev := newEvent(userID)
			ev.CreatedAt = at
			if err := events.Insert(txCtx, ev); err != nil {
				return err
			}
		}
		for _, userID := range []string{userA, userB} {
			wf := newWorkflow(userID, uniqueHash())
			wf.CreatedAt = at
			if _, err := workflows.Insert(txCtx, wf); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	summary, err := stats.Summary(db.ReadScope(ctx, privileged), windowStart, windowEnd, todayStart)
	require.NoError(t, err)
	assert.EqualValues(t, 5, summary.TotalEvents)
	assert.EqualValues(t, 2, summary.TotalWorkflows)
	assert.EqualValues(t, 3, summary.UniqueUsers, "users in both stores must count once")
}

func TestStatsRepository_Summary(t *testing.T) {
	db := testhelpers.GetTestDB(t).DB
	events := NewEventRepository(partition.NewManager(zap.NewNop()))
	workflows := NewWorkflowRepository(partition.NewManager(zap.NewNop()))
	stats := NewStatsRepository()
	ctx := context.Background()

	userID := uniqueToken()
	err := db.WithUnitOfWork(ctx, anonymous, func(txCtx context.Context) error {
		if err := events.Insert(txCtx, newEvent(userID)); err != nil {
			return err
		}
		_, err := workflows.Insert(txCtx, newWorkflow(userID, uniqueHash()))
		return err
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	summary, err := stats.Summary(db.ReadScope(ctx, privileged),
		now.AddDate(0, 0, -1), now.Add(time.Minute), now.Truncate(24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.TotalEvents, int64(1))
	assert.GreaterOrEqual(t, summary.TotalWorkflows, int64(1))
	assert.GreaterOrEqual(t, summary.UniqueUsers, int64(1))
}
