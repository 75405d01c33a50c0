package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	stdsql "database/sql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/codeready-toolchain/agentrunner/internal/config"
)

func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, runMigrations(db, "test"))

	client := NewClientFromDB(db)
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleRecord(uuid, keyHash string) *TaskRecord {
	return &TaskRecord{
		UUID:       uuid,
		KeyHash:    keyHash,
		TaskSource: "github",
		TaskType:   "issue",
		Owner:      "acme",
		Repo:       "widgets",
		Number:     42,
		Status:     StatusRunning,
		CreatedAt:  time.Now().UTC(),
		Requester:  "alice",
	}
}

func TestInsertAndGetByUUID(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord("11111111-1111-1111-1111-111111111111", "hash-a")
	require.NoError(t, client.Insert(ctx, rec))

	got, err := client.GetByUUID(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, rec.Owner, got.Owner)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestGetByUUIDNotFound(t *testing.T) {
	client := newTestClient(t)
	_, err := client.GetByUUID(context.Background(), "22222222-2222-2222-2222-222222222222")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusSetsCompletedAtOnlyForTerminalStates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord("33333333-3333-3333-3333-333333333333", "hash-b")
	require.NoError(t, client.Insert(ctx, rec))

	require.NoError(t, client.UpdateStatus(ctx, rec.UUID, StatusPaused, ""))
	got, err := client.GetByUUID(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, client.UpdateStatus(ctx, rec.UUID, StatusCompleted, ""))
	got, err = client.GetByUUID(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestIncrementCounters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord("44444444-4444-4444-4444-444444444444", "hash-c")
	require.NoError(t, client.Insert(ctx, rec))

	require.NoError(t, client.IncrementCounters(ctx, rec.UUID, 1, 2, 500, 0))
	require.NoError(t, client.IncrementCounters(ctx, rec.UUID, 1, 1, 200, 1))

	got, err := client.GetByUUID(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LLMCallCount)
	assert.Equal(t, 3, got.ToolCallCount)
	assert.Equal(t, 700, got.TotalTokens)
	assert.Equal(t, 1, got.CompressionCount)
}

func TestFindInheritableReturnsMostRecentCompletedOrStopped(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	older := sampleRecord("55555555-5555-5555-5555-555555555555", "hash-d")
	older.Status = StatusCompleted
	require.NoError(t, client.Insert(ctx, older))
	require.NoError(t, client.UpdateStatus(ctx, older.UUID, StatusCompleted, ""))

	time.Sleep(10 * time.Millisecond)

	newer := sampleRecord("66666666-6666-6666-6666-666666666666", "hash-d")
	newer.Status = StatusStopped
	require.NoError(t, client.Insert(ctx, newer))
	require.NoError(t, client.UpdateStatus(ctx, newer.UUID, StatusStopped, ""))

	found, err := client.FindInheritable(ctx, "hash-d", 90*24*time.Hour, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, newer.UUID, found.UUID)
}

func TestFindInheritableRespectsExpiry(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord("77777777-7777-7777-7777-777777777777", "hash-e")
	require.NoError(t, client.Insert(ctx, rec))
	require.NoError(t, client.UpdateStatus(ctx, rec.UUID, StatusCompleted, ""))

	_, err := client.FindInheritable(ctx, "hash-e", 0, time.Now().UTC().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindStaleRunning(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := sampleRecord("88888888-8888-8888-8888-888888888888", "hash-f")
	rec.Hostname = "worker-1"
	require.NoError(t, client.Insert(ctx, rec))

	stale, err := client.FindStaleRunning(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, rec.UUID, stale[0].UUID)

	none, err := client.FindStaleRunning(ctx, "worker-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNewClientValidatesDSN(t *testing.T) {
	_, err := NewClient(context.Background(), config.DatabaseConfig{
		Host: "127.0.0.1", Port: 1, Database: "nope", MaxOpenConns: 1,
	})
	assert.Error(t, err)
}
