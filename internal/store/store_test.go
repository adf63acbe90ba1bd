package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rahulmehra-dev/convoy/internal/store"
	"github.com/rahulmehra-dev/convoy/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("convoy_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func testSubmission() *models.Submission {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Submission{
		ID:           uuid.New(),
		ArtifactPath: "/data/artifacts/job.bundle",
		EntryPoint:   "wordcount.main",
		Args:         []string{"/data/in", "/data/out"},
		DeployMode:   models.DeployModeCluster,
		Status:       models.StatusSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ci-worker-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "cv_abcd",
		Scopes:    []string{models.ScopeWorker},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "cv_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "ci-worker-key", keys[0].Name)
	assert.Equal(t, []string{models.ScopeWorker}, keys[0].Scopes)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "temp",
		KeyHash:   "h",
		KeyPrefix: "cv_temp1",
		Scopes:    []string{models.ScopeSubmit},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "cv_temp1")
	require.NoError(t, err)
	assert.Empty(t, keys, "revoked keys are invisible")

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

// --- Submission Tests ---

func TestSubmission_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	sub := testSubmission()
	require.NoError(t, s.CreateSubmission(ctx, sub))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.EntryPoint, got.EntryPoint)
	assert.Equal(t, sub.Args, got.Args)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Nil(t, got.FailureCause)
}

func TestSubmission_GetUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetSubmission(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmission_Update(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	sub := testSubmission()
	require.NoError(t, s.CreateSubmission(ctx, sub))

	now := time.Now().UTC().Truncate(time.Microsecond)
	cause := models.CauseWorkerLost
	sub.Status = models.StatusLost
	sub.WorkerID = "worker-a"
	sub.FailureCause = &cause
	sub.CompletedAt = &now
	sub.UpdatedAt = now
	require.NoError(t, s.UpdateSubmission(ctx, sub))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLost, got.Status)
	assert.Equal(t, "worker-a", got.WorkerID)
	require.NotNil(t, got.FailureCause)
	assert.Equal(t, models.CauseWorkerLost, *got.FailureCause)
}

func TestSubmission_UpdateUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateSubmission(context.Background(), testSubmission())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmission_ListWithFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSubmission(ctx, testSubmission()))
	}
	done := testSubmission()
	done.Status = models.StatusSucceeded
	require.NoError(t, s.CreateSubmission(ctx, done))

	subs, total, err := s.ListSubmissions(ctx, store.SubmissionFilter{Status: models.StatusSubmitted})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, subs, 3)

	subs, total, err = s.ListSubmissions(ctx, store.SubmissionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, subs, 4)

	subs, total, err = s.ListSubmissions(ctx, store.SubmissionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, subs, 2)
}
