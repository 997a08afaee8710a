package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/testutil"
)

func setupCronService(t *testing.T, opts Options) (*Service, *gorm.DB, *queue.Queue) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	client, _ := testutil.SetupTestRedis(t)
	q := queue.NewQueue(client, "test_jobs")

	svc := NewService(repository.NewJobRepository(db), repository.NewJobEventRepository(db), q, opts)
	return svc, db, q
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(nil, nil, nil, Options{})

	assert.Equal(t, 5*time.Minute, svc.opts.Interval)
	assert.Equal(t, time.Hour, svc.opts.ExpireAfter)
	assert.NotNil(t, svc.stopChan)
}

func TestService_StartAndStop(t *testing.T) {
	svc, _, _ := setupCronService(t, Options{Interval: time.Hour})

	svc.Start()
	time.Sleep(10 * time.Millisecond)
	svc.Stop()
}

func TestService_RecoverStale(t *testing.T) {
	svc, db, _ := setupCronService(t, Options{StaleAfter: 30 * time.Minute})

	stale := testutil.TestJob(t, db, testutil.TestRepository(t, db, 1),
		testutil.WithJobStatus(model.JobStatusRunning),
		testutil.WithJobStage(model.StageGenerating),
		testutil.WithUpdatedAt(time.Now().Add(-time.Hour)))
	fresh := testutil.TestJob(t, db, testutil.TestRepository(t, db, 1),
		testutil.WithJobStatus(model.JobStatusRunning))

	n := svc.RecoverStale(context.Background())
	assert.Equal(t, 1, n)

	jobRepo := repository.NewJobRepository(db)
	got, err := jobRepo.GetByID(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.ErrorKindFatal, got.ErrorKind)
	assert.Equal(t, "worker lost", got.ErrorMessage)
	assert.Equal(t, model.StageGenerating, got.Stage)
	assert.Nil(t, got.ActiveKey)

	other, err := jobRepo.GetByID(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, other.Status)

	events, err := repository.NewJobEventRepository(db).ListByJob(stale.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.JobStatusFailed, events[0].Status)

	// 第二次执行无事可做
	assert.Equal(t, 0, svc.RecoverStale(context.Background()))
}

func TestService_RecoverStale_Disabled(t *testing.T) {
	svc, db, _ := setupCronService(t, Options{})

	testutil.TestJob(t, db, testutil.TestRepository(t, db, 1),
		testutil.WithJobStatus(model.JobStatusRunning),
		testutil.WithUpdatedAt(time.Now().Add(-24*time.Hour)))

	assert.Equal(t, 0, svc.RecoverStale(context.Background()))
}

func TestService_RequeuePending(t *testing.T) {
	svc, db, q := setupCronService(t, Options{Interval: 5 * time.Minute})
	ctx := context.Background()

	old := testutil.TestJob(t, db, testutil.TestRepository(t, db, 7),
		testutil.WithUpdatedAt(time.Now().Add(-time.Hour)))
	testutil.TestJob(t, db, testutil.TestRepository(t, db, 7))

	assert.Equal(t, 1, svc.RequeuePending(ctx))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, old.ID, msg.JobID)
	assert.Equal(t, int64(7), msg.OwnerID)

	// 入队后刷新了 updated_at，下一轮不会重复入队
	assert.Equal(t, 0, svc.RequeuePending(ctx))
}

func TestService_SweepWorkspaces(t *testing.T) {
	root := t.TempDir()
	svc, _, _ := setupCronService(t, Options{WorkspaceRoot: root, ExpireAfter: time.Hour})

	expired := filepath.Join(root, "docgen_1_abcdef12")
	recent := filepath.Join(root, "docgen_2_abcdef12")
	foreign := filepath.Join(root, "other_dir")
	for _, dir := range []string{expired, recent, foreign} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(expired, past, past))
	require.NoError(t, os.Chtimes(foreign, past, past))

	assert.Equal(t, 1, svc.SweepWorkspaces())

	assert.NoDirExists(t, expired)
	assert.DirExists(t, recent)
	assert.DirExists(t, foreign)
}
