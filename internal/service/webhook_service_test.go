package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/testutil"
)

const pushPayload = `{
	"ref": "refs/heads/main",
	"after": "abc123",
	"repository": {
		"full_name": "owner/hooked",
		"clone_url": "https://example.com/owner/hooked.git",
		"html_url": "https://example.com/owner/hooked",
		"default_branch": "main"
	}
}`

func setupWebhookService(t *testing.T) (*WebhookService, *jobServiceEnv) {
	t.Helper()
	env := setupJobService(t)
	return NewWebhookService(env.service, env.repoRepo, &env.cfg.Webhook), env
}

func TestWebhookService_Push_CreatesJob(t *testing.T) {
	svc, env := setupWebhookService(t)
	ctx := context.Background()

	hooked := testutil.TestRepository(t, env.db, 1,
		testutil.WithCanonicalURL("example.com/owner/hooked"), testutil.WithWebhookKind(model.KindDocstrings))
	// 同地址但未开启自动生成
	testutil.TestRepository(t, env.db, 2, testutil.WithCanonicalURL("example.com/owner/hooked"))

	result, err := svc.HandleEvent(ctx, EventPush, []byte(pushPayload))
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 1)

	job, err := env.jobRepo.GetByID(result.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, hooked.ID, job.RepositoryID)
	assert.Equal(t, model.KindDocstrings, job.Kind)
	assert.Equal(t, "openai", job.Provider)
	assert.Equal(t, "gpt-4o-mini", job.Model)

	length, err := env.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	// 再次 push 时任务仍在进行中，忽略而不是报错
	result, err = svc.HandleEvent(ctx, EventPush, []byte(pushPayload))
	require.NoError(t, err)
	assert.Empty(t, result.JobIDs)
	assert.Equal(t, 1, result.Ignored)
	assert.Equal(t, "active job exists", result.Reason)
}

func TestWebhookService_Push_Ignored(t *testing.T) {
	svc, env := setupWebhookService(t)
	ctx := context.Background()

	push := func(mutate func(*dto.PushEvent)) *dto.WebhookResult {
		ev := &dto.PushEvent{Ref: "refs/heads/main"}
		ev.Repository.CloneURL = "https://example.com/owner/hooked.git"
		ev.Repository.DefaultBranch = "main"
		mutate(ev)
		result, err := svc.HandlePush(ctx, ev)
		require.NoError(t, err)
		return result
	}

	assert.Equal(t, "repository not connected", push(func(*dto.PushEvent) {}).Reason)

	testutil.TestRepository(t, env.db, 1,
		testutil.WithCanonicalURL("example.com/owner/hooked"), testutil.WithWebhookKind(model.KindReadme))

	assert.Equal(t, "not the default branch", push(func(e *dto.PushEvent) { e.Ref = "refs/heads/feature" }).Reason)
	assert.Equal(t, "not the default branch", push(func(e *dto.PushEvent) { e.Ref = "refs/tags/v1" }).Reason)
	assert.Equal(t, "branch deleted", push(func(e *dto.PushEvent) { e.Deleted = true }).Reason)

	var count int64
	env.db.Model(&model.Job{}).Count(&count)
	assert.Zero(t, count)
}

func TestWebhookService_OtherEvents(t *testing.T) {
	svc, _ := setupWebhookService(t)
	ctx := context.Background()

	result, err := svc.HandleEvent(ctx, EventPing, []byte(`{"zen":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Reason)

	result, err = svc.HandleEvent(ctx, "issues", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "unsupported event", result.Reason)

	_, err = svc.HandleEvent(ctx, EventPush, []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
