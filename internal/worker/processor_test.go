package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/analyzer"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/patch"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/retry"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/testutil"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

// newBareRemote 创建带一次提交的裸仓库，默认分支 main
func newBareRemote(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	base := t.TempDir()
	remote := filepath.Join(base, "remote.git")
	seed := filepath.Join(base, "seed")

	gitCmd(t, base, "init", "--bare", remote)
	gitCmd(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")
	gitCmd(t, base, "init", seed)
	for rel, content := range files {
		path := filepath.Join(seed, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	gitCmd(t, seed, "add", "-A")
	gitCmd(t, seed, "-c", "commit.gpgsign=false", "commit", "-m", "initial")
	gitCmd(t, seed, "push", remote, "HEAD:refs/heads/main")
	return remote
}

type stubProvider struct {
	output string
	err    error
	onCall func()
	block  bool // 阻塞到 ctx 结束
}

func (p *stubProvider) Generate(ctx context.Context, prompt ai.Prompt, cfg ai.ModelConfig, creds ai.Credentials) (string, error) {
	if p.onCall != nil {
		p.onCall()
	}
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	return p.output, nil
}

type stubPRs struct {
	created []patch.PullRequestInput
}

func (s *stubPRs) FindOpen(ctx context.Context, owner, repo, headPrefix string) (*patch.PullRequest, error) {
	return nil, nil
}

func (s *stubPRs) Create(ctx context.Context, in patch.PullRequestInput) (*patch.PullRequest, error) {
	s.created = append(s.created, in)
	n := len(s.created)
	return &patch.PullRequest{Number: n, URL: fmt.Sprintf("https://example.com/%s/%s/pull/%d", in.Owner, in.Repo, n), Head: in.Head}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*pubsub.ProgressMessage
}

func (r *recordingPublisher) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingPublisher) last() *pubsub.ProgressMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

type processorEnv struct {
	db        *gorm.DB
	jobRepo   *repository.JobRepository
	eventRepo *repository.JobEventRepository
	processor  *Processor
	workspaces *Manager
	provider   *stubProvider
	prs       *stubPRs
	publisher *recordingPublisher
	root      string
}

func newProcessorEnv(t *testing.T, remote string) *processorEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := &config.Config{
		Providers: []config.ProviderConfig{{Name: "fake", Models: []config.ModelConfig{{Name: "m1"}}}},
		Git:       config.GitConfig{AuthorName: "docgen-bot", AuthorEmail: "bot@example.com", BranchPrefix: "docs/job-"},
		Pipeline:  config.PipelineConfig{JobTimeoutSeconds: 60},
	}

	env := &processorEnv{
		db:        db,
		jobRepo:   repository.NewJobRepository(db),
		eventRepo: repository.NewJobEventRepository(db),
		provider:  &stubProvider{output: `{"main": "Entry point."}`},
		prs:       &stubPRs{},
		publisher: &recordingPublisher{},
		root:      t.TempDir(),
	}

	workspaces := NewManager(ManagerOptions{Root: env.root, Attempts: 1, BaseDelay: time.Millisecond})
	workspaces.cloneURL = func(u *repourl.RepoURL, creds HostCredentials) string {
		return "file://" + remote
	}
	env.workspaces = workspaces

	registry := ai.NewRegistry()
	registry.Register("fake", env.provider)
	orchestrator := ai.NewOrchestrator(registry, ai.Options{Attempts: 2, BaseDelay: time.Millisecond})

	generator := patch.NewGenerator("docs/job-", nil, filepath.Join(t.TempDir(), "archives"),
		retry.Policy{Attempts: 2, BaseDelay: time.Millisecond})

	env.processor = NewProcessor(env.jobRepo, env.eventRepo, workspaces, analyzer.New(nil, analyzer.Options{}),
		orchestrator, generator, env.publisher, cfg)
	env.processor.pullRequests = func(HostCredentials) (patch.PullRequestClient, error) {
		return env.prs, nil
	}
	return env
}

func (e *processorEnv) process(t *testing.T, job *model.Job) *model.Job {
	t.Helper()
	err := e.processor.Process(context.Background(), &queue.JobMessage{JobID: job.ID, RepositoryID: job.RepositoryID, OwnerID: job.OwnerID})
	require.NoError(t, err)
	got, err := e.jobRepo.GetByID(job.ID)
	require.NoError(t, err)
	return got
}

func (e *processorEnv) stages(t *testing.T, jobID int64) []string {
	t.Helper()
	events, err := e.eventRepo.ListByJob(jobID)
	require.NoError(t, err)
	var out []string
	for _, ev := range events {
		out = append(out, ev.Status+"/"+ev.Stage)
	}
	return out
}

var goSource = map[string]string{"main.go": "package main\n\nfunc main() {}\n"}

func TestProcessor_Process_Completed(t *testing.T) {
	remote := newBareRemote(t, goSource)
	env := newProcessorEnv(t, remote)
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, model.StageDone, got.Stage)
	assert.Empty(t, got.ErrorKind)
	assert.Equal(t, "https://example.com/owner/"+repo.DisplayName+"/pull/1", got.PullRequestURL)
	assert.True(t, strings.HasPrefix(got.Branch, fmt.Sprintf("docs/job-%d-", job.ID)))
	assert.Equal(t, 1, got.FilesChanged)
	assert.Equal(t, 1, got.LinesChanged)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ActiveKey)

	require.Len(t, env.prs.created, 1)
	assert.Equal(t, "main", env.prs.created[0].Base)

	// 分支已推送到远端
	heads := gitCmd(t, remote, "branch", "--list", "docs/job-*")
	assert.Contains(t, heads, got.Branch)

	assert.Equal(t, []string{
		"running/queued",
		"running/cloning",
		"running/parsing",
		"running/generating",
		"running/patching",
		"completed/done",
	}, env.stages(t, job.ID))

	last := env.publisher.last()
	require.NotNil(t, last)
	assert.Equal(t, model.JobStatusCompleted, last.Status)
	assert.Equal(t, got.PullRequestURL, last.PullRequestURL)

	// 工作区已回收
	entries, err := os.ReadDir(env.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessor_Process_CanceledDuringGeneration(t *testing.T) {
	remote := newBareRemote(t, goSource)
	env := newProcessorEnv(t, remote)
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	env.provider.onCall = func() {
		_, err := env.jobRepo.RequestCancel(job.ID)
		assert.NoError(t, err)
	}

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusCanceled, got.Status)
	assert.Equal(t, model.StageGenerating, got.Stage)
	assert.Empty(t, got.PullRequestURL)
	assert.Empty(t, env.prs.created)

	heads := gitCmd(t, remote, "branch", "--list", "docs/job-*")
	assert.Empty(t, heads)

	last := env.publisher.last()
	require.NotNil(t, last)
	assert.Equal(t, model.JobStatusCanceled, last.Status)
}

func TestProcessor_Process_ValidationFailure(t *testing.T) {
	env := newProcessorEnv(t, "/nonexistent")

	tests := []struct {
		name string
		opt  func(*model.Job)
		want string
	}{
		{"unknown provider", testutil.WithProvider("nope", "m1"), "未配置的模型提供方"},
		{"unknown model", testutil.WithProvider("fake", "m9"), "模型 m9 不可用"},
		{"bad url", testutil.WithRepoURL("ftp://example.com/a/b"), ""},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := testutil.TestRepository(t, env.db, int64(i+1))
			job := testutil.TestJob(t, env.db, repo, tt.opt)

			got := env.process(t, job)

			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, model.ErrorKindValidation, got.ErrorKind)
			assert.Contains(t, got.ErrorMessage, tt.want)
			assert.Equal(t, []string{"failed/queued"}, env.stages(t, job.ID))
		})
	}
}

func TestProcessor_Process_ProviderRejected(t *testing.T) {
	remote := newBareRemote(t, goSource)
	env := newProcessorEnv(t, remote)
	env.provider.err = &ai.Error{Kind: model.ErrorKindProviderRejected, Provider: "fake", StatusCode: 401, Err: errors.New("invalid api key")}
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StageGenerating, got.Stage)
	assert.Equal(t, model.ErrorKindProviderRejected, got.ErrorKind)
	assert.Contains(t, got.ErrorMessage, "invalid api key")

	last := env.publisher.last()
	require.NotNil(t, last)
	assert.Equal(t, model.ErrorKindProviderRejected, last.ErrorKind)
	assert.NotEmpty(t, last.Error)
}

func TestProcessor_Process_CloneFailure(t *testing.T) {
	env := newProcessorEnv(t, filepath.Join(t.TempDir(), "missing.git"))
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StageCloning, got.Stage)
	assert.Equal(t, model.ErrorKindFatal, got.ErrorKind)
	assert.Equal(t, msgNotFound, got.ErrorMessage)
}

func TestProcessor_Process_CloneRetriesExhausted(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	env := newProcessorEnv(t, "")
	env.workspaces.opts.Attempts = 3
	attempts := 0
	env.workspaces.cloneURL = func(*repourl.RepoURL, HostCredentials) string {
		attempts++
		return "https://127.0.0.1:1/owner/repo.git"
	}
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StageCloning, got.Stage)
	assert.Equal(t, model.ErrorKindTransient, got.ErrorKind)
	assert.Equal(t, msgUnreachable, got.ErrorMessage)
	assert.Equal(t, 3, attempts)
	assert.Nil(t, got.ActiveKey)

	entries, err := os.ReadDir(env.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessor_Process_CloneAttemptTimeout(t *testing.T) {
	env := newProcessorEnv(t, newBareRemote(t, goSource))
	env.workspaces.opts.CloneTimeout = time.Nanosecond
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	// 单次克隆超时不是整个任务超时
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.ErrorKindTransient, got.ErrorKind)
	assert.Equal(t, msgTimeout, got.ErrorMessage)
}

func TestProcessor_Process_JobTimeout(t *testing.T) {
	env := newProcessorEnv(t, newBareRemote(t, goSource))
	env.processor.cfg.Pipeline.JobTimeoutSeconds = 1
	env.provider.block = true
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StageGenerating, got.Stage)
	assert.Equal(t, model.ErrorKindTransient, got.ErrorKind)
	assert.Equal(t, timeoutMessage, got.ErrorMessage)
	assert.Empty(t, env.prs.created)
}

func TestProcessor_Process_SSHKeyUnreadableAtPatching(t *testing.T) {
	env := newProcessorEnv(t, newBareRemote(t, goSource))
	keyPath := writeKey(t)
	env.processor.cfg.Git.Hosts = []config.HostConfig{{Host: "example.com", SSHKeyPath: keyPath}}
	env.provider.onCall = func() {
		assert.NoError(t, os.Remove(keyPath))
	}
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StagePatching, got.Stage)
	assert.Equal(t, model.ErrorKindFatal, got.ErrorKind)
	assert.Equal(t, msgBadKey, got.ErrorMessage)
	assert.Empty(t, env.prs.created)
}

func TestProcessor_Process_NoChanges(t *testing.T) {
	remote := newBareRemote(t, goSource)
	env := newProcessorEnv(t, remote)
	env.provider.output = `{"main": ""}`
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo)

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.StagePatching, got.Stage)
	assert.Equal(t, model.ErrorKindFatal, got.ErrorKind)
	assert.Contains(t, got.ErrorMessage, "no documentation changes produced")
	assert.Empty(t, env.prs.created)
}

func TestProcessor_Process_SkipsNonPending(t *testing.T) {
	env := newProcessorEnv(t, "/nonexistent")
	repo := testutil.TestRepository(t, env.db, 1)
	job := testutil.TestJob(t, env.db, repo, testutil.WithJobStatus(model.JobStatusCompleted))

	got := env.process(t, job)

	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Empty(t, env.stages(t, job.ID))
	assert.Nil(t, env.publisher.last())
}

func TestProcessor_Process_MissingJob(t *testing.T) {
	env := newProcessorEnv(t, "/nonexistent")
	err := env.processor.Process(context.Background(), &queue.JobMessage{JobID: 404})
	assert.NoError(t, err)
}

func TestNewStageError(t *testing.T) {
	tests := []struct {
		name    string
		stage   string
		err     error
		kind    string
		message string
	}{
		{"deadline", model.StageGenerating, fmt.Errorf("wrap: %w", context.DeadlineExceeded), model.ErrorKindTransient, timeoutMessage},
		{"clone attempt timeout", model.StageCloning, &CloneError{UserMessage: msgTimeout, RawError: fmt.Errorf("%w, output: ", context.DeadlineExceeded)}, model.ErrorKindTransient, msgTimeout},
		{"clone not found", model.StageCloning, &CloneError{UserMessage: msgNotFound, RawError: errors.New("x")}, model.ErrorKindFatal, msgNotFound},
		{"clone unreachable", model.StageCloning, &CloneError{UserMessage: msgUnreachable, RawError: errors.New("x")}, model.ErrorKindTransient, msgUnreachable},
		{"provider transient", model.StageGenerating, &ai.Error{Kind: model.ErrorKindTransient, Provider: "p", Err: errors.New("429")}, model.ErrorKindTransient, "p: 429"},
		{"patch conflict", model.StagePatching, fmt.Errorf("push: %w", patch.ErrConflict), model.ErrorKindConflict, ""},
		{"other", model.StageParsing, errors.New("boom"), model.ErrorKindFatal, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := newStageError(tt.stage, tt.err)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Contains(t, se.Message, tt.message)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestCapWarnings(t *testing.T) {
	var warnings []string
	for i := 0; i < maxWarnings+5; i++ {
		warnings = append(warnings, fmt.Sprintf("w%d", i))
	}
	got := capWarnings(warnings)
	assert.Len(t, got, maxWarnings+1)
	assert.Equal(t, "... and 5 more", got[maxWarnings])

	assert.Equal(t, []string{"a"}, capWarnings([]string{"a"}))
}
