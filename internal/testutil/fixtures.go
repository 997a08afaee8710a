package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
)

var repoSeq int64

// TestRepository 创建测试仓库
func TestRepository(t *testing.T, db *gorm.DB, ownerID int64, opts ...func(*model.Repository)) *model.Repository {
	t.Helper()

	name := fmt.Sprintf("repo%d", atomic.AddInt64(&repoSeq, 1))
	repo := &model.Repository{
		OwnerID:      ownerID,
		CanonicalURL: "example.com/owner/" + name,
		DisplayName:  name,
		Host:         "example.com",
		FullName:     "owner/" + name,
	}

	for _, opt := range opts {
		opt(repo)
	}

	if err := db.Create(repo).Error; err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}

	return repo
}

// WithCanonicalURL 设置规范地址
func WithCanonicalURL(url string) func(*model.Repository) {
	return func(r *model.Repository) {
		r.CanonicalURL = url
	}
}

// WithWebhookKind 开启 push 自动生成
func WithWebhookKind(kind string) func(*model.Repository) {
	return func(r *model.Repository) {
		r.WebhookKind = kind
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, repo *model.Repository, opts ...func(*model.Job)) *model.Job {
	t.Helper()

	job := &model.Job{
		RepositoryID: repo.ID,
		OwnerID:      repo.OwnerID,
		RepoURL:      "https://" + repo.CanonicalURL + ".git",
		Kind:         model.KindDocstrings,
		Provider:     "fake",
		Model:        "m1",
		Temperature:  0.1,
		MaxTokens:    2048,
		Status:       model.JobStatusPending,
		Stage:        model.StageQueued,
	}

	for _, opt := range opts {
		opt(job)
	}

	if !model.IsTerminalStatus(job.Status) {
		job.ActiveKey = model.ActiveKeyFor(job.RepositoryID)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithJobStatus 设置任务状态
func WithJobStatus(status string) func(*model.Job) {
	return func(j *model.Job) {
		j.Status = status
		if status == model.JobStatusRunning {
			now := time.Now()
			j.StartedAt = &now
		}
	}
}

// WithJobStage 设置运行阶段
func WithJobStage(stage string) func(*model.Job) {
	return func(j *model.Job) {
		j.Stage = stage
	}
}

// WithJobKind 设置文档类型
func WithJobKind(kind string) func(*model.Job) {
	return func(j *model.Job) {
		j.Kind = kind
	}
}

// WithProvider 设置 provider 与模型
func WithProvider(provider, modelName string) func(*model.Job) {
	return func(j *model.Job) {
		j.Provider = provider
		j.Model = modelName
	}
}

// WithRepoURL 设置仓库地址
func WithRepoURL(url string) func(*model.Job) {
	return func(j *model.Job) {
		j.RepoURL = url
	}
}

// WithUpdatedAt 设置更新时间（用于心跳超时测试）
func WithUpdatedAt(at time.Time) func(*model.Job) {
	return func(j *model.Job) {
		j.UpdatedAt = at
		j.CreatedAt = at
	}
}
