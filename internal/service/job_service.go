package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/repository"
)

var (
	ErrJobNotFound      = errors.New("任务不存在")
	ErrJobPermission    = errors.New("无权操作此任务")
	ErrJobConflict      = errors.New("该仓库已有进行中的任务")
	ErrJobTerminal      = errors.New("任务已结束")
	ErrJobNotRetryable  = errors.New("只有失败或已取消的任务可以重试")
	ErrUnknownProvider  = errors.New("未配置的模型提供方")
	ErrUnknownModel     = errors.New("所选模型不可用")
	ErrInvalidJobStatus = errors.New("无效的任务状态筛选")
)

// JobQueue 任务入队
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// jobParams 新建任务的生成参数
type jobParams struct {
	Kind        string
	Provider    string
	Model       string
	Temperature *float64 // nil 时使用配置默认值，0 是合法取值
	MaxTokens   int
	RetryOf     *int64
}

type JobService struct {
	jobRepo   *repository.JobRepository
	eventRepo *repository.JobEventRepository
	repoRepo  *repository.RepositoryRepository
	queue     JobQueue
	publisher ProgressPublisher
	cfg       *config.Config
}

func NewJobService(
	jobRepo *repository.JobRepository,
	eventRepo *repository.JobEventRepository,
	repoRepo *repository.RepositoryRepository,
	queue JobQueue,
	publisher ProgressPublisher,
	cfg *config.Config,
) *JobService {
	return &JobService{
		jobRepo:   jobRepo,
		eventRepo: eventRepo,
		repoRepo:  repoRepo,
		queue:     queue,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Submit 提交任务：校验参数、找到或连接仓库、创建 pending 任务并入队
func (s *JobService) Submit(ctx context.Context, ownerID int64, req *dto.SubmitJobRequest) (*dto.SubmitJobResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	u, err := repourl.Parse(req.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	params := jobParams{
		Kind:        req.Kind,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if err := s.checkProvider(params.Provider, params.Model); err != nil {
		return nil, err
	}

	repo, err := s.findOrConnect(ownerID, u, "")
	if err != nil {
		return nil, err
	}

	job, err := s.createJob(ctx, repo, u, params)
	if err != nil {
		return nil, err
	}

	return &dto.SubmitJobResponse{
		JobID:        job.ID,
		RepositoryID: repo.ID,
		Status:       job.Status,
	}, nil
}

// GetStatus 查询任务状态，无副作用
func (s *JobService) GetStatus(ownerID, jobID int64) (*dto.JobDetail, error) {
	job, err := s.getOwnedJob(ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return buildJobDetail(job), nil
}

// Cancel 请求取消：pending 任务立即取消，running 任务在下一个阶段边界取消
func (s *JobService) Cancel(ctx context.Context, ownerID, jobID int64) (*dto.CancelJobResponse, error) {
	job, err := s.getOwnedJob(ownerID, jobID)
	if err != nil {
		return nil, err
	}

	status, err := s.jobRepo.RequestCancel(job.ID)
	if err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return nil, ErrJobTerminal
		}
		return nil, err
	}

	if status == model.JobStatusCanceled {
		job.Status = status
		s.record(ctx, job, "任务已取消")
	}

	return &dto.CancelJobResponse{
		JobID:           job.ID,
		Status:          status,
		CancelRequested: true,
	}, nil
}

// Retry 以相同参数为失败或已取消的任务创建新任务，原任务不变
func (s *JobService) Retry(ctx context.Context, ownerID, jobID int64) (*dto.SubmitJobResponse, error) {
	old, err := s.getOwnedJob(ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if old.Status != model.JobStatusFailed && old.Status != model.JobStatusCanceled {
		return nil, ErrJobNotRetryable
	}

	u, err := repourl.Parse(old.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	repo, err := s.repoRepo.GetByID(old.RepositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}

	retryOf := old.ID
	temperature := old.Temperature
	job, err := s.createJob(ctx, repo, u, jobParams{
		Kind:        old.Kind,
		Provider:    old.Provider,
		Model:       old.Model,
		Temperature: &temperature,
		MaxTokens:   old.MaxTokens,
		RetryOf:     &retryOf,
	})
	if err != nil {
		return nil, err
	}

	return &dto.SubmitJobResponse{
		JobID:        job.ID,
		RepositoryID: repo.ID,
		Status:       job.Status,
	}, nil
}

// List 获取任务列表
func (s *JobService) List(ownerID int64, page, pageSize int, status string) ([]*dto.JobListItem, int64, error) {
	switch status {
	case "", model.JobStatusPending, model.JobStatusRunning, model.JobStatusCompleted,
		model.JobStatusFailed, model.JobStatusCanceled:
	default:
		return nil, 0, ErrInvalidJobStatus
	}

	jobs, total, err := s.jobRepo.ListByOwner(ownerID, page, pageSize, status)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.JobListItem, len(jobs))
	for i, j := range jobs {
		items[i] = &dto.JobListItem{
			ID:             j.ID,
			RepositoryID:   j.RepositoryID,
			RepoURL:        j.RepoURL,
			Kind:           j.Kind,
			Status:         j.Status,
			ErrorKind:      j.ErrorKind,
			PullRequestURL: j.PullRequestURL,
			CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		}
		if j.Status == model.JobStatusRunning {
			items[i].Stage = j.Stage
		}
	}
	return items, total, nil
}

// Events 获取任务状态流转记录
func (s *JobService) Events(ownerID, jobID int64) ([]*dto.JobEventItem, error) {
	job, err := s.getOwnedJob(ownerID, jobID)
	if err != nil {
		return nil, err
	}

	events, err := s.eventRepo.ListByJob(job.ID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.JobEventItem, len(events))
	for i, e := range events {
		items[i] = &dto.JobEventItem{
			ID:        e.ID,
			Status:    e.Status,
			Stage:     e.Stage,
			Attempt:   e.Attempt,
			ErrorKind: e.ErrorKind,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if len(e.Detail) > 0 {
			items[i].Detail = []byte(e.Detail)
		}
	}
	return items, nil
}

func (s *JobService) checkProvider(provider, modelName string) error {
	pc, ok := s.cfg.Provider(provider)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if !pc.HasModel(modelName) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	return nil
}

// findOrConnect 按规范地址查找用户的仓库，没有则自动连接
func (s *JobService) findOrConnect(ownerID int64, u *repourl.RepoURL, displayName string) (*model.Repository, error) {
	repo, err := s.repoRepo.GetByOwnerAndURL(ownerID, u.Canonical())
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	repo = newRepository(ownerID, u, displayName)
	if err := s.repoRepo.Create(repo); err != nil {
		if errors.Is(err, repository.ErrRepositoryExists) {
			// 并发连接，使用已存在的记录
			return s.repoRepo.GetByOwnerAndURL(ownerID, u.Canonical())
		}
		return nil, err
	}
	return repo, nil
}

// createJob 创建任务、记录首个事件并入队；入队失败由恢复任务补偿
func (s *JobService) createJob(ctx context.Context, repo *model.Repository, u *repourl.RepoURL, p jobParams) (*model.Job, error) {
	temperature := s.cfg.Generation.Temperature
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = s.cfg.Generation.MaxTokens
	}

	job := &model.Job{
		RepositoryID: repo.ID,
		OwnerID:      repo.OwnerID,
		RepoURL:      u.CloneURL(),
		Kind:         p.Kind,
		Provider:     p.Provider,
		Model:        p.Model,
		Temperature:  temperature,
		MaxTokens:    p.MaxTokens,
		RetryOf:      p.RetryOf,
	}
	if err := s.jobRepo.Create(job); err != nil {
		if errors.Is(err, repository.ErrActiveJobExists) {
			return nil, ErrJobConflict
		}
		return nil, err
	}

	var detail map[string]interface{}
	if p.RetryOf != nil {
		detail = map[string]interface{}{"retry_of": *p.RetryOf}
	}
	if err := s.eventRepo.Append(&model.JobEvent{
		JobID:  job.ID,
		Status: job.Status,
		Stage:  job.Stage,
	}, detail); err != nil {
		log.Printf("Job %d: failed to append event: %v", job.ID, err)
	}

	msg := &queue.JobMessage{JobID: job.ID, RepositoryID: job.RepositoryID, OwnerID: job.OwnerID}
	if err := s.queue.Push(ctx, msg); err != nil {
		log.Printf("Job %d: failed to enqueue, left for recovery: %v", job.ID, err)
	}

	log.Printf("Job %d created for %s (%s, %s/%s)", job.ID, u.FullName(), job.Kind, job.Provider, job.Model)
	return job, nil
}

func (s *JobService) getOwnedJob(ownerID, jobID int64) (*model.Job, error) {
	job, err := s.jobRepo.GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobPermission
	}
	return job, nil
}

func (s *JobService) record(ctx context.Context, job *model.Job, message string) {
	if err := s.eventRepo.Append(&model.JobEvent{
		JobID:   job.ID,
		Status:  job.Status,
		Stage:   job.Stage,
		Message: message,
	}, nil); err != nil {
		log.Printf("Job %d: failed to append event: %v", job.ID, err)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		OwnerID:      job.OwnerID,
		RepositoryID: job.RepositoryID,
		JobID:        job.ID,
		Status:       job.Status,
		Stage:        job.Stage,
		Message:      message,
	}); err != nil {
		log.Printf("Job %d: failed to publish progress: %v", job.ID, err)
	}
}

func buildJobDetail(job *model.Job) *dto.JobDetail {
	d := &dto.JobDetail{
		ID:              job.ID,
		RepositoryID:    job.RepositoryID,
		RepoURL:         job.RepoURL,
		Kind:            job.Kind,
		Provider:        job.Provider,
		Model:           job.Model,
		Temperature:     job.Temperature,
		MaxTokens:       job.MaxTokens,
		Status:          job.Status,
		CancelRequested: job.CancelRequested,
		RetryOf:         job.RetryOf,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}

	switch job.Status {
	case model.JobStatusRunning:
		d.Stage = job.Stage
		d.Progress = pubsub.StageProgress[job.Stage]
	case model.JobStatusCompleted:
		d.Progress = 100
	}

	if model.IsTerminalStatus(job.Status) {
		d.Result = &dto.JobResult{
			ErrorKind:      job.ErrorKind,
			ErrorMessage:   job.ErrorMessage,
			PullRequestURL: job.PullRequestURL,
			Branch:         job.Branch,
			FilesChanged:   job.FilesChanged,
			LinesChanged:   job.LinesChanged,
			ArchiveURL:     job.ArchiveURL,
			Warnings:       job.Warnings,
		}
	}
	if job.StartedAt != nil {
		d.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return d
}

// Providers 可选的模型提供方与模型，不返回密钥
func (s *JobService) Providers() []dto.ProviderItem {
	items := make([]dto.ProviderItem, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		item := dto.ProviderItem{Name: p.Name, Type: p.Type, Models: []dto.ModelItem{}}
		for _, m := range p.Models {
			item.Models = append(item.Models, dto.ModelItem{
				Name:        m.Name,
				DisplayName: m.DisplayName,
				Description: m.Description,
			})
		}
		items = append(items, item)
	}
	return items
}
