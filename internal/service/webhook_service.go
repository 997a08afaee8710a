package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/model/dto"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/repository"
)

const (
	EventPing = "ping"
	EventPush = "push"
)

// WebhookService 处理已通过签名校验的仓库事件
type WebhookService struct {
	jobService *JobService
	repoRepo   *repository.RepositoryRepository
	cfg        *config.WebhookConfig
}

func NewWebhookService(jobService *JobService, repoRepo *repository.RepositoryRepository, cfg *config.WebhookConfig) *WebhookService {
	return &WebhookService{
		jobService: jobService,
		repoRepo:   repoRepo,
		cfg:        cfg,
	}
}

// HandleEvent 按事件类型分发，不支持的事件直接忽略
func (s *WebhookService) HandleEvent(ctx context.Context, event string, payload []byte) (*dto.WebhookResult, error) {
	switch event {
	case EventPing:
		return &dto.WebhookResult{Event: event, Reason: "pong"}, nil
	case EventPush:
		var push dto.PushEvent
		if err := json.Unmarshal(payload, &push); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return s.HandlePush(ctx, &push)
	default:
		return &dto.WebhookResult{Event: event, Reason: "unsupported event"}, nil
	}
}

// HandlePush 默认分支的 push 为每个开启自动生成的仓库创建任务；已有进行中任务时忽略
func (s *WebhookService) HandlePush(ctx context.Context, push *dto.PushEvent) (*dto.WebhookResult, error) {
	result := &dto.WebhookResult{Event: EventPush}

	if push.Deleted {
		result.Reason = "branch deleted"
		return result, nil
	}
	if push.Repository.DefaultBranch == "" || push.Ref != "refs/heads/"+push.Repository.DefaultBranch {
		result.Reason = "not the default branch"
		return result, nil
	}

	u, err := repourl.Parse(push.Repository.CloneURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	repos, err := s.repoRepo.ListWebhookEnabledByURL(u.Canonical())
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		result.Reason = "repository not connected"
		return result, nil
	}

	for _, repo := range repos {
		req := &dto.SubmitJobRequest{
			RepoURL:  push.Repository.CloneURL,
			Kind:     repo.WebhookKind,
			Provider: s.cfg.Provider,
			Model:    s.cfg.Model,
		}
		if req.Kind == "" {
			req.Kind = s.cfg.Kind
		}
		if err := validateRequest(req); err != nil {
			return nil, err
		}
		if err := s.jobService.checkProvider(req.Provider, req.Model); err != nil {
			return nil, err
		}

		job, err := s.jobService.createJob(ctx, repo, u, jobParams{
			Kind:     req.Kind,
			Provider: req.Provider,
			Model:    req.Model,
		})
		if err != nil {
			if errors.Is(err, ErrJobConflict) {
				result.Ignored++
				continue
			}
			return nil, err
		}
		result.JobIDs = append(result.JobIDs, job.ID)
	}

	log.Printf("Webhook push %s@%s: created %d job(s), ignored %d",
		push.Repository.FullName, push.After, len(result.JobIDs), result.Ignored)
	if len(result.JobIDs) == 0 && result.Ignored > 0 {
		result.Reason = "active job exists"
	}
	return result, nil
}
