package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/analyzer"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/patch"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/repository"
)

const (
	canceledMessage = "任务已取消"
	timeoutMessage  = "任务执行超时"
	maxWarnings     = 50
)

var (
	errCanceled = errors.New("job canceled")
	// errLost 任务已不在本 worker 的 running 状态（例如被恢复任务判定为丢失）
	errLost = errors.New("job is no longer running on this worker")
)

// ProgressPublisher 进度推送
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// StageError 某个阶段的失败，Kind 为错误分类
type StageError struct {
	Stage   string
	Kind    string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// newStageError 按错误来源归类
func newStageError(stage string, err error) *StageError {
	se := &StageError{Stage: stage, Kind: model.ErrorKindFatal, Message: err.Error(), Err: err}

	var ce *CloneError
	var aerr *ai.Error
	switch {
	// 单次克隆超时也包着 DeadlineExceeded，要先于整体超时判断
	case errors.As(err, &ce):
		se.Message = ce.UserMessage
		if isTransient(ce) {
			se.Kind = model.ErrorKindTransient
		}
	case errors.As(err, &aerr):
		se.Kind = aerr.Kind
	case errors.Is(err, context.DeadlineExceeded):
		se.Kind = model.ErrorKindTransient
		se.Message = timeoutMessage
	case stage == model.StagePatching:
		se.Kind = patch.KindOf(err)
	}
	return se
}

// Processor Job Manager：驱动一个任务依次经过各阶段
type Processor struct {
	jobRepo      *repository.JobRepository
	eventRepo    *repository.JobEventRepository
	workspaces   *Manager
	analyzer     *analyzer.Analyzer
	orchestrator *ai.Orchestrator
	patches      *patch.Generator
	publisher    ProgressPublisher
	cfg          *config.Config

	pullRequests func(creds HostCredentials) (patch.PullRequestClient, error)
}

func NewProcessor(
	jobRepo *repository.JobRepository,
	eventRepo *repository.JobEventRepository,
	workspaces *Manager,
	codeAnalyzer *analyzer.Analyzer,
	orchestrator *ai.Orchestrator,
	patches *patch.Generator,
	publisher ProgressPublisher,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobRepo:      jobRepo,
		eventRepo:    eventRepo,
		workspaces:   workspaces,
		analyzer:     codeAnalyzer,
		orchestrator: orchestrator,
		patches:      patches,
		publisher:    publisher,
		cfg:          cfg,
		pullRequests: func(creds HostCredentials) (patch.PullRequestClient, error) {
			return patch.NewPullRequestClient(creds.Kind, creds.APIURL, creds.Token)
		},
	}
}

// Process 处理一条队列消息。非 pending 的任务直接忽略，因此重复投递是安全的。
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.jobRepo.GetByID(msg.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Job %d not found, dropping message", msg.JobID)
			return nil
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != model.JobStatusPending {
		log.Printf("Job %d is %s, skipping", job.ID, job.Status)
		return nil
	}

	u, verr := p.validate(job)
	if verr != nil {
		if err := p.jobRepo.FailPending(job.ID, model.ErrorKindValidation, verr.Error()); err != nil {
			if errors.Is(err, repository.ErrJobTerminal) {
				return nil
			}
			return fmt.Errorf("failed to fail job: %w", err)
		}
		job.Status = model.JobStatusFailed
		p.record(ctx, job, model.ErrorKindValidation, verr.Error(), nil)
		log.Printf("Job %d rejected: %v", job.ID, verr)
		return nil
	}

	claimed, err := p.jobRepo.Claim(job.ID)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if !claimed {
		log.Printf("Job %d already claimed or canceled", job.ID)
		return nil
	}
	job.Status = model.JobStatusRunning
	job.Stage = model.StageQueued
	p.record(ctx, job, "", "", nil)

	runCtx := ctx
	if p.cfg.Pipeline.JobTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.Pipeline.JobTimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	var ws *Workspace
	res, runErr := p.run(runCtx, job, u, &ws)

	// 工作区必须在写终态之前回收
	if ws != nil {
		if err := p.workspaces.Release(ws); err != nil {
			log.Printf("Job %d: failed to release workspace: %v", job.ID, err)
		}
	}

	if runErr != nil && ctx.Err() != nil {
		// worker 正在退出，留给恢复任务处理
		log.Printf("Job %d interrupted at stage %s: %v", job.ID, job.Stage, ctx.Err())
		return ctx.Err()
	}

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(runErr, errCanceled) && !errors.Is(runErr, errLost) {
		runErr = &StageError{Stage: job.Stage, Kind: model.ErrorKindTransient, Message: timeoutMessage, Err: runErr}
	}

	if err := p.finish(ctx, job, res, runErr); err != nil {
		return err
	}
	log.Printf("Job %d: %s in %s", job.ID, job.Status, time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Processor) validate(job *model.Job) (*repourl.RepoURL, error) {
	if !model.ValidKind(job.Kind) {
		return nil, fmt.Errorf("不支持的文档类型: %s", job.Kind)
	}
	pc, ok := p.cfg.Provider(job.Provider)
	if !ok {
		return nil, fmt.Errorf("未配置的模型提供方: %s", job.Provider)
	}
	if !pc.HasModel(job.Model) {
		return nil, fmt.Errorf("模型 %s 不可用", job.Model)
	}
	return repourl.Parse(job.RepoURL)
}

func (p *Processor) run(ctx context.Context, job *model.Job, u *repourl.RepoURL, ws **Workspace) (*model.JobResult, error) {
	// cloning
	if err := p.enterStage(ctx, job, model.StageCloning); err != nil {
		return nil, err
	}
	creds := ResolveCredentials(p.cfg, u)
	w, err := p.workspaces.Acquire(ctx, job.ID, u, creds)
	if err != nil {
		return nil, newStageError(model.StageCloning, err)
	}
	*ws = w

	// parsing
	if err := p.enterStage(ctx, job, model.StageParsing); err != nil {
		return nil, err
	}
	report, err := p.analyzer.Analyze(ctx, w.Dir)
	if err != nil {
		return nil, newStageError(model.StageParsing, err)
	}
	if len(report.Units) == 0 {
		return nil, &StageError{
			Stage:   model.StageParsing,
			Kind:    model.ErrorKindFatal,
			Message: "no supported source files found",
		}
	}
	log.Printf("Job %d: analyzed %d files (skipped %d, warnings %d)",
		job.ID, len(report.Units), report.Skipped, len(report.Warnings))

	// generating
	if err := p.enterStage(ctx, job, model.StageGenerating); err != nil {
		return nil, err
	}
	result, err := p.orchestrator.Generate(ctx, ai.Request{
		Units:       report.Units,
		Kind:        job.Kind,
		Provider:    job.Provider,
		Model:       job.Model,
		Temperature: &job.Temperature,
		MaxTokens:   job.MaxTokens,
		Credentials: p.providerCredentials(job.Provider),
		Checkpoint: func(done, total int) bool {
			if p.checkStop(ctx, job) != nil {
				return false
			}
			if err := p.jobRepo.Touch(job.ID); err != nil {
				log.Printf("Job %d: failed to refresh heartbeat: %v", job.ID, err)
			}
			return true
		},
	})
	if errors.Is(err, ai.ErrStopped) {
		if stop := p.checkStop(ctx, job); stop != nil {
			return nil, stop
		}
		return nil, errCanceled
	}
	if err != nil {
		return nil, newStageError(model.StageGenerating, err)
	}
	log.Printf("Job %d: generated %d items in %d provider calls", job.ID, len(result.Items), result.Calls)

	// patching
	if err := p.enterStage(ctx, job, model.StagePatching); err != nil {
		return nil, err
	}
	prs, err := p.pullRequests(creds)
	if err != nil {
		return nil, newStageError(model.StagePatching, err)
	}
	env, err := creds.GitEnv()
	if err != nil {
		return nil, newStageError(model.StagePatching, &CloneError{UserMessage: msgBadKey, RawError: err})
	}
	git := patch.NewGit(w.Dir, p.cfg.Git.AuthorName, p.cfg.Git.AuthorEmail)
	git.Env = env
	git.Redact = creds.Redact

	pt, err := p.patches.CreatePatch(ctx, &patch.Target{
		Dir:        w.Dir,
		Owner:      u.Owner,
		Repo:       u.Name,
		BaseBranch: w.DefaultBranch,
		Git:        git,
		PRs:        prs,
	}, job, result)
	if err != nil {
		return nil, newStageError(model.StagePatching, err)
	}

	var warnings []string
	warnings = append(warnings, report.Warnings...)
	warnings = append(warnings, result.Warnings...)
	warnings = append(warnings, pt.Warnings...)

	return &model.JobResult{
		PullRequestURL: pt.PullRequestURL,
		Branch:         pt.Branch,
		FilesChanged:   pt.FilesChanged(),
		LinesChanged:   pt.LinesChanged(),
		ArchiveURL:     pt.ArchiveURL,
		Warnings:       capWarnings(warnings),
	}, nil
}

// enterStage 阶段边界：检查取消、持久化阶段、记录事件并推送进度
func (p *Processor) enterStage(ctx context.Context, job *model.Job, stage string) error {
	if err := p.checkStop(ctx, job); err != nil {
		return err
	}

	ok, err := p.jobRepo.AdvanceStage(job.ID, stage)
	if err != nil {
		return &StageError{Stage: stage, Kind: model.ErrorKindTransient, Message: "failed to persist stage", Err: err}
	}
	if !ok {
		return errLost
	}

	job.Stage = stage
	log.Printf("Job %d: stage %s", job.ID, stage)
	p.record(ctx, job, "", "", nil)
	return nil
}

// checkStop 返回应当停止的原因；数据库暂时不可用时不中断任务
func (p *Processor) checkStop(ctx context.Context, job *model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	canceled, err := p.jobRepo.IsCancelRequested(job.ID)
	if err != nil {
		log.Printf("Job %d: failed to check cancellation: %v", job.ID, err)
		return nil
	}
	if canceled {
		return errCanceled
	}
	return nil
}

func (p *Processor) finish(ctx context.Context, job *model.Job, res *model.JobResult, runErr error) error {
	status := model.JobStatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, errLost):
		log.Printf("Job %d was finished elsewhere, dropping result", job.ID)
		return nil
	case errors.Is(runErr, errCanceled):
		status = model.JobStatusCanceled
		res = &model.JobResult{ErrorMessage: canceledMessage}
	default:
		var se *StageError
		if !errors.As(runErr, &se) {
			se = newStageError(job.Stage, runErr)
		}
		status = model.JobStatusFailed
		res = &model.JobResult{ErrorKind: se.Kind, ErrorMessage: se.Message}
		log.Printf("Job %d failed at %s (%s): %v", job.ID, se.Stage, se.Kind, runErr)
	}

	if err := p.jobRepo.Finish(job.ID, status, res); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			log.Printf("Job %d already terminal, dropping %s result", job.ID, status)
			return nil
		}
		return fmt.Errorf("failed to finish job: %w", err)
	}

	job.Status = status
	var detail map[string]interface{}
	if status == model.JobStatusCompleted {
		job.Stage = model.StageDone
		detail = map[string]interface{}{
			"pull_request_url": res.PullRequestURL,
			"branch":           res.Branch,
			"files_changed":    res.FilesChanged,
			"lines_changed":    res.LinesChanged,
		}
	}
	p.record(ctx, job, res.ErrorKind, res.ErrorMessage, detail)
	return nil
}

// record 追加事件并推送进度，两者失败都只记日志
func (p *Processor) record(ctx context.Context, job *model.Job, kind, message string, detail map[string]interface{}) {
	if p.eventRepo != nil {
		err := p.eventRepo.Append(&model.JobEvent{
			JobID:     job.ID,
			Status:    job.Status,
			Stage:     job.Stage,
			ErrorKind: kind,
			Message:   message,
		}, detail)
		if err != nil {
			log.Printf("Job %d: failed to append event: %v", job.ID, err)
		}
	}

	if p.publisher == nil {
		return
	}
	msg := &pubsub.ProgressMessage{
		OwnerID:      job.OwnerID,
		RepositoryID: job.RepositoryID,
		JobID:        job.ID,
		Status:       job.Status,
		Stage:        job.Stage,
		ErrorKind:    kind,
	}
	switch job.Status {
	case model.JobStatusFailed:
		msg.Error = message
	case model.JobStatusCanceled:
		msg.Message = message
	}
	if url, ok := detail["pull_request_url"].(string); ok {
		msg.PullRequestURL = url
	}
	if err := p.publisher.PublishProgress(ctx, msg); err != nil {
		log.Printf("Job %d: failed to publish progress: %v", job.ID, err)
	}
}

func (p *Processor) providerCredentials(name string) ai.Credentials {
	if pc, ok := p.cfg.Provider(name); ok {
		return ai.Credentials{APIKey: pc.APIKey}
	}
	return ai.Credentials{}
}

func capWarnings(warnings []string) []string {
	if len(warnings) <= maxWarnings {
		return warnings
	}
	out := append([]string{}, warnings[:maxWarnings]...)
	return append(out, fmt.Sprintf("... and %d more", len(warnings)-maxWarnings))
}
