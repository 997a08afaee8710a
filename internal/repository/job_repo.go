package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/internal/model"
)

var (
	ErrActiveJobExists = errors.New("repository already has an active job")
	ErrJobTerminal     = errors.New("job already finished")
)

var nonTerminal = []string{model.JobStatusPending, model.JobStatusRunning}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create 新建任务；同仓库已有非终态任务时返回 ErrActiveJobExists
func (r *JobRepository) Create(job *model.Job) error {
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.Stage == "" {
		job.Stage = model.StageQueued
	}
	if !model.IsTerminalStatus(job.Status) {
		job.ActiveKey = model.ActiveKeyFor(job.RepositoryID)
	}

	if err := r.db.Create(job).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrActiveJobExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(id int64) (*model.Job, error) {
	var job model.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActiveByRepository 获取仓库当前的非终态任务
func (r *JobRepository) GetActiveByRepository(repositoryID int64) (*model.Job, error) {
	var job model.Job
	err := r.db.Where("repository_id = ? AND status IN ?", repositoryID, nonTerminal).
		Order("id DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByOwner 分页获取用户的任务
func (r *JobRepository) ListByOwner(ownerID int64, page, pageSize int, status string) ([]*model.Job, int64, error) {
	var jobs []*model.Job
	var total int64

	query := r.db.Model(&model.Job{}).Where("owner_id = ?", ownerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&jobs).Error

	return jobs, total, err
}

// Claim 原子地将 pending 任务置为 running，只有一个调用方能成功
func (r *JobRepository) Claim(id int64) (bool, error) {
	now := time.Now()
	result := r.db.Model(&model.Job{}).
		Where("id = ? AND status = ? AND cancel_requested = ?", id, model.JobStatusPending, false).
		Updates(map[string]interface{}{
			"status":     model.JobStatusRunning,
			"stage":      model.StageQueued,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AdvanceStage 推进运行阶段，阶段只能前进或原地重入
func (r *JobRepository) AdvanceStage(id int64, stage string) (bool, error) {
	idx := model.StageIndex(stage)
	if idx < 0 {
		return false, errors.New("unknown stage: " + stage)
	}

	allowed := make([]string, 0, idx+1)
	for _, s := range []string{
		model.StageQueued, model.StageCloning, model.StageParsing,
		model.StageGenerating, model.StagePatching, model.StageDone,
	} {
		if model.StageIndex(s) <= idx {
			allowed = append(allowed, s)
		}
	}

	result := r.db.Model(&model.Job{}).
		Where("id = ? AND status = ? AND stage IN ?", id, model.JobStatusRunning, allowed).
		Updates(map[string]interface{}{
			"stage":      stage,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Touch 刷新 updated_at：running 时作为心跳，pending 时记录最近一次入队
func (r *JobRepository) Touch(id int64) error {
	return r.db.Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Update("updated_at", time.Now()).Error
}

// Finish 写入终态并释放仓库占用；已是终态时返回 ErrJobTerminal
func (r *JobRepository) Finish(id int64, status string, res *model.JobResult) error {
	if !model.IsTerminalStatus(status) {
		return errors.New("not a terminal status: " + status)
	}
	if res == nil {
		res = &model.JobResult{}
	}

	warnings := model.StringArray(res.Warnings)
	now := time.Now()
	updates := map[string]interface{}{
		"status":           status,
		"active_key":       gorm.Expr("NULL"),
		"error_kind":       res.ErrorKind,
		"error_message":    res.ErrorMessage,
		"pull_request_url": res.PullRequestURL,
		"branch":           res.Branch,
		"files_changed":    res.FilesChanged,
		"lines_changed":    res.LinesChanged,
		"archive_url":      res.ArchiveURL,
		"warnings":         warnings,
		"completed_at":     now,
		"updated_at":       now,
	}
	if status == model.JobStatusCompleted {
		updates["stage"] = model.StageDone
	}

	result := r.db.Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// FailPending 未被领取的任务直接失败（参数校验不通过），不经过 running
func (r *JobRepository) FailPending(id int64, kind, message string) error {
	now := time.Now()
	result := r.db.Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"active_key":    gorm.Expr("NULL"),
			"error_kind":    kind,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobTerminal
	}
	return nil
}

// RequestCancel 请求取消：pending 直接取消，running 仅设置标记等待阶段边界处理
func (r *JobRepository) RequestCancel(id int64) (string, error) {
	var status string
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}

		switch job.Status {
		case model.JobStatusPending:
			now := time.Now()
			res := tx.Model(&model.Job{}).
				Where("id = ? AND status = ?", id, model.JobStatusPending).
				Updates(map[string]interface{}{
					"status":           model.JobStatusCanceled,
					"cancel_requested": true,
					"active_key":       gorm.Expr("NULL"),
					"completed_at":     now,
					"updated_at":       now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				status = model.JobStatusCanceled
				return nil
			}
			// 被 worker 抢先认领，按 running 处理
			fallthrough
		case model.JobStatusRunning:
			if err := tx.Model(&model.Job{}).
				Where("id = ?", id).
				Update("cancel_requested", true).Error; err != nil {
				return err
			}
			status = model.JobStatusRunning
			return nil
		default:
			return ErrJobTerminal
		}
	})
	return status, err
}

func (r *JobRepository) IsCancelRequested(id int64) (bool, error) {
	var job model.Job
	err := r.db.Select("cancel_requested").Where("id = ?", id).First(&job).Error
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// ListStale 获取心跳超时的运行中任务
func (r *JobRepository) ListStale(before time.Time) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.Where("status = ? AND updated_at < ?", model.JobStatusRunning, before).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

// ListPending 获取最近一次入队早于 before 的待处理任务
func (r *JobRepository) ListPending(before time.Time, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.Where("status = ? AND updated_at < ?", model.JobStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ListLocalArchives 获取补丁只保存在本地、尚未上传 OSS 的已完成任务
func (r *JobRepository) ListLocalArchives() ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.Where("status = ? AND archive_url LIKE ?", model.JobStatusCompleted, "local://%").
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *JobRepository) UpdateArchiveURL(id int64, url string) error {
	return r.db.Model(&model.Job{}).
		Where("id = ?", id).
		Update("archive_url", url).Error
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
