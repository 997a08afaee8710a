package model

import (
	"fmt"
	"time"
)

// 任务状态
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCanceled  = "canceled"
	JobStatusFailed    = "failed"
	JobStatusCompleted = "completed"
)

// 运行阶段，仅在 running 时有意义；终态后保留最后一个值
const (
	StageQueued     = "queued"
	StageCloning    = "cloning"
	StageParsing    = "parsing"
	StageGenerating = "generating"
	StagePatching   = "patching"
	StageDone       = "done"
)

// 文档类型
const (
	KindReadme         = "readme"
	KindDocstrings     = "docstrings"
	KindInlineComments = "inline_comments"
)

// 错误分类
const (
	ErrorKindValidation       = "validation"
	ErrorKindTransient        = "transient_infrastructure"
	ErrorKindConflict         = "conflict"
	ErrorKindProviderRejected = "provider_rejected"
	ErrorKindFatal            = "fatal"
)

var stageOrder = map[string]int{
	StageQueued:     0,
	StageCloning:    1,
	StageParsing:    2,
	StageGenerating: 3,
	StagePatching:   4,
	StageDone:       5,
}

type Job struct {
	ID              int64       `gorm:"primaryKey" json:"id"`
	RepositoryID    int64       `gorm:"not null;index" json:"repository_id"`
	OwnerID         int64       `gorm:"not null;index" json:"owner_id"`
	RepoURL         string      `gorm:"size:500;not null" json:"repo_url"`
	Kind            string      `gorm:"size:30;not null" json:"kind"`
	Provider        string      `gorm:"size:50;not null" json:"provider"`
	Model           string      `gorm:"size:100;not null" json:"model"`
	Temperature     float64     `json:"temperature"`
	MaxTokens       int         `json:"max_tokens"`
	Status          string      `gorm:"size:20;default:pending;index" json:"status"`
	Stage           string      `gorm:"size:20;default:queued" json:"stage"`
	CancelRequested bool        `gorm:"default:false" json:"cancel_requested"`
	ActiveKey       *string     `gorm:"size:64;uniqueIndex" json:"-"`
	RetryOf         *int64      `gorm:"index" json:"retry_of,omitempty"`
	ErrorKind       string      `gorm:"size:40" json:"error_kind,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	PullRequestURL  string      `gorm:"size:500" json:"pull_request_url,omitempty"`
	Branch          string      `gorm:"size:200" json:"branch,omitempty"`
	FilesChanged    int         `json:"files_changed"`
	LinesChanged    int         `json:"lines_changed"`
	ArchiveURL      string      `gorm:"size:500" json:"archive_url,omitempty"`
	Warnings        StringArray `gorm:"type:text" json:"warnings,omitempty"`
	CreatedAt       time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobResult 终态写入的结果，成功时带 PR 信息，失败时带错误分类
type JobResult struct {
	ErrorKind      string
	ErrorMessage   string
	PullRequestURL string
	Branch         string
	FilesChanged   int
	LinesChanged   int
	ArchiveURL     string
	Warnings       []string
}

// ActiveKeyFor 同一仓库的非终态任务共用一个 key，由唯一索引保证至多一个
func ActiveKeyFor(repositoryID int64) *string {
	key := fmt.Sprintf("repo:%d", repositoryID)
	return &key
}

func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// StageIndex 返回阶段序号，未知阶段返回 -1
func StageIndex(stage string) int {
	if i, ok := stageOrder[stage]; ok {
		return i
	}
	return -1
}

func ValidKind(kind string) bool {
	switch kind {
	case KindReadme, KindDocstrings, KindInlineComments:
		return true
	}
	return false
}
