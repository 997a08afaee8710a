package dto

import "encoding/json"

// SubmitJobRequest 提交文档生成任务
type SubmitJobRequest struct {
	RepoURL     string  `json:"repo_url" binding:"required,max=500"`
	Kind        string  `json:"kind" binding:"required,oneof=readme docstrings inline_comments"`
	Provider    string  `json:"provider" binding:"required,max=50"`
	Model       string  `json:"model" binding:"required,max=100"`
	Temperature *float64 `json:"temperature,omitempty" binding:"omitempty,gte=0,lte=2"` // nil 时使用默认值
	MaxTokens   int     `json:"max_tokens,omitempty" binding:"omitempty,min=1,max=32768"`
}

type SubmitJobResponse struct {
	JobID        int64  `json:"job_id"`
	RepositoryID int64  `json:"repository_id"`
	Status       string `json:"status"`
}

// JobResult 终态任务的结果
type JobResult struct {
	ErrorKind      string   `json:"error_kind,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	PullRequestURL string   `json:"pull_request_url,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	FilesChanged   int      `json:"files_changed"`
	LinesChanged   int      `json:"lines_changed"`
	ArchiveURL     string   `json:"archive_url,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// JobDetail 任务状态，stage 只在 running 时返回
type JobDetail struct {
	ID              int64      `json:"id"`
	RepositoryID    int64      `json:"repository_id"`
	RepoURL         string     `json:"repo_url"`
	Kind            string     `json:"kind"`
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	Temperature     float64    `json:"temperature"`
	MaxTokens       int        `json:"max_tokens"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage,omitempty"`
	Progress        int        `json:"progress"`
	CancelRequested bool       `json:"cancel_requested"`
	RetryOf         *int64     `json:"retry_of,omitempty"`
	Result          *JobResult `json:"result,omitempty"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
	StartedAt       string     `json:"started_at,omitempty"`
	CompletedAt     string     `json:"completed_at,omitempty"`
}

type JobListItem struct {
	ID             int64  `json:"id"`
	RepositoryID   int64  `json:"repository_id"`
	RepoURL        string `json:"repo_url"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// CancelJobResponse 取消是异步的，running 任务返回 running 且 cancel_requested 为 true
type CancelJobResponse struct {
	JobID           int64  `json:"job_id"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested"`
}

type JobEventItem struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Stage     string          `json:"stage,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type ModelItem struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProviderItem 可用的模型提供方，不含密钥
type ProviderItem struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Models []ModelItem `json:"models"`
}
