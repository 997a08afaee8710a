package dto

type ConnectRepositoryRequest struct {
	RepoURL     string `json:"repo_url" binding:"required,max=500"`
	DisplayName string `json:"display_name,omitempty" binding:"omitempty,max=200"`
}

type RepositoryItem struct {
	ID           int64  `json:"id"`
	CanonicalURL string `json:"canonical_url"`
	DisplayName  string `json:"display_name"`
	Host         string `json:"host"`
	FullName     string `json:"full_name"`
	WebhookKind  string `json:"webhook_kind,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// SetWebhookRequest kind 为空表示关闭 push 自动生成
type SetWebhookRequest struct {
	Kind string `json:"kind" binding:"omitempty,oneof=readme docstrings inline_comments"`
}

// PushEvent GitHub push 事件中用到的字段
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName      string `json:"full_name"`
		CloneURL      string `json:"clone_url"`
		HTMLURL       string `json:"html_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

// WebhookResult 一次 push 触发的结果
type WebhookResult struct {
	Event   string  `json:"event"`
	JobIDs  []int64 `json:"job_ids,omitempty"`
	Ignored int     `json:"ignored,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}
