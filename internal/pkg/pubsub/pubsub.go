package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelJobProgress = "docgen_job_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type           string `json:"type"`
	OwnerID        int64  `json:"owner_id"`
	RepositoryID   int64  `json:"repository_id"`
	JobID          int64  `json:"job_id"`
	Status         string `json:"status"`
	Stage          string `json:"stage"`
	Progress       int    `json:"progress"`
	Message        string `json:"message,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Error          string `json:"error,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
}

// 阶段对应的进度百分比
var StageProgress = map[string]int{
	"queued":     5,
	"cloning":    20,
	"parsing":    40,
	"generating": 60,
	"patching":   80,
	"done":       100,
}

// 阶段对应的消息
var StageMessages = map[string]string{
	"queued":     "任务已开始",
	"cloning":    "正在克隆仓库",
	"parsing":    "正在解析代码结构",
	"generating": "正在生成文档",
	"patching":   "正在提交变更并创建 Pull Request",
	"done":       "文档生成完成",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "job_progress"

	// 自动填充进度和消息
	if msg.Progress == 0 && msg.Stage != "" {
		if progress, ok := StageProgress[msg.Stage]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.Stage != "" {
		if message, ok := StageMessages[msg.Stage]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelJobProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelJobProgress)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
