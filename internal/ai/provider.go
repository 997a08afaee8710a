package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/qs3c/docgen_server/internal/model"
)

// ModelConfig 单次调用的模型参数
type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Credentials 调用方显式传入，provider 不保存
type Credentials struct {
	APIKey string
}

// Provider 文本生成后端
type Provider interface {
	Generate(ctx context.Context, prompt Prompt, cfg ModelConfig, creds Credentials) (string, error)
}

// Error provider 调用失败，Kind 为 model.ErrorKindTransient 或 model.ErrorKindProviderRejected
type Error struct {
	Kind       string
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient 限流、超时、服务端错误可以重试
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == model.ErrorKindTransient
	}
	return false
}

func rejected(provider string, err error) *Error {
	return &Error{Kind: model.ErrorKindProviderRejected, Provider: provider, Err: err}
}

func transient(provider string, err error) *Error {
	return &Error{Kind: model.ErrorKindTransient, Provider: provider, Err: err}
}

// statusError 按 HTTP 状态码分类
func statusError(provider string, status int, body string) *Error {
	kind := model.ErrorKindProviderRejected
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		kind = model.ErrorKindTransient
	}
	if len(body) > 300 {
		body = body[:300]
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Err: errors.New(body)}
}

// requestError 网络错误按可重试处理；调用方取消时原样返回
func requestError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return transient(provider, err)
}
