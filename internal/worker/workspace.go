package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/qs3c/docgen_server/internal/pkg/cron"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
	"github.com/qs3c/docgen_server/internal/pkg/retry"
)

const (
	msgNotFound     = "仓库不存在或无访问权限，请检查地址"
	msgUnreachable  = "无法连接到代码托管平台，请稍后重试"
	msgDenied       = "仓库访问被拒绝，请检查访问凭据"
	msgTimeout      = "克隆超时，仓库可能过大或网络不稳定"
	msgEmpty        = "仓库为空，请确认包含代码"
	msgTooLarge     = "仓库体积超过限制"
	msgBadKey       = "SSH 密钥不可用，请检查配置"
	msgCloneFailed  = "克隆仓库失败，请检查地址后重试"
	msgInvalidSetup = "工作区创建失败"
)

// CloneError 克隆错误，包含用户友好消息和原始错误
type CloneError struct {
	UserMessage string // 中文，给用户看
	RawError    error  // 原始错误（已脱敏），写日志
}

func (e *CloneError) Error() string {
	return e.UserMessage
}

func (e *CloneError) Unwrap() error {
	return e.RawError
}

// classifyCloneError 根据 git 输出分类错误，返回中文用户提示
func classifyCloneError(output string, err error) *CloneError {
	lower := strings.ToLower(output + " " + err.Error())
	raw := fmt.Errorf("%w, output: %s", err, output)

	switch {
	// SSH 传输失败后 git 总会补一行 "could not read from remote repository"，先按网络错误判断
	case strings.Contains(lower, "connection timed out") ||
		strings.Contains(lower, "operation timed out"):
		return &CloneError{UserMessage: msgTimeout, RawError: raw}
	case strings.Contains(lower, "could not resolve hostname") ||
		strings.Contains(lower, "temporary failure in name resolution") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "connection closed by"):
		return &CloneError{UserMessage: msgUnreachable, RawError: raw}
	case strings.Contains(lower, "repository not found") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "does not appear to be a git repository") ||
		strings.Contains(lower, "could not read from remote repository"):
		return &CloneError{UserMessage: msgNotFound, RawError: raw}
	case strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "permission denied"):
		return &CloneError{UserMessage: msgDenied, RawError: raw}
	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "unable to access") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset"):
		return &CloneError{UserMessage: msgUnreachable, RawError: raw}
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timed out"):
		return &CloneError{UserMessage: msgTimeout, RawError: raw}
	case strings.Contains(lower, "empty repository"):
		return &CloneError{UserMessage: msgEmpty, RawError: raw}
	default:
		return &CloneError{UserMessage: msgCloneFailed, RawError: raw}
	}
}

// isTransient 判断克隆错误是否为暂时性错误（值得重试）
func isTransient(ce *CloneError) bool {
	switch ce.UserMessage {
	case msgNotFound, msgDenied, msgEmpty, msgBadKey, msgInvalidSetup:
		return false
	}
	return true
}

func retryableClone(err error) bool {
	var ce *CloneError
	return errors.As(err, &ce) && isTransient(ce)
}

// Workspace 一个任务独占的克隆目录
type Workspace struct {
	JobID         int64
	Dir           string
	DefaultBranch string
	SizeBytes     int64
	Credentials   HostCredentials
}

type ManagerOptions struct {
	Root         string
	CloneTimeout time.Duration
	MaxBytes     int64
	Attempts     int
	BaseDelay    time.Duration
	// SizePollInterval 克隆过程中检查目录体积的间隔
	SizePollInterval time.Duration
}

// Manager Repository Manager：克隆、校验与回收工作区
type Manager struct {
	opts ManagerOptions

	// cloneURL 测试中替换为本地裸仓库
	cloneURL func(u *repourl.RepoURL, creds HostCredentials) string
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Root == "" {
		opts.Root = os.TempDir()
	}
	if opts.CloneTimeout <= 0 {
		opts.CloneTimeout = 120 * time.Second
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.SizePollInterval <= 0 {
		opts.SizePollInterval = 500 * time.Millisecond
	}
	return &Manager{
		opts: opts,
		cloneURL: func(u *repourl.RepoURL, creds HostCredentials) string {
			return creds.CloneURL(u)
		},
	}
}

// Acquire 浅克隆仓库到新的唯一目录，暂时性错误按退避重试。
// 体积超限和克隆超时一样计入重试次数。
func (m *Manager) Acquire(ctx context.Context, jobID int64, u *repourl.RepoURL, creds HostCredentials) (*Workspace, error) {
	env, err := creds.GitEnv()
	if err != nil {
		return nil, &CloneError{UserMessage: msgBadKey, RawError: err}
	}
	if err := os.MkdirAll(m.opts.Root, 0755); err != nil {
		return nil, &CloneError{UserMessage: msgInvalidSetup, RawError: err}
	}

	ws := &Workspace{
		JobID:       jobID,
		Dir:         filepath.Join(m.opts.Root, fmt.Sprintf("%s%d_%s", cron.WorkspacePrefix, jobID, uuid.NewString()[:8])),
		Credentials: creds,
	}

	policy := retry.Policy{Attempts: m.opts.Attempts, BaseDelay: m.opts.BaseDelay}
	_, err = retry.Do(ctx, policy, retryableClone, func(attempt int) error {
		cerr := m.clone(ctx, m.cloneURL(u, creds), ws.Dir, env, creds.Redact)
		if cerr == nil {
			cerr = m.inspect(ctx, ws, env)
		}
		if cerr == nil {
			return nil
		}
		os.RemoveAll(ws.Dir)
		log.Printf("Job %d: clone attempt %d failed: %v", jobID, attempt, cerr.RawError)
		return cerr
	})
	if err != nil {
		os.RemoveAll(ws.Dir)
		var ce *CloneError
		if errors.As(err, &ce) {
			return nil, ce
		}
		// 退避等待期间 ctx 结束
		return nil, &CloneError{UserMessage: msgTimeout, RawError: err}
	}

	log.Printf("Job %d: cloned %s into %s (%d bytes, branch %s)",
		jobID, u.FullName(), ws.Dir, ws.SizeBytes, ws.DefaultBranch)
	return ws, nil
}

// clone 单次浅克隆，带超时和体积上限；失败时清理残留目录
func (m *Manager) clone(ctx context.Context, cloneURL, destDir string, env []string, redact func(string) string) *CloneError {
	if err := os.RemoveAll(destDir); err != nil {
		return &CloneError{UserMessage: msgInvalidSetup, RawError: fmt.Errorf("failed to clean existing directory: %w", err)}
	}

	cloneCtx, cancel := context.WithTimeout(ctx, m.opts.CloneTimeout)
	defer cancel()

	var tooLarge atomic.Bool
	if m.opts.MaxBytes > 0 {
		watchCtx, stop := context.WithCancel(cloneCtx)
		defer stop()
		go watchSize(watchCtx, destDir, m.opts.MaxBytes, m.opts.SizePollInterval, func() {
			tooLarge.Store(true)
			cancel()
		})
	}

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", "--no-tags", "--", cloneURL, destDir)
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0"), env...)

	output, err := cmd.CombinedOutput()
	if tooLarge.Load() {
		os.RemoveAll(destDir)
		return &CloneError{
			UserMessage: msgTooLarge,
			RawError:    fmt.Errorf("clone exceeded %d bytes and was aborted", m.opts.MaxBytes),
		}
	}
	if err != nil {
		os.RemoveAll(destDir)
		if cloneCtx.Err() != nil {
			err = cloneCtx.Err()
		}
		return classifyCloneError(redact(string(output)), err)
	}
	return nil
}

// watchSize 定期统计 dir 体积，超过 limit 时调用 exceeded 一次后退出
func watchSize(ctx context.Context, dir string, limit int64, interval time.Duration, exceeded func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// git 在克隆过程中会增删临时文件，统计出错时用已累计的部分
			size, _ := dirSize(dir)
			if size > limit {
				exceeded()
				return
			}
		}
	}
}

// inspect 校验克隆结果：.git 存在、体积未超限、能识别默认分支
func (m *Manager) inspect(ctx context.Context, ws *Workspace, env []string) *CloneError {
	if _, err := os.Stat(filepath.Join(ws.Dir, ".git")); err != nil {
		return &CloneError{UserMessage: msgCloneFailed, RawError: fmt.Errorf("workspace has no .git: %w", err)}
	}

	size, err := dirSize(ws.Dir)
	if err != nil {
		return &CloneError{UserMessage: msgCloneFailed, RawError: err}
	}
	ws.SizeBytes = size
	if m.opts.MaxBytes > 0 && size > m.opts.MaxBytes {
		return &CloneError{
			UserMessage: msgTooLarge,
			RawError:    fmt.Errorf("workspace is %d bytes, limit %d", size, m.opts.MaxBytes),
		}
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = ws.Dir
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0"), env...)
	out, err := cmd.Output()
	branch := strings.TrimSpace(string(out))
	if err != nil || branch == "" || branch == "HEAD" {
		// 空仓库没有任何提交
		return &CloneError{UserMessage: msgEmpty, RawError: fmt.Errorf("cannot detect default branch: %v", err)}
	}
	ws.DefaultBranch = branch
	return nil
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Release 删除工作区；拒绝删除根目录之外或不是工作区的路径
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.Dir == "" {
		return nil
	}

	absDir, err := filepath.Abs(ws.Dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	absRoot, err := filepath.Abs(m.opts.Root)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == "." || strings.Contains(rel, string(filepath.Separator)) ||
		strings.HasPrefix(rel, "..") || !strings.HasPrefix(rel, cron.WorkspacePrefix) {
		return fmt.Errorf("refusing to delete directory outside workspace root: %s", absDir)
	}

	if err := os.RemoveAll(absDir); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}
