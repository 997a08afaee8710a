package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// GitError git 命令失败，Output 已脱敏
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s failed: %v, output: %s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git 在工作区内执行 git 命令
type Git struct {
	Dir         string
	AuthorName  string
	AuthorEmail string
	Env         []string            // 额外环境变量，如 GIT_SSH_COMMAND
	Redact      func(string) string // 输出中可能带有含令牌的远端地址
}

func NewGit(dir, authorName, authorEmail string) *Git {
	return &Git{Dir: dir, AuthorName: authorName, AuthorEmail: authorEmail}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0"), g.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		output := strings.TrimSpace(stderr.String() + "\n" + stdout.String())
		if g.Redact != nil {
			output = g.Redact(output)
		}
		return "", &GitError{Args: args, Output: output, Err: err}
	}
	return stdout.String(), nil
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", classifyGitError("detect branch", err)
	}
	return strings.TrimSpace(out), nil
}

// RemoteBranches 列出 origin 上以 prefix 开头的分支，按名称排序
func (g *Git) RemoteBranches(ctx context.Context, prefix string) ([]string, error) {
	out, err := g.run(ctx, "ls-remote", "--heads", "origin", "refs/heads/"+prefix+"*")
	if err != nil {
		return nil, classifyGitError("list remote branches", err)
	}

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := strings.TrimPrefix(fields[1], "refs/heads/")
		if strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// CheckoutNew 在当前 HEAD 上创建（或重置）分支并切换过去
func (g *Git) CheckoutNew(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "checkout", "-B", branch); err != nil {
		return classifyGitError("checkout", err)
	}
	return nil
}

// CommitAll 提交工作区全部修改，返回提交 SHA
func (g *Git) CommitAll(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", classifyGitError("stage changes", err)
	}
	_, err := g.run(ctx,
		"-c", "user.name="+g.AuthorName,
		"-c", "user.email="+g.AuthorEmail,
		"-c", "commit.gpgsign=false",
		"commit", "--no-verify", "-m", message)
	if err != nil {
		return "", classifyGitError("commit", err)
	}
	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", classifyGitError("commit", err)
	}
	return strings.TrimSpace(sha), nil
}

// Push 推送 HEAD 到 origin 的同名分支；重用本任务已有分支时 force
func (g *Git) Push(ctx context.Context, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, "origin", "HEAD:refs/heads/"+branch)
	if _, err := g.run(ctx, args...); err != nil {
		return classifyGitError("push", err)
	}
	return nil
}

// FormatPatch 最近一次提交的 format-patch 输出
func (g *Git) FormatPatch(ctx context.Context) ([]byte, error) {
	out, err := g.run(ctx, "format-patch", "-1", "HEAD", "--stdout")
	if err != nil {
		return nil, classifyGitError("format-patch", err)
	}
	return []byte(out), nil
}

// classifyGitError 根据 git 输出区分冲突、暂时性错误和其他错误
func classifyGitError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transient(op, err)
	}

	var gerr *GitError
	output := ""
	if errors.As(err, &gerr) {
		output = gerr.Output
	}
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "[rejected]") ||
		strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "fetch first") ||
		strings.Contains(lower, "already exists"):
		return conflict(op, err)
	case strings.Contains(lower, "returned error: 401") ||
		strings.Contains(lower, "returned error: 403") ||
		strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "permission denied"):
		return fatal(op, err)
	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "unable to access") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "remote end hung up") ||
		strings.Contains(lower, "returned error: 5"):
		return transient(op, err)
	}
	return fatal(op, err)
}
