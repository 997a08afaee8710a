package patch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/pkg/retry"
)

const localArchiveScheme = "local://"

// ArchiveStore 补丁归档的远端存储（OSS）
type ArchiveStore interface {
	UploadPatchWithRetry(jobID int64, branch string, data []byte) (string, error)
}

// Target 补丁要落到的工作区和远端
type Target struct {
	Dir        string
	Owner      string
	Repo       string
	BaseBranch string
	Git        *Git
	PRs        PullRequestClient // nil 表示平台不支持创建 PR
}

type Patch struct {
	Branch         string       `json:"branch"`
	CommitSHA      string       `json:"commit_sha"`
	CommitMessage  string       `json:"commit_message"`
	Title          string       `json:"title"`
	Body           string       `json:"body"`
	PullRequestURL string       `json:"pull_request_url"`
	ArchiveURL     string       `json:"archive_url,omitempty"`
	Changes        []FileChange `json:"changes"`
	Reused         bool         `json:"reused"`
	Warnings       []string     `json:"warnings,omitempty"`
}

func (p *Patch) FilesChanged() int {
	return len(p.Changes)
}

func (p *Patch) LinesChanged() int {
	n := 0
	for _, c := range p.Changes {
		n += c.Added
	}
	return n
}

type Generator struct {
	prefix   string
	archive  ArchiveStore
	localDir string
	policy   retry.Policy
	now      func() time.Time
	suffix   func() string
}

// NewGenerator archive 为 nil 时补丁只保存在 localDir。
// policy 控制推送和 PR 接口遇到 transient 错误时的重试。
func NewGenerator(branchPrefix string, archive ArchiveStore, localDir string, policy retry.Policy) *Generator {
	return &Generator{
		prefix:   branchPrefix,
		archive:  archive,
		localDir: localDir,
		policy:   policy,
		now:      time.Now,
		suffix: func() string {
			return uuid.New().String()[:6]
		},
	}
}

// CreatePatch 把生成结果提交到任务专属分支并打开 PR。
//
// 同一任务重跑时，已有的未关闭 PR 或远端分支会被重用，不会重复创建。
// 分支或 PR 冲突时换一个分支名重试一次，第二次冲突返回 conflict 错误。
func (g *Generator) CreatePatch(ctx context.Context, t *Target, job *model.Job, result *ai.Result) (*Patch, error) {
	if t.PRs == nil {
		return nil, fatal("create pull request", ErrUnsupportedHost)
	}

	var (
		branch   string
		existing *PullRequest
	)
	err := g.withRetry(ctx, "find existing", job.ID, func() error {
		var ferr error
		branch, existing, ferr = g.findExisting(ctx, t, job.ID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	reused := branch != ""
	if !reused {
		branch = BranchName(g.prefix, job.ID, g.now(), "")
	}

	changes, err := Apply(t.Dir, job.Kind, result)
	if err != nil {
		return nil, fatal("apply edits", err)
	}
	if len(changes) == 0 {
		return nil, fatal("apply edits", ErrNoChanges)
	}

	p := &Patch{Changes: changes, Reused: reused}
	p.CommitMessage = commitMessage(job, changes)
	p.Title = pullRequestTitle(job)
	p.Body = pullRequestBody(job, p)

	if err := g.checkout(ctx, t, branch); err != nil {
		return nil, err
	}
	if p.CommitSHA, err = t.Git.CommitAll(ctx, p.CommitMessage); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err = g.withRetry(ctx, "publish", job.ID, func() error {
			return g.publish(ctx, t, branch, reused, p, &existing)
		})
		if err == nil {
			break
		}
		if KindOf(err) != model.ErrorKindConflict || attempt > 0 {
			return nil, err
		}

		renamed := BranchName(g.prefix, job.ID, g.now(), g.suffix())
		log.Printf("Branch %s for job %d conflicted, retrying as %s: %v", branch, job.ID, renamed, err)
		branch, reused, existing = renamed, false, nil
		if err := g.checkout(ctx, t, branch); err != nil {
			return nil, err
		}
	}

	p.Branch = branch
	p.PullRequestURL = existing.URL
	p.ArchiveURL, err = g.archivePatch(ctx, t, job.ID, branch)
	if err != nil {
		p.Warnings = append(p.Warnings, "patch archive unavailable: "+err.Error())
	}

	log.Printf("Job %d patched %d files on %s: %s", job.ID, p.FilesChanged(), branch, p.PullRequestURL)
	return p, nil
}

// findExisting 先找本任务的未关闭 PR，再找远端分支
func (g *Generator) findExisting(ctx context.Context, t *Target, jobID int64) (string, *PullRequest, error) {
	prefix := JobBranchPrefix(g.prefix, jobID)

	pr, err := t.PRs.FindOpen(ctx, t.Owner, t.Repo, prefix)
	if err != nil {
		return "", nil, err
	}
	if pr != nil {
		log.Printf("Reusing pull request %s for job %d", pr.URL, jobID)
		return pr.Head, pr, nil
	}

	branches, err := t.Git.RemoteBranches(ctx, prefix)
	if err != nil {
		return "", nil, err
	}
	if len(branches) > 0 {
		// 分支名带时间戳，最后一个最新
		branch := branches[len(branches)-1]
		log.Printf("Reusing branch %s for job %d", branch, jobID)
		return branch, nil, nil
	}
	return "", nil, nil
}

// withRetry 只重试 transient 错误，conflict 由调用方换分支名处理
func (g *Generator) withRetry(ctx context.Context, op string, jobID int64, fn func() error) error {
	_, err := retry.Do(ctx, g.policy, IsTransient, func(attempt int) error {
		err := fn()
		if err != nil && IsTransient(err) && attempt < g.policy.Attempts {
			log.Printf("Job %d %s attempt %d failed, retrying: %v", jobID, op, attempt, err)
		}
		return err
	})
	return err
}

func (g *Generator) checkout(ctx context.Context, t *Target, branch string) error {
	if branch == "" || branch == t.BaseBranch {
		return fatal("checkout", fmt.Errorf("refusing to commit to base branch %q", t.BaseBranch))
	}
	return t.Git.CheckoutNew(ctx, branch)
}

// publish 推送分支；没有已有 PR 时创建
func (g *Generator) publish(ctx context.Context, t *Target, branch string, force bool, p *Patch, existing **PullRequest) error {
	if err := t.Git.Push(ctx, branch, force); err != nil {
		return err
	}
	if *existing != nil {
		return nil
	}

	pr, err := t.PRs.Create(ctx, PullRequestInput{
		Owner: t.Owner,
		Repo:  t.Repo,
		Title: p.Title,
		Body:  p.Body,
		Head:  branch,
		Base:  t.BaseBranch,
	})
	if err != nil {
		return err
	}
	*existing = pr
	return nil
}

// archivePatch 优先上传 OSS，失败时落到本地目录，由 reuploader 之后迁移
func (g *Generator) archivePatch(ctx context.Context, t *Target, jobID int64, branch string) (string, error) {
	data, err := t.Git.FormatPatch(ctx)
	if err != nil {
		return "", err
	}

	if g.archive != nil {
		url, err := g.archive.UploadPatchWithRetry(jobID, branch, data)
		if err == nil {
			return url, nil
		}
		log.Printf("Upload patch for job %d failed, saving locally: %v", jobID, err)
	}

	if g.localDir == "" {
		return "", errors.New("no archive storage configured")
	}
	if err := os.MkdirAll(g.localDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}
	if err := os.WriteFile(LocalArchivePath(g.localDir, jobID), data, 0644); err != nil {
		return "", fmt.Errorf("failed to save patch archive: %w", err)
	}
	return LocalArchiveURL(jobID), nil
}

func LocalArchivePath(dir string, jobID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.patch", jobID))
}

func LocalArchiveURL(jobID int64) string {
	return localArchiveScheme + strconv.FormatInt(jobID, 10)
}

// IsLocalArchive 归档仍在本地，等待上传
func IsLocalArchive(url string) bool {
	return strings.HasPrefix(url, localArchiveScheme)
}

func commitMessage(job *model.Job, changes []FileChange) string {
	return fmt.Sprintf("docs: add generated %s to %d file(s)\n\nGenerated by documentation job #%d (%s/%s).",
		job.Kind, len(changes), job.ID, job.Provider, job.Model)
}

func pullRequestTitle(job *model.Job) string {
	return fmt.Sprintf("docs: generated %s (job #%d)", job.Kind, job.ID)
}

func pullRequestBody(job *model.Job, p *Patch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated documentation update: **%s** generated with `%s/%s`.\n\n", job.Kind, job.Provider, job.Model)
	b.WriteString("| File | Lines added |\n| --- | --- |\n")
	for _, c := range p.Changes {
		name := "`" + c.Path + "`"
		if c.Created {
			name += " (new)"
		}
		fmt.Fprintf(&b, "| %s | +%d |\n", name, c.Added)
	}
	fmt.Fprintf(&b, "\nFiles changed: %d, lines added: %d\n\n", p.FilesChanged(), p.LinesChanged())
	fmt.Fprintf(&b, "Job #%d\n", job.ID)
	return b.String()
}
