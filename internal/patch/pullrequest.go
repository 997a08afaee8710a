package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultGitHubAPI = "https://api.github.com"
	defaultGitLabAPI = "https://gitlab.com/api/v4"
	apiTimeout       = 30 * time.Second
	listPageSize     = 100
	// maxListPages 列表翻页上限，防止异常响应导致死循环
	maxListPages = 50
)

type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Head   string `json:"head"`
}

type PullRequestInput struct {
	Owner string
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequestClient 托管平台的 PR/MR 接口
type PullRequestClient interface {
	// FindOpen 返回 head 分支以 headPrefix 开头的未关闭 PR，没有时返回 nil
	FindOpen(ctx context.Context, owner, repo, headPrefix string) (*PullRequest, error)
	Create(ctx context.Context, in PullRequestInput) (*PullRequest, error)
}

// NewPullRequestClient 按平台类型创建客户端；bitbucket 与 generic 暂不支持
func NewPullRequestClient(kind, apiURL, token string) (PullRequestClient, error) {
	switch kind {
	case "github":
		return NewGitHubClient(apiURL, token), nil
	case "gitlab":
		return NewGitLabClient(apiURL, token), nil
	}
	return nil, ErrUnsupportedHost
}

func newTokenClient(token string) *http.Client {
	if token == "" {
		return &http.Client{Timeout: apiTimeout}
	}
	client := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = apiTimeout
	return client
}

// apiClient GitHub 与 GitLab 共用的 JSON 请求逻辑
type apiClient struct {
	name     string
	baseURL  string
	client   *http.Client
	header   http.Header
	pageSize int
}

// do 发送请求；conflictStatus 为平台表示"已存在"的状态码
func (c *apiClient) do(ctx context.Context, op, method, path string, body, out interface{}, conflictStatus int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fatal(op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fatal(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(op, fmt.Errorf("%s api request failed: %w", c.name, err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fatal(op, fmt.Errorf("failed to decode %s response: %w", c.name, err))
		}
		return nil
	}

	apiErr := fmt.Errorf("%s api error: %d %s", c.name, resp.StatusCode, truncate(string(data), 300))
	lower := strings.ToLower(string(data))
	switch {
	case resp.StatusCode == conflictStatus && strings.Contains(lower, "already exists"):
		return conflict(op, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transient(op, apiErr)
	case resp.StatusCode == http.StatusForbidden && strings.Contains(lower, "rate limit"):
		return transient(op, apiErr)
	}
	return fatal(op, apiErr)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// GitHubClient GitHub REST v3
type GitHubClient struct {
	api apiClient
}

func NewGitHubClient(apiURL, token string) *GitHubClient {
	if apiURL == "" {
		apiURL = defaultGitHubAPI
	}
	return &GitHubClient{api: apiClient{
		name:    "github",
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  newTokenClient(token),
		header:  http.Header{"X-Github-Api-Version": {"2022-11-28"}},

		pageSize: listPageSize,
	}}
}

type githubPull struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

func (p githubPull) toPullRequest() *PullRequest {
	return &PullRequest{Number: p.Number, URL: p.HTMLURL, Head: p.Head.Ref}
}

// FindOpen 翻页查找 head 以 headPrefix 开头的未关闭 PR，多个时取编号最小的
func (c *GitHubClient) FindOpen(ctx context.Context, owner, repo, headPrefix string) (*PullRequest, error) {
	var matches []githubPull
	for page := 1; page <= maxListPages; page++ {
		var pulls []githubPull
		path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&per_page=%d&page=%d", owner, repo, c.api.pageSize, page)
		if err := c.api.do(ctx, "find pull request", http.MethodGet, path, nil, &pulls, 0); err != nil {
			return nil, err
		}
		for _, p := range pulls {
			if strings.HasPrefix(p.Head.Ref, headPrefix) {
				matches = append(matches, p)
			}
		}
		if len(pulls) < c.api.pageSize {
			break
		}
	}

	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Number < matches[j].Number })
	return matches[0].toPullRequest(), nil
}

func (c *GitHubClient) Create(ctx context.Context, in PullRequestInput) (*PullRequest, error) {
	body := map[string]string{
		"title": in.Title,
		"body":  in.Body,
		"head":  in.Head,
		"base":  in.Base,
	}
	var pull githubPull
	path := fmt.Sprintf("/repos/%s/%s/pulls", in.Owner, in.Repo)
	if err := c.api.do(ctx, "create pull request", http.MethodPost, path, body, &pull, http.StatusUnprocessableEntity); err != nil {
		return nil, err
	}
	if pull.HTMLURL == "" {
		return nil, fatal("create pull request", errors.New("github api returned no pull request url"))
	}
	return pull.toPullRequest(), nil
}

// GitLabClient GitLab REST v4 merge request
type GitLabClient struct {
	api apiClient
}

func NewGitLabClient(apiURL, token string) *GitLabClient {
	if apiURL == "" {
		apiURL = defaultGitLabAPI
	}
	return &GitLabClient{api: apiClient{
		name:    "gitlab",
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  newTokenClient(token),

		pageSize: listPageSize,
	}}
}

type gitlabMergeRequest struct {
	IID          int    `json:"iid"`
	WebURL       string `json:"web_url"`
	SourceBranch string `json:"source_branch"`
}

func (m gitlabMergeRequest) toPullRequest() *PullRequest {
	return &PullRequest{Number: m.IID, URL: m.WebURL, Head: m.SourceBranch}
}

func projectPath(owner, repo string) string {
	return "/projects/" + url.PathEscape(owner+"/"+repo)
}

func (c *GitLabClient) FindOpen(ctx context.Context, owner, repo, headPrefix string) (*PullRequest, error) {
	var matches []gitlabMergeRequest
	for page := 1; page <= maxListPages; page++ {
		var mrs []gitlabMergeRequest
		path := fmt.Sprintf("%s/merge_requests?state=opened&per_page=%d&page=%d", projectPath(owner, repo), c.api.pageSize, page)
		if err := c.api.do(ctx, "find merge request", http.MethodGet, path, nil, &mrs, 0); err != nil {
			return nil, err
		}
		for _, m := range mrs {
			if strings.HasPrefix(m.SourceBranch, headPrefix) {
				matches = append(matches, m)
			}
		}
		if len(mrs) < c.api.pageSize {
			break
		}
	}

	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].IID < matches[j].IID })
	return matches[0].toPullRequest(), nil
}

func (c *GitLabClient) Create(ctx context.Context, in PullRequestInput) (*PullRequest, error) {
	body := map[string]string{
		"title":         in.Title,
		"description":   in.Body,
		"source_branch": in.Head,
		"target_branch": in.Base,
	}
	var mr gitlabMergeRequest
	path := projectPath(in.Owner, in.Repo) + "/merge_requests"
	if err := c.api.do(ctx, "create merge request", http.MethodPost, path, body, &mr, http.StatusConflict); err != nil {
		return nil, err
	}
	if mr.WebURL == "" {
		return nil, fatal("create merge request", errors.New("gitlab api returned no merge request url"))
	}
	return mr.toPullRequest(), nil
}
