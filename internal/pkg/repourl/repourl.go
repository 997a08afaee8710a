package repourl

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrEmpty          = errors.New("仓库地址不能为空")
	ErrScheme         = errors.New("仓库地址格式不正确，请使用 https://、ssh:// 或 git@ 开头的地址")
	ErrMalformed      = errors.New("仓库地址格式不正确，请检查后重试")
	ErrMissingHost    = errors.New("仓库地址缺少域名，请检查后重试")
	ErrIncomplete     = errors.New("仓库地址不完整，请提供完整的 用户名/仓库名 地址")
	ErrTraversal      = errors.New("仓库地址包含非法路径")
	ErrEmbeddedSecret = errors.New("仓库地址不能包含密码或令牌")
)

// scp 风格：git@github.com:owner/repo.git
var scpPattern = regexp.MustCompile(`^([A-Za-z0-9._-]+)@([A-Za-z0-9.-]+):(.+)$`)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// RepoURL 校验后的仓库地址
type RepoURL struct {
	Scheme string // https 或 ssh
	User   string
	Host   string
	Port   string
	Owner  string // 可能包含子分组，如 group/subgroup
	Name   string
}

// Parse 校验并解析仓库地址，只允许 https 与 ssh
func Parse(raw string) (*RepoURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(raw, "-") {
		return nil, ErrMalformed
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == ' ' {
			return nil, ErrMalformed
		}
	}

	if m := scpPattern.FindStringSubmatch(raw); m != nil && !strings.Contains(raw, "://") {
		return build("ssh", m[1], m[2], "", m[3])
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrMalformed
	}

	switch u.Scheme {
	case "https":
		if _, hasPassword := u.User.Password(); hasPassword {
			return nil, ErrEmbeddedSecret
		}
	case "ssh":
	default:
		return nil, ErrScheme
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return nil, ErrMalformed
	}
	if u.Hostname() == "" {
		return nil, ErrMissingHost
	}

	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	if u.Scheme == "https" && user != "" {
		return nil, ErrEmbeddedSecret
	}

	return build(u.Scheme, user, u.Hostname(), u.Port(), u.Path)
}

func build(scheme, user, host, port, path string) (*RepoURL, error) {
	if host == "" {
		return nil, ErrMissingHost
	}
	if strings.Contains(path, "\\") || strings.Contains(path, "%") {
		return nil, ErrTraversal
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")

	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return nil, ErrIncomplete
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrIncomplete
		}
		if p == "." || p == ".." {
			return nil, ErrTraversal
		}
		if !segmentPattern.MatchString(p) {
			return nil, ErrMalformed
		}
	}

	return &RepoURL{
		Scheme: scheme,
		User:   user,
		Host:   strings.ToLower(host),
		Port:   port,
		Owner:  strings.Join(parts[:len(parts)-1], "/"),
		Name:   parts[len(parts)-1],
	}, nil
}

// FullName owner/name
func (r *RepoURL) FullName() string {
	return r.Owner + "/" + r.Name
}

// Canonical 规范化地址，用于仓库去重；不区分 https 与 ssh
func (r *RepoURL) Canonical() string {
	return fmt.Sprintf("%s/%s", r.hostPort(), strings.ToLower(r.FullName()))
}

// CloneURL 返回 git 可用的克隆地址
func (r *RepoURL) CloneURL() string {
	if r.Scheme == "ssh" {
		user := r.User
		if user == "" {
			user = "git"
		}
		return fmt.Sprintf("ssh://%s@%s/%s.git", user, r.hostPort(), r.FullName())
	}
	return fmt.Sprintf("https://%s/%s.git", r.hostPort(), r.FullName())
}

// WebURL 浏览器访问地址
func (r *RepoURL) WebURL() string {
	return fmt.Sprintf("https://%s/%s", r.Host, r.FullName())
}

func (r *RepoURL) hostPort() string {
	if r.Port != "" {
		return r.Host + ":" + r.Port
	}
	return r.Host
}
