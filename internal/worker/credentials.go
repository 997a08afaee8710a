package worker

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/pkg/repourl"
)

// HostCredentials 访问某个托管平台所需的凭据
type HostCredentials struct {
	Host       string
	Kind       string // github, gitlab, bitbucket, generic
	APIURL     string
	Token      string
	SSHKeyPath string
}

// ResolveCredentials 按仓库域名查找配置；未配置的平台按域名推断类型，无凭据
func ResolveCredentials(cfg *config.Config, u *repourl.RepoURL) HostCredentials {
	creds := HostCredentials{Host: u.Host}
	if cfg != nil {
		if h, ok := cfg.Host(u.Host); ok {
			creds.Kind = h.Kind
			creds.APIURL = h.APIURL
			creds.Token = h.Token
			creds.SSHKeyPath = h.SSHKeyPath
		}
	}
	if creds.Kind == "" {
		creds.Kind = inferKind(u.Host)
	}
	return creds
}

func inferKind(host string) string {
	switch host {
	case "github.com":
		return "github"
	case "gitlab.com":
		return "gitlab"
	case "bitbucket.org":
		return "bitbucket"
	}
	return "generic"
}

// tokenUser 各平台 https 令牌认证使用的用户名
func tokenUser(kind string) string {
	switch kind {
	case "github":
		return "x-access-token"
	case "gitlab":
		return "oauth2"
	case "bitbucket":
		return "x-token-auth"
	}
	return "git"
}

// CloneURL https 地址在有令牌时嵌入凭据，ssh 地址保持不变
func (c HostCredentials) CloneURL(u *repourl.RepoURL) string {
	raw := u.CloneURL()
	if u.Scheme != "https" || c.Token == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.User = url.UserPassword(tokenUser(c.Kind), c.Token)
	return parsed.String()
}

// GitEnv 配置了 SSH 密钥时返回 GIT_SSH_COMMAND
func (c HostCredentials) GitEnv() ([]string, error) {
	if c.SSHKeyPath == "" {
		return nil, nil
	}
	if err := checkSSHKey(c.SSHKeyPath); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o BatchMode=yes -o StrictHostKeyChecking=accept-new", shellQuote(c.SSHKeyPath))
	return []string{"GIT_SSH_COMMAND=" + cmd}, nil
}

// checkSSHKey 密钥必须可读且无口令，否则非交互的 git 会卡住或失败
func checkSSHKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read ssh key: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return errors.New("ssh key is protected by a passphrase")
		}
		return fmt.Errorf("invalid ssh key: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var userinfoPattern = regexp.MustCompile(`(https?://)[^@/\s]+@`)

// Redact 去掉输出中的令牌和 URL 里的用户信息
func (c HostCredentials) Redact(s string) string {
	if c.Token != "" {
		s = strings.ReplaceAll(s, c.Token, "***")
	}
	return userinfoPattern.ReplaceAllString(s, "${1}***@")
}
