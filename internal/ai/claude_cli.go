package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ClaudeCLIProvider 通过本地 claude 命令行生成，prompt 经 stdin 传入
type ClaudeCLIProvider struct {
	name    string
	binary  string
	timeout time.Duration
}

func NewClaudeCLIProvider(name, binary string, timeout time.Duration) *ClaudeCLIProvider {
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeCLIProvider{name: name, binary: binary, timeout: timeout}
}

type cliResult struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func (p *ClaudeCLIProvider) Generate(ctx context.Context, prompt Prompt, cfg ModelConfig, creds Credentials) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{"-p", "--output-format", "json"}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if prompt.System != "" {
		args = append(args, "--system-prompt", prompt.System)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(prompt.User)
	cmd.Env = envWithout("CLAUDECODE")
	if creds.APIKey != "" {
		cmd.Env = append(cmd.Env, "ANTHROPIC_API_KEY="+creds.APIKey)
	}
	// 取消时先发 SIGTERM，5 秒后强制结束
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", rejected(p.name, fmt.Errorf("binary %s not found", p.binary))
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", transient(p.name, errors.New("timed out"))
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", transient(p.name, errors.New(msg))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	var res cliResult
	if err := json.Unmarshal(out, &res); err != nil {
		// 非 JSON 输出按纯文本返回
		return string(out), nil
	}
	if res.IsError {
		return "", rejected(p.name, errors.New(res.Result))
	}
	return res.Result, nil
}

func envWithout(key string) []string {
	prefix := key + "="
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			env = append(env, e)
		}
	}
	return env
}
