package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	OSS        OSSConfig        `mapstructure:"oss"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Generation GenerationConfig `mapstructure:"generation"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Git        GitConfig        `mapstructure:"git"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type QueueConfig struct {
	JobQueue          string `mapstructure:"job_queue"`
	MaxWorkers        int    `mapstructure:"max_workers"`
	PopTimeoutSeconds int    `mapstructure:"pop_timeout_seconds"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// PipelineConfig 任务流水线参数
type PipelineConfig struct {
	WorkspaceRoot           string `mapstructure:"workspace_root"`
	CloneTimeoutSeconds     int    `mapstructure:"clone_timeout_seconds"`
	CloneMaxBytes           int64  `mapstructure:"clone_max_bytes"`
	RetryAttempts           int    `mapstructure:"retry_attempts"`
	BackoffBaseMs           int    `mapstructure:"backoff_base_ms"`
	JobTimeoutSeconds       int    `mapstructure:"job_timeout_seconds"`
	StaleAfterMinutes       int    `mapstructure:"stale_after_minutes"`
	LockTTLSeconds          int    `mapstructure:"lock_ttl_seconds"`
	RecoveryIntervalMinutes int    `mapstructure:"recovery_interval_minutes"`
	WorkspaceExpireHours    int    `mapstructure:"workspace_expire_hours"`
}

type AnalyzerConfig struct {
	Excludes     []string `mapstructure:"excludes"`
	MaxFileBytes int64    `mapstructure:"max_file_bytes"`
	MaxFiles     int      `mapstructure:"max_files"`
	Workers      int      `mapstructure:"workers"`
}

// GenerationConfig 生成参数默认值，可按任务覆盖
type GenerationConfig struct {
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Attempts          int     `mapstructure:"attempts"`
	MaxUnitsPerPrompt int     `mapstructure:"max_units_per_prompt"`
}

type ProviderConfig struct {
	Name           string        `mapstructure:"name"`
	Type           string        `mapstructure:"type"` // openai, anthropic, claude_cli
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Binary         string        `mapstructure:"binary"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Models         []ModelConfig `mapstructure:"models"`
}

type ModelConfig struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	Description string `mapstructure:"description"`
}

type GitConfig struct {
	AuthorName   string       `mapstructure:"author_name"`
	AuthorEmail  string       `mapstructure:"author_email"`
	BranchPrefix string       `mapstructure:"branch_prefix"`
	Hosts        []HostConfig `mapstructure:"hosts"`
}

// HostConfig 代码托管平台凭据
type HostConfig struct {
	Host       string `mapstructure:"host"`
	Kind       string `mapstructure:"kind"` // github, gitlab, bitbucket, generic
	APIURL     string `mapstructure:"api_url"`
	Token      string `mapstructure:"token"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`
}

type WebhookConfig struct {
	Secret   string `mapstructure:"secret"`
	Kind     string `mapstructure:"kind"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type ArchiveConfig struct {
	LocalDir string `mapstructure:"local_dir"`
}

// Provider 按名称查找 provider 配置
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Host 按域名查找托管平台配置
func (c *Config) Host(host string) (*HostConfig, bool) {
	host = strings.ToLower(host)
	for i := range c.Git.Hosts {
		if strings.ToLower(c.Git.Hosts[i].Host) == host {
			return &c.Git.Hosts[i], true
		}
	}
	return nil, false
}

// HasModel 判断模型是否在 provider 的白名单中，未配置白名单时放行
func (p *ProviderConfig) HasModel(model string) bool {
	if len(p.Models) == 0 {
		return model != ""
	}
	for _, m := range p.Models {
		if m.Name == model {
			return true
		}
	}
	return false
}

// Defaults 填充未配置的默认值
func (c *Config) Defaults() {
	if c.Queue.JobQueue == "" {
		c.Queue.JobQueue = "docgen_jobs"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 3
	}
	if c.Queue.PopTimeoutSeconds <= 0 {
		c.Queue.PopTimeoutSeconds = 5
	}

	p := &c.Pipeline
	if p.WorkspaceRoot == "" {
		p.WorkspaceRoot = os.TempDir()
	}
	if p.CloneTimeoutSeconds <= 0 {
		p.CloneTimeoutSeconds = 300
	}
	if p.CloneMaxBytes <= 0 {
		p.CloneMaxBytes = 500 << 20
	}
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = 3
	}
	if p.BackoffBaseMs <= 0 {
		p.BackoffBaseMs = 1000
	}
	if p.JobTimeoutSeconds <= 0 {
		p.JobTimeoutSeconds = 3600
	}
	if p.StaleAfterMinutes <= 0 {
		p.StaleAfterMinutes = 90
	}
	if p.LockTTLSeconds <= 0 {
		p.LockTTLSeconds = p.JobTimeoutSeconds + 60
	}
	if p.RecoveryIntervalMinutes <= 0 {
		p.RecoveryIntervalMinutes = 5
	}
	if p.WorkspaceExpireHours <= 0 {
		p.WorkspaceExpireHours = 2
	}

	if c.Analyzer.MaxFileBytes <= 0 {
		c.Analyzer.MaxFileBytes = 1 << 20
	}
	if c.Analyzer.MaxFiles <= 0 {
		c.Analyzer.MaxFiles = 2000
	}
	if c.Analyzer.Workers <= 0 {
		c.Analyzer.Workers = 4
	}

	g := &c.Generation
	if g.Temperature == 0 {
		g.Temperature = 0.1
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = 2048
	}
	if g.Attempts <= 0 {
		g.Attempts = 3
	}
	if g.MaxUnitsPerPrompt <= 0 {
		g.MaxUnitsPerPrompt = 40
	}

	if c.Git.AuthorName == "" {
		c.Git.AuthorName = "docgen-bot"
	}
	if c.Git.AuthorEmail == "" {
		c.Git.AuthorEmail = "docgen-bot@users.noreply.github.com"
	}
	if c.Git.BranchPrefix == "" {
		c.Git.BranchPrefix = "docs/job-"
	}
	if c.Webhook.Kind == "" {
		c.Webhook.Kind = "readme"
	}
	if c.Archive.LocalDir == "" {
		c.Archive.LocalDir = filepath.Join(os.TempDir(), "docgen-archives")
	}
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Defaults()
	return &cfg, nil
}
