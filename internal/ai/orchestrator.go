package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/qs3c/docgen_server/internal/analyzer"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/pkg/retry"
)

// ErrStopped 生成在单元边界被中止（通常是任务被取消）
var ErrStopped = errors.New("generation stopped")

type Options struct {
	Attempts          int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxUnitsPerPrompt int
	Temperature       float64
	MaxTokens         int
}

// Request 一次文档生成请求
type Request struct {
	Units       []*analyzer.Unit
	Kind        string
	Provider    string
	Model       string
	Temperature *float64 // nil 时使用默认值
	MaxTokens   int
	Credentials Credentials

	// Checkpoint 在每个生成单元之前调用，返回 false 时停止
	Checkpoint func(done, total int) bool
}

// Item 一段生成结果；readme 的 TargetFile 为空
type Item struct {
	TargetFile string `json:"target_file,omitempty"`
	Language   string `json:"language,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	SymbolKind string `json:"symbol_kind,omitempty"`
	Line       int    `json:"line,omitempty"`
	Text       string `json:"text"`
}

type Result struct {
	Kind     string   `json:"kind"`
	Items    []Item   `json:"items"`
	Warnings []string `json:"warnings,omitempty"`
	Calls    int      `json:"calls"`
}

// Orchestrator 无状态，可被多个 worker 共享
type Orchestrator struct {
	registry *Registry
	opts     Options
}

func NewOrchestrator(registry *Registry, opts Options) *Orchestrator {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Orchestrator{registry: registry, opts: opts}
}

// Prompts 返回请求将使用的 prompt
func (o *Orchestrator) Prompts(units []*analyzer.Unit, kind string) []Prompt {
	return buildPrompts(units, kind, o.opts.MaxUnitsPerPrompt)
}

func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	if !model.ValidKind(req.Kind) {
		return nil, fmt.Errorf("unsupported documentation kind: %s", req.Kind)
	}
	provider, ok := o.registry.Get(req.Provider)
	if !ok {
		return nil, rejected(req.Provider, errors.New("unknown provider"))
	}
	if req.Model == "" {
		return nil, rejected(req.Provider, errors.New("model is required"))
	}

	cfg := ModelConfig{
		Model:       req.Model,
		Temperature: o.opts.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = o.opts.MaxTokens
	}

	policy := retry.Policy{
		Attempts:  o.opts.Attempts,
		BaseDelay: o.opts.BaseDelay,
		MaxDelay:  o.opts.MaxDelay,
	}

	prompts := o.Prompts(req.Units, req.Kind)
	result := &Result{Kind: req.Kind}

	for i, p := range prompts {
		if req.Checkpoint != nil && !req.Checkpoint(i, len(prompts)) {
			return result, ErrStopped
		}

		var text string
		calls, err := retry.Do(ctx, policy, IsTransient, func(attempt int) error {
			out, err := provider.Generate(ctx, p, cfg, req.Credentials)
			if err != nil {
				log.Printf("Provider %s attempt %d for %s failed: %v", req.Provider, attempt, promptName(p), err)
				return err
			}
			text = out
			return nil
		})
		result.Calls += calls
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", promptName(p), err)
		}

		items, warnings := parseResponse(req.Kind, p, text)
		result.Items = append(result.Items, items...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

func promptName(p Prompt) string {
	if p.Target == "" {
		return "README"
	}
	return p.Target
}

// parseResponse 把 provider 输出转换为 Item；无法解析的输出记为警告
func parseResponse(kind string, p Prompt, text string) ([]Item, []string) {
	text = stripFences(text)
	if text == "" {
		return nil, []string{promptName(p) + ": empty response"}
	}

	switch kind {
	case model.KindReadme:
		return []Item{{Text: text + "\n"}}, nil

	case model.KindInlineComments:
		return []Item{{TargetFile: p.Target, Language: p.Language, Text: text}}, nil

	case model.KindDocstrings:
		docs, err := extractJSONObject(text)
		if err != nil {
			return nil, []string{fmt.Sprintf("%s: unparseable docstring response: %v", p.Target, err)}
		}

		known := make(map[string]Symbol, len(p.Symbols))
		for _, s := range p.Symbols {
			known[s.Name] = s
		}

		var items []Item
		var warnings []string
		for name, doc := range docs {
			sym, ok := known[name]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s: ignored unknown symbol %s", p.Target, name))
				continue
			}
			doc = strings.TrimSpace(doc)
			if doc == "" {
				continue
			}
			items = append(items, Item{
				TargetFile: p.Target,
				Language:   p.Language,
				Symbol:     sym.Name,
				SymbolKind: sym.Kind,
				Line:       sym.Line,
				Text:       doc,
			})
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].Line != items[j].Line {
				return items[i].Line < items[j].Line
			}
			return items[i].Symbol < items[j].Symbol
		})
		sort.Strings(warnings)
		return items, warnings
	}
	return nil, nil
}

// stripFences 去掉模型常加的 ``` 代码块包裹
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractJSONObject(s string) (map[string]string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object found")
	}
	var docs map[string]string
	if err := json.Unmarshal([]byte(s[start:end+1]), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
