package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// 默认跳过的目录
var defaultExcludeDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
	"dist":         {},
	"build":        {},
	"target":       {},
	"venv":         {},
}

// 默认跳过的文件名模式（压缩或生成文件）
var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.mjs",
	"*.bundle.js",
	"*.pb.go",
	"*_pb2.py",
	"*_generated.*",
	"*.generated.*",
	"*.d.ts",
}

type Options struct {
	Excludes     []string // 额外的排除模式，匹配文件/目录名或相对路径
	MaxFileBytes int64
	MaxFiles     int
	Workers      int
}

// Report 一次仓库分析的结果
type Report struct {
	Units    []*Unit  `json:"units"`
	Warnings []string `json:"warnings,omitempty"`
	Skipped  int      `json:"skipped"`
}

// Languages 出现过的语言及文件数
func (r *Report) Languages() map[string]int {
	langs := make(map[string]int)
	for _, u := range r.Units {
		langs[u.Language]++
	}
	return langs
}

// Analyzer 遍历工作区并分发给语言分析器
type Analyzer struct {
	registry *Registry
	opts     Options
}

func New(registry *Registry, opts Options) *Analyzer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Analyzer{registry: registry, opts: opts}
}

type candidate struct {
	abs      string
	rel      string
	analyzer LanguageAnalyzer
}

// Analyze 分析 root 下的全部受支持文件，返回按路径排序的结果
func (a *Analyzer) Analyze(ctx context.Context, root string) (*Report, error) {
	report := &Report{}

	files, err := a.collect(ctx, root, report)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, a.opts.Workers)
	)

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(f candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			unit, warning := a.analyzeFile(f)

			mu.Lock()
			defer mu.Unlock()
			if warning != "" {
				report.Warnings = append(report.Warnings, warning)
			}
			if unit != nil {
				report.Units = append(report.Units, unit)
			}
		}(f)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(report.Units, func(i, j int) bool {
		return report.Units[i].FilePath < report.Units[j].FilePath
	})
	for _, u := range report.Units {
		for _, w := range u.Warnings {
			report.Warnings = append(report.Warnings, u.FilePath+": "+w)
		}
	}
	sort.Strings(report.Warnings)
	return report, nil
}

func (a *Analyzer) collect(ctx context.Context, root string, report *Report) ([]candidate, error) {
	var files []candidate
	limitHit := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("walk %s: %v", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || a.excludedDir(name, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		// 符号链接可能指向工作区之外
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		la, ok := a.registry.Lookup(name)
		if !ok || a.excludedFile(name, rel) {
			report.Skipped++
			return nil
		}

		if a.opts.MaxFileBytes > 0 {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > a.opts.MaxFileBytes {
				report.Skipped++
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: skipped, %d bytes exceeds limit", rel, info.Size()))
				return nil
			}
		}

		if a.opts.MaxFiles > 0 && len(files) >= a.opts.MaxFiles {
			report.Skipped++
			limitHit = true
			return nil
		}

		files = append(files, candidate{abs: path, rel: rel, analyzer: la})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if limitHit {
		report.Warnings = append(report.Warnings, fmt.Sprintf("file limit %d reached, remaining files skipped", a.opts.MaxFiles))
	}
	return files, nil
}

func (a *Analyzer) excludedDir(name, rel string) bool {
	if _, ok := defaultExcludeDirs[name]; ok {
		return true
	}
	return matchAny(a.opts.Excludes, name, rel)
}

func (a *Analyzer) excludedFile(name, rel string) bool {
	return matchAny(defaultExcludeFiles, name, rel) || matchAny(a.opts.Excludes, name, rel)
}

func matchAny(patterns []string, name, rel string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(rel+"/", p) {
			return true
		}
	}
	return false
}

// analyzeFile 读取并分析单个文件，分析器 panic 时返回只有基本信息的 Unit
func (a *Analyzer) analyzeFile(f candidate) (unit *Unit, warning string) {
	src, err := os.ReadFile(f.abs)
	if err != nil {
		return nil, fmt.Sprintf("%s: read failed: %v", f.rel, err)
	}

	defer func() {
		if r := recover(); r != nil {
			unit = newUnit(f.rel, f.analyzer.Language(), src)
			unit.warn(fmt.Sprintf("analyzer crashed: %v", r))
		}
	}()

	unit = f.analyzer.Analyze(f.rel, src)
	if unit == nil {
		unit = newUnit(f.rel, f.analyzer.Language(), src)
	}
	return unit, ""
}
