package analyzer

import (
	"path/filepath"
	"sort"
	"strings"
)

// LanguageAnalyzer 把单个源文件转换为 Unit。
// 实现只能读取传入的内容，遇到非法语法时返回部分结果并附带 warning，不能 panic。
type LanguageAnalyzer interface {
	Language() string
	Extensions() []string
	Analyze(path string, src []byte) *Unit
}

// Registry 按扩展名分发到对应的语言分析器
type Registry struct {
	byExt map[string]LanguageAnalyzer
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]LanguageAnalyzer)}
}

// Register 注册分析器，同一扩展名后注册的覆盖先注册的
func (r *Registry) Register(a LanguageAnalyzer) {
	for _, ext := range a.Extensions() {
		r.byExt[strings.ToLower(ext)] = a
	}
}

// Lookup 根据文件名查找分析器
func (r *Registry) Lookup(path string) (LanguageAnalyzer, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil, false
	}
	a, ok := r.byExt[ext]
	return a, ok
}

// Languages 已注册的语言，按名称排序
func (r *Registry) Languages() []string {
	seen := make(map[string]struct{})
	var langs []string
	for _, a := range r.byExt {
		if _, ok := seen[a.Language()]; ok {
			continue
		}
		seen[a.Language()] = struct{}{}
		langs = append(langs, a.Language())
	}
	sort.Strings(langs)
	return langs
}

// DefaultRegistry Go、Python、JavaScript/TypeScript、Java、Rust
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(GoAnalyzer{})
	r.Register(PythonAnalyzer{})
	r.Register(JavaScriptAnalyzer{})
	r.Register(TypeScriptAnalyzer{})
	r.Register(JavaAnalyzer{})
	r.Register(RustAnalyzer{})
	return r
}
