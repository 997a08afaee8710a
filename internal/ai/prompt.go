package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qs3c/docgen_server/internal/analyzer"
	"github.com/qs3c/docgen_server/internal/model"
)

// 符号类型
const (
	SymbolFunction = "function"
	SymbolMethod   = "method"
	SymbolClass    = "class"
)

const DefaultMaxUnitsPerPrompt = 40

// Symbol 需要生成文档的符号，方法名为 Class.method
type Symbol struct {
	Name string
	Kind string
	Line int
}

// Prompt 一次 provider 调用的输入，相同的输入总是得到相同的 Prompt
type Prompt struct {
	Target   string // 目标文件；README 为空
	Language string
	Symbols  []Symbol
	System   string
	User     string
}

const readmeSystem = `You are a senior technical writer. Write a README.md in GitHub-flavored Markdown for the repository summarized by the user. Cover purpose, layout, main components and usage. Describe only what the summary supports. Output only the Markdown document.`

const docstringSystem = `You write concise documentation comments for source code. Reply with a single JSON object that maps each requested symbol name, exactly as given, to its documentation text. Do not include comment markers, code fences or any text outside the JSON object.`

const headerSystem = `You write a short header comment that summarizes what a source file contains and how it is used. Reply with plain text of at most five lines, without comment markers or code fences.`

// BuildPrompts 按文档类型构造 prompt：readme 一个，docstrings/inline_comments 每个文件一个
func BuildPrompts(units []*analyzer.Unit, kind string) []Prompt {
	return buildPrompts(units, kind, DefaultMaxUnitsPerPrompt)
}

func buildPrompts(units []*analyzer.Unit, kind string, maxUnits int) []Prompt {
	if maxUnits <= 0 {
		maxUnits = DefaultMaxUnitsPerPrompt
	}
	sorted := make([]*analyzer.Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FilePath < sorted[j].FilePath
	})

	switch kind {
	case model.KindReadme:
		return []Prompt{readmePrompt(sorted, maxUnits)}

	case model.KindDocstrings:
		var prompts []Prompt
		for _, u := range sorted {
			syms := undocumented(u)
			if len(syms) == 0 {
				continue
			}
			prompts = append(prompts, docstringPrompt(u, syms))
		}
		return prompts

	case model.KindInlineComments:
		var prompts []Prompt
		for _, u := range sorted {
			if !u.HasSymbols() {
				continue
			}
			var b strings.Builder
			fmt.Fprintf(&b, "File: %s\nLanguage: %s\n\n", u.FilePath, u.Language)
			writeUnit(&b, u)
			prompts = append(prompts, Prompt{
				Target:   u.FilePath,
				Language: u.Language,
				System:   headerSystem,
				User:     b.String(),
			})
		}
		return prompts
	}
	return nil
}

func readmePrompt(units []*analyzer.Unit, maxUnits int) Prompt {
	var b strings.Builder

	langs := make(map[string]int)
	for _, u := range units {
		langs[u.Language]++
	}
	names := make([]string, 0, len(langs))
	for l := range langs {
		names = append(names, l)
	}
	sort.Strings(names)

	b.WriteString("Repository summary\n\n")
	if len(units) == 0 {
		b.WriteString("The repository contains no recognized source files.\n")
	} else {
		b.WriteString("Languages:")
		for _, l := range names {
			fmt.Fprintf(&b, " %s (%d files)", l, langs[l])
		}
		b.WriteString("\n\nFiles:\n")
		for _, u := range units {
			fmt.Fprintf(&b, "- %s\n", u.FilePath)
		}
	}

	shown := 0
	for _, u := range units {
		if !u.HasSymbols() {
			continue
		}
		if shown == maxUnits {
			b.WriteString("\nFurther files omitted.\n")
			break
		}
		b.WriteString("\n")
		writeUnit(&b, u)
		shown++
	}

	return Prompt{System: readmeSystem, User: b.String()}
}

func docstringPrompt(u *analyzer.Unit, syms []Symbol) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nLanguage: %s\n\nDocument these symbols:\n", u.FilePath, u.Language)
	for _, s := range syms {
		fmt.Fprintf(&b, "- %s %s\n", s.Kind, s.Name)
	}
	b.WriteString("\nFile outline:\n")
	writeUnit(&b, u)

	return Prompt{
		Target:   u.FilePath,
		Language: u.Language,
		Symbols:  syms,
		System:   docstringSystem,
		User:     b.String(),
	}
}

// undocumented 返回缺少文档的符号，按行号排序
func undocumented(u *analyzer.Unit) []Symbol {
	var syms []Symbol
	for _, c := range u.Classes {
		if c.Docstring == "" {
			syms = append(syms, Symbol{Name: c.Name, Kind: SymbolClass, Line: c.StartLine})
		}
		for _, m := range c.Methods {
			if m.Docstring == "" {
				syms = append(syms, Symbol{Name: c.Name + "." + m.Name, Kind: SymbolMethod, Line: m.StartLine})
			}
		}
	}
	for _, f := range u.Functions {
		if f.Docstring == "" {
			syms = append(syms, Symbol{Name: f.Name, Kind: SymbolFunction, Line: f.StartLine})
		}
	}
	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].Line != syms[j].Line {
			return syms[i].Line < syms[j].Line
		}
		return syms[i].Name < syms[j].Name
	})
	return syms
}

// writeUnit 输出文件大纲
func writeUnit(b *strings.Builder, u *analyzer.Unit) {
	fmt.Fprintf(b, "### %s (%s, %d lines)\n", u.FilePath, u.Language, u.LineCount)

	if len(u.Imports) > 0 {
		mods := make([]string, 0, len(u.Imports))
		for _, imp := range u.Imports {
			mods = append(mods, imp.Module)
		}
		if len(mods) > 15 {
			mods = append(mods[:15], "...")
		}
		fmt.Fprintf(b, "imports: %s\n", strings.Join(mods, ", "))
	}

	for _, c := range u.Classes {
		fmt.Fprintf(b, "class %s", c.Name)
		if len(c.Parents) > 0 {
			fmt.Fprintf(b, "(%s)", strings.Join(c.Parents, ", "))
		}
		fmt.Fprintf(b, " [lines %d-%d]%s\n", c.StartLine, c.EndLine, docSuffix(c.Docstring))
		if len(c.Attributes) > 0 {
			fmt.Fprintf(b, "  attributes: %s\n", strings.Join(c.Attributes, ", "))
		}
		for _, m := range c.Methods {
			fmt.Fprintf(b, "  %s%s\n", signature(m), docSuffix(m.Docstring))
		}
	}
	for _, f := range u.Functions {
		fmt.Fprintf(b, "%s%s\n", signature(f), docSuffix(f.Docstring))
	}
}

func signature(f analyzer.Function) string {
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		if p.Type != "" {
			params = append(params, p.Name+" "+p.Type)
		} else {
			params = append(params, p.Name)
		}
	}
	s := fmt.Sprintf("%s(%s)", f.Name, strings.Join(params, ", "))
	if f.ReturnType != "" {
		s += " -> " + f.ReturnType
	}
	if f.Async {
		s = "async " + s
	}
	return s
}

func docSuffix(doc string) string {
	if doc == "" {
		return ""
	}
	if i := strings.IndexByte(doc, '\n'); i >= 0 {
		doc = doc[:i]
	}
	return "  # " + doc
}
