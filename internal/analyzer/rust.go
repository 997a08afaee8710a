package analyzer

import (
	"regexp"
	"strings"
)

var (
	rustUseRe   = regexp.MustCompile(`^\s*(pub(\([^)]*\))?\s+)?use\s+([^;]+);`)
	rustFnRe    = regexp.MustCompile(`^\s*(pub(\([^)]*\))?\s+)?(default\s+)?(const\s+)?(async\s+)?(unsafe\s+)?(extern\s+"[^"]*"\s+)?fn\s+([A-Za-z_]\w*)`)
	rustTypeRe  = regexp.MustCompile(`^\s*(pub(\([^)]*\))?\s+)?(struct|enum|trait|union)\s+([A-Za-z_]\w*)\s*(<[^{;(]*>)?\s*(:\s*([^{;]+?))?\s*(where\b.*)?(\{|;|\(|$)`)
	rustImplRe  = regexp.MustCompile(`^\s*(unsafe\s+)?impl\s*(<[^{]*?>)?\s+(([\w:]+)(<[^{]*?>)?\s+for\s+)?([\w:]+)`)
	rustFieldRe = regexp.MustCompile(`^\s*(pub(\([^)]*\))?\s+)?([a-z_]\w*)\s*:\s*[^:]`)
)

// RustAnalyzer 逐行扫描，impl 块中的函数归入对应类型
type RustAnalyzer struct{}

func (RustAnalyzer) Language() string     { return "rust" }
func (RustAnalyzer) Extensions() []string { return []string{".rs"} }

func (RustAnalyzer) Analyze(path string, src []byte) *Unit {
	unit := newUnit(path, "rust", src)
	lines := splitLines(src)
	if !balanced(lines, true) {
		unit.warn("unbalanced braces, block ranges may be inaccurate")
	}

	classIndex := make(map[string]int)
	ensureClass := func(name string, line int) int {
		if i, ok := classIndex[name]; ok {
			return i
		}
		unit.Classes = append(unit.Classes, Class{Name: name, StartLine: line, EndLine: line})
		classIndex[name] = len(unit.Classes) - 1
		return classIndex[name]
	}

	type block struct {
		class      int
		start, end int
		bodyDepth  int
		fields     bool // struct 体内的行是字段
	}
	var blocks []block

	member := func(line, depth int) (block, bool) {
		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]
			if line > b.start && line <= b.end && depth == b.bodyDepth {
				return b, true
			}
		}
		return block{}, false
	}

	s := braceScanner{lifetimes: true}
	depth := 0
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		lineDepth := depth
		d, _ := s.delta(line)
		depth += d
		if s.inBlockComment && !strings.Contains(line, "/*") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if m := rustUseRe.FindStringSubmatch(line); m != nil && lineDepth == 0 {
			mod, alias := strings.TrimSpace(m[3]), ""
			if k := strings.LastIndex(mod, " as "); k >= 0 && !strings.Contains(mod[k:], "}") {
				mod, alias = strings.TrimSpace(mod[:k]), strings.TrimSpace(mod[k+4:])
			}
			unit.Imports = append(unit.Imports, Import{Module: mod, Alias: alias})
			continue
		}

		if m := rustTypeRe.FindStringSubmatch(line); m != nil {
			end, _ := blockEnd(lines, i, true)
			idx := ensureClass(m[4], i+1)
			c := &unit.Classes[idx]
			c.StartLine = i + 1
			c.EndLine = end + 1
			c.Docstring = docAbove(lines, i)
			if m[3] == "trait" && m[7] != "" {
				for _, p := range strings.Split(m[7], "+") {
					if p = strings.TrimSpace(p); p != "" {
						c.Parents = append(c.Parents, p)
					}
				}
			}
			blocks = append(blocks, block{class: idx, start: i, end: end, bodyDepth: lineDepth + 1, fields: m[3] == "struct"})
			continue
		}

		if m := rustImplRe.FindStringSubmatch(line); m != nil {
			end, _ := blockEnd(lines, i, true)
			target := lastPathSegment(m[6])
			idx := ensureClass(target, i+1)
			if m[4] != "" {
				trait := lastPathSegment(m[4])
				found := false
				for _, p := range unit.Classes[idx].Parents {
					if p == trait {
						found = true
					}
				}
				if !found {
					unit.Classes[idx].Parents = append(unit.Classes[idx].Parents, trait)
				}
			}
			blocks = append(blocks, block{class: idx, start: i, end: end, bodyDepth: lineDepth + 1})
			continue
		}

		owner, inBlock := member(i, lineDepth)

		if m := rustFnRe.FindStringSubmatch(line); m != nil {
			if !inBlock && lineDepth != 0 {
				continue
			}
			fn := rustFunction(lines, i, m[8], m[5] != "")
			if inBlock {
				c := &unit.Classes[owner.class]
				c.Methods = append(c.Methods, fn)
			} else {
				unit.Functions = append(unit.Functions, fn)
			}
			continue
		}

		if inBlock && owner.fields {
			if m := rustFieldRe.FindStringSubmatch(line); m != nil {
				addAttribute(&unit.Classes[owner.class], m[3])
			}
		}
	}
	return unit
}

func rustFunction(lines []string, i int, name string, async bool) Function {
	sig, _ := joinSignature(lines, i, 20)
	end, _ := blockEnd(lines, i, true)
	fn := Function{
		Name:      name,
		StartLine: i + 1,
		EndLine:   end + 1,
		Docstring: docAbove(lines, i),
		Async:     async,
	}

	// 跳过泛型参数中的括号，例如 fn f<F: Fn(u8)>(f: F)
	rest := sig
	if k := strings.Index(sig, name); k >= 0 {
		rest = sig[k+len(name):]
	}
	if strings.HasPrefix(strings.TrimSpace(rest), "<") {
		depth := 0
		for k := 0; k < len(rest); k++ {
			if rest[k] == '<' {
				depth++
			} else if rest[k] == '>' && (k == 0 || rest[k-1] != '-') {
				depth--
				if depth == 0 {
					rest = rest[k+1:]
					break
				}
			}
		}
	}

	params, after, ok := parenContent(rest)
	if !ok {
		return fn
	}
	for _, p := range splitList(params) {
		if strings.HasSuffix(p, "self") && !strings.Contains(p, ":") {
			continue
		}
		pname, ptype := splitTypeDefault(p)
		pname = strings.TrimPrefix(pname, "mut ")
		if pname == "self" {
			continue
		}
		fn.Params = append(fn.Params, Param{Name: pname, Type: ptype})
	}

	if k := strings.Index(after, "->"); k >= 0 {
		ret := after[k+2:]
		for _, stop := range []string{"{", " where ", ";"} {
			if j := strings.Index(ret, stop); j >= 0 {
				ret = ret[:j]
			}
		}
		fn.ReturnType = strings.TrimSpace(ret)
	}
	return fn
}

func lastPathSegment(p string) string {
	if k := strings.LastIndex(p, "::"); k >= 0 {
		return p[k+2:]
	}
	return p
}
