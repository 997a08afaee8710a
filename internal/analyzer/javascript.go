package analyzer

import (
	"regexp"
	"strings"
)

var (
	jsFuncRe   = regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(declare\s+)?(async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*(<[^(]*>)?\s*\(`)
	jsArrowRe  = regexp.MustCompile(`^\s*(export\s+)?(const|let|var)\s+([A-Za-z_$][\w$]*)\s*(:[^=]+)?=\s*(async\s+)?(function\b|\(|[A-Za-z_$][\w$]*\s*=>)`)
	jsClassRe  = regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(abstract\s+)?(class|interface)\s+([A-Za-z_$][\w$]*)\s*(<[^{]*?>)?(\s+extends\s+([\w$.,\s<>]+?))?(\s+implements\s+([\w$.,\s<>]+?))?\s*(\{\s*\}?)?\s*$`)
	jsMethodRe = regexp.MustCompile(`^\s*((public|private|protected|static|readonly|abstract|override|async|get|set)\s+)*\*?\s*(#?[A-Za-z_$][\w$]*)\s*\??\s*(<[^(]*>)?\s*\(`)
	jsFieldRe  = regexp.MustCompile(`^\s*((public|private|protected|static|readonly|declare)\s+)*(#?[A-Za-z_$][\w$]*)\s*[?!]?\s*(:[^=;]+)?(=[^=>].*)?;?\s*$`)

	jsImportFromRe = regexp.MustCompile(`^\s*import\s+(type\s+)?(.+?)\s+from\s+['"]([^'"]+)['"]`)
	jsImportBareRe = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`^\s*(const|let|var)\s+([\w$]+|\{[^}]*\})\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`)
)

var jsKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "new": true, "typeof": true, "super": true,
	"else": true, "do": true, "try": true, "with": true, "await": true, "yield": true,
}

// JavaScriptAnalyzer 逐行正则扫描 JS/TS，花括号计数确定代码块范围
type JavaScriptAnalyzer struct{}

func (JavaScriptAnalyzer) Language() string { return "javascript" }
func (JavaScriptAnalyzer) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs"}
}
func (JavaScriptAnalyzer) Analyze(path string, src []byte) *Unit {
	return analyzeJS(path, "javascript", src)
}

type TypeScriptAnalyzer struct{}

func (TypeScriptAnalyzer) Language() string     { return "typescript" }
func (TypeScriptAnalyzer) Extensions() []string { return []string{".ts", ".tsx", ".mts", ".cts"} }
func (TypeScriptAnalyzer) Analyze(path string, src []byte) *Unit {
	return analyzeJS(path, "typescript", src)
}

func analyzeJS(path, language string, src []byte) *Unit {
	unit := newUnit(path, language, src)
	lines := splitLines(src)
	if !balanced(lines, false) {
		unit.warn("unbalanced braces, block ranges may be inaccurate")
	}

	type classRange struct {
		idx        int
		start, end int
		bodyDepth  int
	}
	var classes []classRange

	// member 返回 line 所属类的下标，只有位于类体第一层的行才算成员
	member := func(line, depth int) int {
		for i := len(classes) - 1; i >= 0; i-- {
			c := classes[i]
			if line > c.start && line <= c.end {
				if depth == c.bodyDepth {
					return c.idx
				}
				return -1
			}
		}
		return -1
	}

	var s braceScanner
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
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") {
			continue
		}

		if lineDepth == 0 && parseJSImport(line, unit) {
			continue
		}

		if m := jsClassRe.FindStringSubmatch(line); m != nil {
			end, _ := blockEnd(lines, i, false)
			c := Class{
				Name:      m[5],
				StartLine: i + 1,
				EndLine:   end + 1,
				Docstring: docAbove(lines, i),
			}
			c.Parents = append(c.Parents, splitList(m[8])...)
			c.Parents = append(c.Parents, splitList(m[10])...)
			unit.Classes = append(unit.Classes, c)
			classes = append(classes, classRange{idx: len(unit.Classes) - 1, start: i, end: end, bodyDepth: lineDepth + 1})
			continue
		}

		if lineDepth == 0 {
			if m := jsFuncRe.FindStringSubmatch(line); m != nil {
				unit.Functions = append(unit.Functions, jsFunction(lines, i, m[5], m[4] != ""))
				continue
			}
			if m := jsArrowRe.FindStringSubmatch(line); m != nil {
				sig, _ := joinSignature(lines, i, 20)
				if strings.Contains(sig, "=>") || strings.Contains(sig, "function") {
					unit.Functions = append(unit.Functions, jsFunction(lines, i, m[3], m[5] != ""))
				}
				continue
			}
			continue
		}

		owner := member(i, lineDepth)
		if owner < 0 {
			continue
		}
		if m := jsMethodRe.FindStringSubmatch(line); m != nil && !jsKeywords[m[3]] {
			fn := jsFunction(lines, i, m[3], strings.Contains(m[0], "async "))
			unit.Classes[owner].Methods = append(unit.Classes[owner].Methods, fn)
			continue
		}
		if m := jsFieldRe.FindStringSubmatch(line); m != nil && !jsKeywords[m[3]] {
			addAttribute(&unit.Classes[owner], m[3])
		}
	}
	return unit
}

func jsFunction(lines []string, i int, name string, async bool) Function {
	sig, _ := joinSignature(lines, i, 20)
	end, _ := blockEnd(lines, i, false)

	fn := Function{
		Name:      name,
		StartLine: i + 1,
		EndLine:   end + 1,
		Docstring: docAbove(lines, i),
		Async:     async,
	}

	params, rest, ok := parenContent(sig)
	if !ok {
		// 单参数箭头函数 x => ...
		if j := strings.Index(sig, "=>"); j >= 0 {
			before := strings.TrimSpace(sig[:j])
			if k := strings.LastIndexAny(before, " =("); k >= 0 {
				before = before[k+1:]
			}
			if before != "" {
				fn.Params = []Param{{Name: before}}
			}
		}
		return fn
	}
	for _, p := range splitList(params) {
		name, typ := splitTypeDefault(p)
		name = strings.TrimSuffix(name, "?")
		fn.Params = append(fn.Params, Param{Name: name, Type: typ})
	}

	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, ":") {
		ret := rest[1:]
		if k := strings.Index(ret, "=>"); k >= 0 {
			ret = ret[:k]
		}
		if k := strings.Index(ret, "{"); k >= 0 {
			ret = ret[:k]
		}
		fn.ReturnType = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(ret), ";"))
	}
	return fn
}

// parenContent 返回第一对顶层圆括号内的内容与其后的剩余文本
func parenContent(sig string) (string, string, bool) {
	open := strings.Index(sig, "(")
	if open < 0 {
		return "", sig, false
	}
	depth := 0
	for i := open; i < len(sig); i++ {
		switch sig[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sig[open+1 : i], sig[i+1:], true
			}
		}
	}
	return "", sig, false
}

func parseJSImport(line string, unit *Unit) bool {
	if m := jsImportFromRe.FindStringSubmatch(line); m != nil {
		clause := strings.TrimSpace(m[2])
		switch {
		case strings.HasPrefix(clause, "* as "):
			unit.Imports = append(unit.Imports, Import{Module: m[3], Alias: strings.TrimSpace(clause[5:])})
		case strings.HasPrefix(clause, "{"):
			unit.Imports = append(unit.Imports, Import{Module: m[3]})
		default:
			// import Default, { named } from 'mod'
			alias := strings.TrimSpace(strings.SplitN(clause, ",", 2)[0])
			unit.Imports = append(unit.Imports, Import{Module: m[3], Alias: alias})
		}
		return true
	}
	if m := jsImportBareRe.FindStringSubmatch(line); m != nil {
		unit.Imports = append(unit.Imports, Import{Module: m[1]})
		return true
	}
	if m := jsRequireRe.FindStringSubmatch(line); m != nil {
		alias := m[2]
		if strings.HasPrefix(alias, "{") {
			alias = ""
		}
		unit.Imports = append(unit.Imports, Import{Module: m[3], Alias: alias})
		return true
	}
	return false
}
