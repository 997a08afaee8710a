package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	pyDefRe       = regexp.MustCompile(`^(\s*)(async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	pyClassRe     = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)\s*(\((.*)\))?\s*:`)
	pyImportRe    = regexp.MustCompile(`^import\s+(.+)$`)
	pyFromRe      = regexp.MustCompile(`^from\s+([.\w]+)\s+import\s+(.+)$`)
	pySelfAttrRe  = regexp.MustCompile(`self\.([A-Za-z_]\w*)\s*(:[^=]+)?=[^=]`)
	pyClassAttrRe = regexp.MustCompile(`^([A-Za-z_]\w*)\s*(:[^=]+)?=[^=]|^([A-Za-z_]\w*)\s*:\s*\S`)
)

// PythonAnalyzer 基于缩进的行扫描
type PythonAnalyzer struct{}

func (PythonAnalyzer) Language() string     { return "python" }
func (PythonAnalyzer) Extensions() []string { return []string{".py", ".pyi"} }

type pyBlock struct {
	indent int
	class  int // unit.Classes 下标，函数块为 -1
	fn     *Function
}

func (PythonAnalyzer) Analyze(path string, src []byte) *Unit {
	unit := newUnit(path, "python", src)
	lines := splitLines(src)
	code := maskPythonStrings(lines, unit)

	var stack []pyBlock
	type pending struct {
		fn    *Function
		class int
	}
	var open []pending

	// closeBlocks 关闭缩进不小于 indent 的块，并回填结束行
	closeBlocks := func(indent, lastCode int) {
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if b.fn != nil {
				b.fn.EndLine = lastCode + 1
			} else if b.class >= 0 {
				unit.Classes[b.class].EndLine = lastCode + 1
			}
		}
	}

	lastCode := -1
	for i := 0; i < len(code); i++ {
		line := code[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := indentWidth(line)
		closeBlocks(indent, lastCode)
		lastCode = i

		if indent == 0 {
			parsePythonImport(trimmed, unit)
		}

		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			c := Class{
				Name:      m[2],
				StartLine: i + 1,
				EndLine:   i + 1,
				Docstring: pythonDocstring(lines, i+1),
			}
			for _, p := range splitList(m[4]) {
				if !strings.Contains(p, "=") {
					c.Parents = append(c.Parents, p)
				}
			}
			unit.Classes = append(unit.Classes, c)
			stack = append(stack, pyBlock{indent: indent, class: len(unit.Classes) - 1})
			continue
		}

		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			sig, end := joinPythonSignature(code, i)
			if end < 0 {
				unit.warn(fmt.Sprintf("line %d: unterminated definition of %s", i+1, m[3]))
				break
			}
			fn := parsePythonSignature(m[3], sig)
			fn.Async = m[2] != ""
			fn.StartLine = i + 1
			fn.EndLine = end + 1
			fn.Docstring = pythonDocstring(lines, end+1)

			parentClass := -1
			nested := false
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.fn == nil && top.class >= 0 {
					parentClass = top.class
				} else {
					nested = true
				}
			}
			if parentClass >= 0 && len(fn.Params) > 0 && (fn.Params[0].Name == "self" || fn.Params[0].Name == "cls") {
				fn.Params = fn.Params[1:]
			}

			if nested {
				// 嵌套函数不单独记录，占位以保持缩进栈正确
				stack = append(stack, pyBlock{indent: indent, class: -1})
			} else {
				f := &fn
				open = append(open, pending{fn: f, class: parentClass})
				stack = append(stack, pyBlock{indent: indent, class: -1, fn: f})
			}
			lastCode = end
			i = end
			continue
		}

		// 类属性与实例属性
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.fn == nil && top.class >= 0 {
				if m := pyClassAttrRe.FindStringSubmatch(trimmed); m != nil {
					name := m[1]
					if name == "" {
						name = m[3]
					}
					addAttribute(&unit.Classes[top.class], name)
				}
			}
			if cls := enclosingClass(stack); cls >= 0 {
				for _, m := range pySelfAttrRe.FindAllStringSubmatch(trimmed, -1) {
					addAttribute(&unit.Classes[cls], m[1])
				}
			}
		}
	}
	closeBlocks(0, lastCode)

	for _, p := range open {
		if p.class >= 0 {
			unit.Classes[p.class].Methods = append(unit.Classes[p.class].Methods, *p.fn)
		} else {
			unit.Functions = append(unit.Functions, *p.fn)
		}
	}
	return unit
}

// enclosingClass 当前所在方法所属的类
func enclosingClass(stack []pyBlock) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].fn == nil && stack[i].class >= 0 {
			return stack[i].class
		}
	}
	return -1
}

func addAttribute(c *Class, name string) {
	for _, a := range c.Attributes {
		if a == name {
			return
		}
	}
	c.Attributes = append(c.Attributes, name)
}

func indentWidth(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8 - n%8
		default:
			return n
		}
	}
	return n
}

// maskPythonStrings 把三引号字符串内容替换为空行，避免其中的 def/class 被识别
func maskPythonStrings(lines []string, unit *Unit) []string {
	out := make([]string, len(lines))
	var delim string
	startLine := 0
	for i, l := range lines {
		if delim != "" {
			if idx := strings.Index(l, delim); idx >= 0 {
				delim = ""
				out[i] = strings.Repeat(" ", idx+3) + l[idx+3:]
			}
			continue
		}
		out[i] = l
		rest := l
		for {
			idx, d := firstTripleQuote(rest)
			if idx < 0 {
				break
			}
			after := rest[idx+3:]
			if end := strings.Index(after, d); end >= 0 {
				rest = after[end+3:]
				continue
			}
			delim = d
			startLine = i
			out[i] = l[:len(l)-len(rest)+idx]
			break
		}
	}
	if delim != "" {
		unit.warn(fmt.Sprintf("line %d: unterminated string literal", startLine+1))
	}
	return out
}

func firstTripleQuote(s string) (int, string) {
	a := strings.Index(s, `"""`)
	b := strings.Index(s, `'''`)
	switch {
	case a < 0 && b < 0:
		return -1, ""
	case b < 0 || (a >= 0 && a < b):
		return a, `"""`
	default:
		return b, `'''`
	}
}

// joinPythonSignature 拼接跨行的 def 头，返回头部结束行；括号不配平返回 -1
func joinPythonSignature(lines []string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	for i := start; i < len(lines) && i < start+50; i++ {
		l := lines[i]
		if h := strings.Index(l, "#"); h >= 0 {
			l = l[:h]
		}
		b.WriteString(strings.TrimSpace(l))
		b.WriteByte(' ')
		depth += strings.Count(l, "(") - strings.Count(l, ")")
		if depth <= 0 && strings.Contains(l, ":") {
			return b.String(), i
		}
	}
	return "", -1
}

func parsePythonSignature(name, sig string) Function {
	fn := Function{Name: name}

	open := strings.Index(sig, "(")
	if open < 0 {
		return fn
	}
	depth := 0
	closeIdx := -1
	for i := open; i < len(sig); i++ {
		if sig[i] == '(' {
			depth++
		} else if sig[i] == ')' {
			depth--
			if depth == 0 {
				closeIdx = i
				break
			}
		}
	}
	if closeIdx < 0 {
		return fn
	}

	for _, p := range splitList(sig[open+1 : closeIdx]) {
		if p == "*" || p == "/" {
			continue
		}
		pname, ptype := splitTypeDefault(p)
		fn.Params = append(fn.Params, Param{Name: pname, Type: ptype})
	}

	rest := sig[closeIdx+1:]
	if i := strings.Index(rest, "->"); i >= 0 {
		ret := rest[i+2:]
		if j := strings.LastIndex(ret, ":"); j >= 0 {
			ret = ret[:j]
		}
		fn.ReturnType = strings.TrimSpace(ret)
	}
	return fn
}

// pythonDocstring 读取 header 之后第一条语句中的文档字符串
func pythonDocstring(lines []string, from int) string {
	for i := from; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		for _, prefix := range []string{"r", "u", ""} {
			for _, q := range []string{`"""`, `'''`} {
				if !strings.HasPrefix(t, prefix+q) {
					continue
				}
				body := t[len(prefix)+3:]
				if end := strings.Index(body, q); end >= 0 {
					return strings.TrimSpace(body[:end])
				}
				parts := []string{body}
				for j := i + 1; j < len(lines); j++ {
					if end := strings.Index(lines[j], q); end >= 0 {
						parts = append(parts, lines[j][:end])
						return dedent(parts)
					}
					parts = append(parts, lines[j])
				}
				return ""
			}
		}
		return ""
	}
	return ""
}

func dedent(parts []string) string {
	minIndent := -1
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if w := indentWidth(p); minIndent < 0 || w < minIndent {
			minIndent = w
		}
	}
	out := []string{strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		if minIndent > 0 && len(p) >= minIndent {
			p = p[minIndent:]
		}
		out = append(out, strings.TrimRight(p, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func parsePythonImport(line string, unit *Unit) {
	if h := strings.Index(line, "#"); h >= 0 {
		line = strings.TrimSpace(line[:h])
	}
	if m := pyImportRe.FindStringSubmatch(line); m != nil {
		for _, part := range splitList(m[1]) {
			mod, alias := splitAlias(part)
			unit.Imports = append(unit.Imports, Import{Module: mod, Alias: alias})
		}
		return
	}
	if m := pyFromRe.FindStringSubmatch(line); m != nil {
		names := strings.Trim(m[2], "() ")
		for _, part := range splitList(names) {
			name, alias := splitAlias(part)
			mod := m[1] + "." + name
			if strings.HasSuffix(m[1], ".") {
				mod = m[1] + name
			}
			unit.Imports = append(unit.Imports, Import{Module: mod, Alias: alias})
		}
	}
}

func splitAlias(s string) (string, string) {
	fields := strings.Fields(s)
	if len(fields) == 3 && fields[1] == "as" {
		return fields[0], fields[2]
	}
	return strings.TrimSpace(s), ""
}
