package analyzer

import (
	"regexp"
	"strings"
)

var (
	javaImportRe = regexp.MustCompile(`^\s*import\s+(static\s+)?([\w.]+(\.\*)?)\s*;`)
	javaTypeRe   = regexp.MustCompile(`^\s*((public|protected|private|abstract|final|static|sealed|non-sealed|strictfp)\s+)*(class|interface|enum|record|@interface)\s+([A-Za-z_]\w*)\s*(<[^{]*?>)?\s*(\([^)]*\))?(\s+extends\s+([\w.<>,\s?]+?))?(\s+implements\s+([\w.<>,\s?]+?))?(\s+permits\s+[\w.,\s]+?)?\s*(\{.*)?$`)
	javaMethodRe = regexp.MustCompile(`^\s*((public|protected|private|static|final|abstract|synchronized|native|default|strictfp)\s+)*(<[^>]+>\s+)?([\w.<>\[\],?\s]+?)\s+([A-Za-z_]\w*)\s*\(`)
	javaCtorRe   = regexp.MustCompile(`^\s*((public|protected|private)\s+)?([A-Z]\w*)\s*\(`)
	javaFieldRe  = regexp.MustCompile(`^\s*((public|protected|private|static|final|transient|volatile)\s+)*([\w.<>\[\],?]+(\s*<[^;=]*>)?)\s+([A-Za-z_]\w*)\s*(=.*)?;\s*$`)
)

var javaNotType = map[string]bool{
	"return": true, "new": true, "else": true, "throw": true, "case": true,
	"package": true, "import": true, "if": true, "while": true, "for": true, "switch": true,
}

// JavaAnalyzer 逐行扫描，类体第一层的声明作为方法与字段
type JavaAnalyzer struct{}

func (JavaAnalyzer) Language() string     { return "java" }
func (JavaAnalyzer) Extensions() []string { return []string{".java"} }

func (JavaAnalyzer) Analyze(path string, src []byte) *Unit {
	unit := newUnit(path, "java", src)
	lines := splitLines(src)
	if !balanced(lines, false) {
		unit.warn("unbalanced braces, block ranges may be inaccurate")
	}

	type typeRange struct {
		idx        int
		start, end int
		bodyDepth  int
	}
	var types []typeRange

	member := func(line, depth int) int {
		for i := len(types) - 1; i >= 0; i-- {
			t := types[i]
			if line > t.start && line <= t.end && depth == t.bodyDepth {
				return t.idx
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
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "@") {
			continue
		}

		if lineDepth == 0 {
			if m := javaImportRe.FindStringSubmatch(line); m != nil {
				unit.Imports = append(unit.Imports, Import{Module: m[2]})
				continue
			}
		}

		if m := javaTypeRe.FindStringSubmatch(line); m != nil {
			end, _ := blockEnd(lines, i, false)
			c := Class{
				Name:      m[4],
				StartLine: i + 1,
				EndLine:   end + 1,
				Docstring: docAbove(lines, i),
			}
			c.Parents = append(c.Parents, splitList(m[8])...)
			c.Parents = append(c.Parents, splitList(m[10])...)
			// record 组件即字段
			if m[3] == "record" && m[6] != "" {
				for _, comp := range splitList(strings.Trim(m[6], "()")) {
					if _, name := javaTypeAndName(comp); name != "" {
						c.Attributes = append(c.Attributes, name)
					}
				}
			}
			unit.Classes = append(unit.Classes, c)
			types = append(types, typeRange{idx: len(unit.Classes) - 1, start: i, end: end, bodyDepth: lineDepth + 1})
			continue
		}

		owner := member(i, lineDepth)
		if owner < 0 {
			continue
		}

		if fn, ok := javaMethod(lines, i, unit.Classes[owner].Name); ok {
			unit.Classes[owner].Methods = append(unit.Classes[owner].Methods, fn)
			continue
		}
		if m := javaFieldRe.FindStringSubmatch(line); m != nil && !javaNotType[firstWord(m[3])] {
			addAttribute(&unit.Classes[owner], m[5])
		}
	}
	return unit
}

func javaMethod(lines []string, i int, className string) (Function, bool) {
	line := lines[i]
	var name, ret string

	if m := javaCtorRe.FindStringSubmatch(line); m != nil && m[3] == className {
		name = m[3]
	} else if m := javaMethodRe.FindStringSubmatch(line); m != nil {
		ret = strings.TrimSpace(m[4])
		if javaNotType[firstWord(ret)] || javaNotType[m[5]] {
			return Function{}, false
		}
		name = m[5]
	} else {
		return Function{}, false
	}

	sig, _ := joinSignature(lines, i, 20)
	end, _ := blockEnd(lines, i, false)
	fn := Function{
		Name:       name,
		ReturnType: ret,
		StartLine:  i + 1,
		EndLine:    end + 1,
		Docstring:  docAbove(lines, i),
	}
	if params, _, ok := parenContent(sig); ok {
		for _, p := range splitList(params) {
			typ, pname := javaTypeAndName(p)
			if pname != "" {
				fn.Params = append(fn.Params, Param{Name: pname, Type: typ})
			}
		}
	}
	return fn, true
}

// javaTypeAndName 拆分 "final @NotNull List<String> names"
func javaTypeAndName(p string) (string, string) {
	var fields []string
	for _, f := range strings.Fields(p) {
		if f == "final" || strings.HasPrefix(f, "@") {
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) < 2 {
		return "", ""
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
