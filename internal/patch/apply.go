package patch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/model"
)

const (
	readmeTarget   = "README.md"
	readmeFallback = "docs/README.generated.md"
)

// FileChange 一个被修改或新建的文件
type FileChange struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Created bool   `json:"created"`
}

// Apply 把生成结果写入工作区，返回实际发生的修改
func Apply(root, kind string, result *ai.Result) ([]FileChange, error) {
	if result == nil || len(result.Items) == 0 {
		return nil, nil
	}

	switch kind {
	case model.KindReadme:
		return applyReadme(root, result.Items)
	case model.KindDocstrings:
		return applyPerFile(root, result.Items, insertDocstrings)
	case model.KindInlineComments:
		return applyPerFile(root, result.Items, insertHeader)
	}
	return nil, fmt.Errorf("unsupported documentation kind: %s", kind)
}

func applyReadme(root string, items []ai.Item) ([]FileChange, error) {
	var text string
	for _, it := range items {
		if strings.TrimSpace(it.Text) != "" {
			text = it.Text
			break
		}
	}
	if text == "" {
		return nil, nil
	}

	target := readmeTarget
	exists, err := hasReadme(root)
	if err != nil {
		return nil, err
	}
	if exists {
		target = readmeFallback
	}

	path, err := resolve(root, target)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", target, err)
	}

	return []FileChange{{Path: target, Added: countLines(text), Created: created}}, nil
}

// hasReadme 根目录下任意大小写的 README* 都算已有
func hasReadme(root string) (bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, fmt.Errorf("failed to read workspace: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(strings.ToLower(e.Name()), "readme") {
			return true, nil
		}
	}
	return false, nil
}

type editFunc func(lines []string, items []ai.Item) ([]string, int)

func applyPerFile(root string, items []ai.Item, edit editFunc) ([]FileChange, error) {
	byFile := make(map[string][]ai.Item)
	for _, it := range items {
		if it.TargetFile == "" || strings.TrimSpace(it.Text) == "" {
			continue
		}
		byFile[it.TargetFile] = append(byFile[it.TargetFile], it)
	}

	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	var changes []FileChange
	for _, rel := range files {
		path, err := resolve(root, rel)
		if err != nil {
			return nil, err
		}
		info, err := os.Lstat(path)
		if err != nil {
			log.Printf("Skip %s: %v", rel, err)
			continue
		}
		if !info.Mode().IsRegular() {
			log.Printf("Skip %s: not a regular file", rel)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}

		text := splitText(string(content))
		lines, added := edit(text.lines, byFile[rel])
		if added == 0 {
			continue
		}
		text.lines = lines

		if err := os.WriteFile(path, []byte(text.String()), info.Mode().Perm()); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		changes = append(changes, FileChange{Path: rel, Added: added})
	}
	return changes, nil
}

type insertion struct {
	at    int
	lines []string
}

// insertDocstrings 自下而上插入，保证前面的行号不受影响
func insertDocstrings(lines []string, items []ai.Item) ([]string, int) {
	var ins []insertion
	seen := make(map[int]bool)

	for _, it := range items {
		idx := it.Line - 1
		if idx < 0 || idx >= len(lines) || !declaresSymbol(lines, idx, it.Symbol) {
			log.Printf("Skip docstring for %s in %s: declaration not found at line %d", it.Symbol, it.TargetFile, it.Line)
			continue
		}

		var in insertion
		if it.Language == "python" {
			at, indent, ok := pythonBodyStart(lines, idx)
			if !ok {
				log.Printf("Skip docstring for %s in %s: no block body", it.Symbol, it.TargetFile)
				continue
			}
			in = insertion{at: at, lines: pythonDocstring(indent, it.Text)}
		} else {
			in = insertion{
				at:    declStart(lines, idx, it.Language),
				lines: docComment(it.Language, leadingSpace(lines[idx]), it.Text),
			}
		}

		if seen[in.at] {
			continue
		}
		seen[in.at] = true
		ins = append(ins, in)
	}

	sort.Slice(ins, func(i, j int) bool { return ins[i].at > ins[j].at })

	added := 0
	for _, in := range ins {
		lines = insertAt(lines, in.at, in.lines)
		added += len(in.lines)
	}
	return lines, added
}

// insertHeader 每个文件只取第一段文本作为文件头注释
func insertHeader(lines []string, items []ai.Item) ([]string, int) {
	it := items[0]
	at := headerStart(lines, it.Language)
	header := headerComment(it.Language, it.Text)
	if at < len(lines) && strings.TrimSpace(lines[at]) != "" {
		header = append(header, "")
	}
	return insertAt(lines, at, header), len(header)
}

// declaresSymbol 声明行（或紧随其后的两行）必须包含符号名
func declaresSymbol(lines []string, idx int, symbol string) bool {
	name := symbol
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return false
	}
	for i := idx; i < len(lines) && i <= idx+2; i++ {
		if strings.Contains(lines[i], name) {
			return true
		}
	}
	return false
}

// declStart 注释放在注解/属性之上
func declStart(lines []string, idx int, lang string) int {
	for idx > 0 {
		prev := strings.TrimSpace(lines[idx-1])
		switch lang {
		case "java", "javascript", "typescript":
			if strings.HasPrefix(prev, "@") {
				idx--
				continue
			}
		case "rust":
			if strings.HasPrefix(prev, "#[") {
				idx--
				continue
			}
		}
		break
	}
	return idx
}

// pythonBodyStart 找到 def/class 头部结束的位置和函数体缩进
func pythonBodyStart(lines []string, idx int) (int, string, bool) {
	start := -1
	for i := idx; i < len(lines) && i <= idx+2; i++ {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "async def ") || strings.HasPrefix(t, "class ") {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, "", false
	}

	depth := 0
	end := -1
	for i := start; i < len(lines) && end < 0; i++ {
		colon, rest := scanPythonLine(lines[i], &depth)
		if depth > 0 || !colon {
			continue
		}
		if rest != "" {
			// def f(): return 1
			return 0, "", false
		}
		end = i
	}
	if end < 0 {
		return 0, "", false
	}

	declIndent := leadingSpace(lines[start])
	indent := declIndent + "    "
	for i := end + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if ind := leadingSpace(lines[i]); len(ind) > len(declIndent) {
			indent = ind
		}
		break
	}
	return end + 1, indent, true
}

// scanPythonLine 更新括号深度；返回是否在深度 0 处遇到冒号以及冒号之后的内容
func scanPythonLine(line string, depth *int) (bool, string) {
	var quote byte
	colon := -1
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '#':
			return finishColon(line[:i], colon)
		case '(', '[', '{':
			*depth++
		case ')', ']', '}':
			*depth--
		case ':':
			if *depth == 0 {
				colon = i
			}
		}
	}
	return finishColon(line, colon)
}

func finishColon(line string, colon int) (bool, string) {
	if colon < 0 {
		return false, ""
	}
	return true, strings.TrimSpace(line[colon+1:])
}

func pythonDocstring(indent, text string) []string {
	body := docLines(strings.ReplaceAll(text, `"""`, `\"\"\"`))
	if n := len(body) - 1; strings.HasSuffix(body[n], `"`) {
		body[n] += " "
	}
	if len(body) == 1 {
		return []string{indent + `"""` + body[0] + `"""`}
	}

	out := []string{indent + `"""` + body[0]}
	for _, l := range body[1:] {
		if l == "" {
			out = append(out, "")
		} else {
			out = append(out, indent+l)
		}
	}
	return append(out, indent+`"""`)
}

func docComment(lang, indent, text string) []string {
	body := docLines(text)
	switch lang {
	case "java", "javascript", "typescript":
		return blockComment(indent, "/**", body)
	case "rust":
		return lineComment(indent, "///", body)
	}
	return lineComment(indent, "//", body)
}

func headerComment(lang, text string) []string {
	body := docLines(text)
	switch lang {
	case "python":
		return lineComment("", "#", body)
	case "rust":
		return lineComment("", "//!", body)
	case "java", "javascript", "typescript":
		return blockComment("", "/*", body)
	}
	return lineComment("", "//", body)
}

func lineComment(indent, marker string, body []string) []string {
	out := make([]string, 0, len(body))
	for _, l := range body {
		if l == "" {
			out = append(out, indent+marker)
		} else {
			out = append(out, indent+marker+" "+l)
		}
	}
	return out
}

func blockComment(indent, open string, body []string) []string {
	out := []string{indent + open}
	for _, l := range body {
		l = strings.ReplaceAll(l, "*/", "*\\/")
		if l == "" {
			out = append(out, indent+" *")
		} else {
			out = append(out, indent+" * "+l)
		}
	}
	return append(out, indent+" */")
}

var (
	encodingPattern = regexp.MustCompile(`^[ \t\f]*#.*?coding[:=]`)
	buildTagPattern = regexp.MustCompile(`^//(go:build|\s*\+build)\b`)
)

// headerStart 文件头注释放在 shebang、编码声明和 Go 构建约束之后
func headerStart(lines []string, lang string) int {
	at := 0
	if at < len(lines) && strings.HasPrefix(lines[at], "#!") {
		at++
	}
	switch lang {
	case "python":
		for at < len(lines) && at < 2 && encodingPattern.MatchString(lines[at]) {
			at++
		}
	case "go":
		tags := at
		for tags < len(lines) && buildTagPattern.MatchString(lines[tags]) {
			tags++
		}
		if tags > at {
			at = tags
			if at < len(lines) && strings.TrimSpace(lines[at]) == "" {
				at++
			}
		}
	}
	return at
}

func docLines(text string) []string {
	raw := strings.Split(strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n")), "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = strings.TrimRight(l, " \t")
	}
	return out
}

func insertAt(lines []string, at int, add []string) []string {
	out := make([]string, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func countLines(text string) int {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// resolve 拒绝逃出工作区的路径
func resolve(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid path in generation result: %q", rel)
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %q", rel)
	}
	return path, nil
}

// fileText 保留原文件的换行风格和结尾换行
type fileText struct {
	lines    []string
	newline  string
	trailing bool
}

func splitText(content string) fileText {
	f := fileText{newline: "\n"}
	if strings.Contains(content, "\r\n") {
		f.newline = "\r\n"
	}
	if content == "" {
		f.trailing = true
		return f
	}
	if strings.HasSuffix(content, f.newline) {
		f.trailing = true
		content = strings.TrimSuffix(content, f.newline)
	}
	f.lines = strings.Split(content, f.newline)
	return f
}

func (f fileText) String() string {
	s := strings.Join(f.lines, f.newline)
	if f.trailing {
		s += f.newline
	}
	return s
}
