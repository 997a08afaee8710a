package analyzer

import (
	"strings"
)

// 类 C 语言（JS/TS、Java、Rust）共用的文本扫描工具。
// 这些分析器按行工作，不构建完整语法树。

func splitLines(src []byte) []string {
	s := strings.ReplaceAll(string(src), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// braceScanner 跨行统计花括号深度，忽略字符串与注释中的括号。
// lifetimes 为 true 时（Rust）单引号只在字符字面量形态下视为引号。
type braceScanner struct {
	lifetimes      bool
	inBlockComment bool
}

// delta 返回该行花括号净增量，以及该行是否出现过 '{'
func (s *braceScanner) delta(line string) (int, bool) {
	d := 0
	opened := false
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if s.inBlockComment {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.inBlockComment = false
				i++
			}
			continue
		}
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '/':
			if i+1 < len(line) {
				if line[i+1] == '/' {
					return d, opened
				}
				if line[i+1] == '*' {
					s.inBlockComment = true
					i++
				}
			}
		case '"', '`':
			quote = c
		case '\'':
			if !s.lifetimes || (i+2 < len(line) && (line[i+2] == '\'' || line[i+1] == '\\')) {
				quote = c
			}
		case '{':
			d++
			opened = true
		case '}':
			d--
		}
	}
	return d, opened
}

// blockEnd 从 start 行开始找到与第一个 '{' 匹配的 '}' 所在行（0 基）。
// 未找到返回最后一行与 false。
func blockEnd(lines []string, start int, lifetimes bool) (int, bool) {
	s := braceScanner{lifetimes: lifetimes}
	depth := 0
	seen := false
	for i := start; i < len(lines); i++ {
		d, opened := s.delta(lines[i])
		depth += d
		if opened {
			seen = true
		}
		if seen && depth <= 0 {
			return i, true
		}
		// 声明以 ; 结束且没有函数体（抽象方法、trait 方法签名）
		if !seen && strings.HasSuffix(strings.TrimSpace(stripLineComment(lines[i])), ";") {
			return i, true
		}
	}
	return len(lines) - 1, false
}

// balanced 检查整个文件的花括号是否配对
func balanced(lines []string, lifetimes bool) bool {
	s := braceScanner{lifetimes: lifetimes}
	depth := 0
	for _, l := range lines {
		d, _ := s.delta(l)
		depth += d
		if depth < 0 {
			return false
		}
	}
	return depth == 0 && !s.inBlockComment
}

// joinSignature 从 start 行开始拼接，直到圆括号配平，最多 maxLines 行
func joinSignature(lines []string, start, maxLines int) (string, int) {
	var b strings.Builder
	depth := 0
	end := start
	for i := start; i < len(lines) && i < start+maxLines; i++ {
		l := stripLineComment(lines[i])
		if i > start {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(l))
		depth += strings.Count(l, "(") - strings.Count(l, ")")
		end = i
		if depth <= 0 {
			break
		}
	}
	return b.String(), end
}

func stripLineComment(line string) string {
	var quote byte
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
		if c == '"' || c == '`' {
			quote = c
			continue
		}
		if c == '/' && i+1 < len(line) && line[i+1] == '/' {
			return line[:i]
		}
	}
	return line
}

// docAbove 读取 idx 行之上紧邻的文档注释（/** */、/// 或 //），跳过注解/属性行
func docAbove(lines []string, idx int) string {
	i := idx - 1
	for i >= 0 {
		t := strings.TrimSpace(lines[i])
		if strings.HasPrefix(t, "@") || strings.HasPrefix(t, "#[") {
			i--
			continue
		}
		break
	}
	if i < 0 {
		return ""
	}

	t := strings.TrimSpace(lines[i])
	if strings.HasSuffix(t, "*/") {
		end := i
		for i >= 0 && !strings.Contains(lines[i], "/*") {
			i--
		}
		if i < 0 {
			return ""
		}
		return cleanBlockComment(lines[i : end+1])
	}

	if strings.HasPrefix(t, "//") {
		end := i
		for i >= 0 && strings.HasPrefix(strings.TrimSpace(lines[i]), "//") {
			i--
		}
		var parts []string
		for _, l := range lines[i+1 : end+1] {
			l = strings.TrimSpace(l)
			l = strings.TrimLeft(l, "/!")
			parts = append(parts, strings.TrimSpace(l))
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

func cleanBlockComment(lines []string) string {
	var parts []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "/**")
		l = strings.TrimPrefix(l, "/*")
		l = strings.TrimSuffix(l, "*/")
		l = strings.TrimPrefix(strings.TrimSpace(l), "*")
		parts = append(parts, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// splitTopLevel 按 sep 切分，忽略括号、尖括号、字符串内部的分隔符
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		last  int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '`':
			quote = c
		case '\'':
			// 只有默认值里的单引号是字符串，其余可能是 Rust 生命周期
			if prevNonSpace(s, i) == '=' {
				quote = c
			}
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}':
			depth--
		case '>':
			// => 与 -> 不是尖括号
			if i > 0 && (s[i-1] == '=' || s[i-1] == '-') {
				continue
			}
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[last:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// splitTypeDefault 拆出 "name: type = default" 中的 name 与 type
func splitTypeDefault(p string) (string, string) {
	if i := indexTopLevel(p, '='); i >= 0 {
		p = strings.TrimSpace(p[:i])
	}
	name, typ := p, ""
	if i := indexTopLevel(p, ':'); i >= 0 {
		name = strings.TrimSpace(p[:i])
		typ = strings.TrimSpace(p[i+1:])
	}
	return name, typ
}

func indexTopLevel(s string, target byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}':
			depth--
		case '>':
			if i > 0 && (s[i-1] == '=' || s[i-1] == '-') {
				continue
			}
			depth--
		default:
			if s[i] == target && depth == 0 {
				// Rust 路径 a::b 中的冒号
				if target == ':' && i+1 < len(s) && s[i+1] == ':' {
					i++
					continue
				}
				// => 与 == 中的等号
				if target == '=' && i+1 < len(s) && (s[i+1] == '>' || s[i+1] == '=') {
					i++
					continue
				}
				return i
			}
		}
	}
	return -1
}

func splitList(s string) []string {
	var out []string
	for _, p := range splitTopLevel(s, ',') {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func prevNonSpace(s string, i int) byte {
	for j := i - 1; j >= 0; j-- {
		if s[j] != ' ' && s[j] != '\t' {
			return s[j]
		}
	}
	return 0
}
