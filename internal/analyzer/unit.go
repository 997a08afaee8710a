package analyzer

import "strings"

// Param 函数参数
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function 函数或方法
type Function struct {
	Name       string  `json:"name"`
	Params     []Param `json:"params,omitempty"`
	ReturnType string  `json:"return_type,omitempty"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Docstring  string  `json:"docstring,omitempty"`
	Async      bool    `json:"async,omitempty"`
}

// Class 类、结构体、接口、trait 等类型声明
type Class struct {
	Name       string     `json:"name"`
	Methods    []Function `json:"methods,omitempty"`
	Attributes []string   `json:"attributes,omitempty"`
	Parents    []string   `json:"parents,omitempty"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	Docstring  string     `json:"docstring,omitempty"`
}

type Import struct {
	Module string `json:"module"`
	Alias  string `json:"alias,omitempty"`
}

// Unit 单个文件的分析结果，与语言无关，文件之间互不引用
type Unit struct {
	FilePath  string     `json:"file_path"`
	Language  string     `json:"language"`
	Size      int64      `json:"size"`
	LineCount int        `json:"line_count"`
	Functions []Function `json:"functions,omitempty"`
	Classes   []Class    `json:"classes,omitempty"`
	Imports   []Import   `json:"imports,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

func newUnit(path, language string, src []byte) *Unit {
	return &Unit{
		FilePath:  path,
		Language:  language,
		Size:      int64(len(src)),
		LineCount: countLines(src),
	}
}

// SymbolCount 函数、类与方法总数
func (u *Unit) SymbolCount() int {
	n := len(u.Functions) + len(u.Classes)
	for _, c := range u.Classes {
		n += len(c.Methods)
	}
	return n
}

func (u *Unit) HasSymbols() bool {
	return u.SymbolCount() > 0
}

func (u *Unit) warn(msg string) {
	u.Warnings = append(u.Warnings, msg)
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := strings.Count(string(src), "\n")
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}
