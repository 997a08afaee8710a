package analyzer

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strconv"
	"strings"
)

// GoAnalyzer 基于 go/parser，语法错误时使用解析器返回的部分 AST
type GoAnalyzer struct{}

func (GoAnalyzer) Language() string     { return "go" }
func (GoAnalyzer) Extensions() []string { return []string{".go"} }

func (GoAnalyzer) Analyze(path string, src []byte) *Unit {
	unit := newUnit(path, "go", src)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		unit.warn(fmt.Sprintf("syntax error: %s", firstLine(err.Error())))
	}
	if file == nil {
		return unit
	}

	line := func(p token.Pos) int { return fset.Position(p).Line }

	for _, imp := range file.Imports {
		mod, _ := strconv.Unquote(imp.Path.Value)
		i := Import{Module: mod}
		if imp.Name != nil {
			i.Alias = imp.Name.Name
		}
		unit.Imports = append(unit.Imports, i)
	}

	classIndex := make(map[string]int)
	var methods []struct {
		recv string
		fn   Function
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				c := Class{
					Name:      ts.Name.Name,
					StartLine: line(d.Pos()),
					EndLine:   line(ts.End()),
					Docstring: docText(ts.Doc, d.Doc, len(d.Specs) == 1),
				}
				// 分组声明 type ( ... ) 中每个类型从自己的位置开始
				if d.Lparen.IsValid() {
					c.StartLine = line(ts.Pos())
				}
				switch t := ts.Type.(type) {
				case *ast.StructType:
					for _, f := range t.Fields.List {
						if len(f.Names) == 0 {
							c.Parents = append(c.Parents, types.ExprString(f.Type))
							continue
						}
						for _, n := range f.Names {
							c.Attributes = append(c.Attributes, n.Name)
						}
					}
				case *ast.InterfaceType:
					for _, m := range t.Methods.List {
						ft, ok := m.Type.(*ast.FuncType)
						if !ok {
							c.Parents = append(c.Parents, types.ExprString(m.Type))
							continue
						}
						for _, n := range m.Names {
							fn := goFunc(n.Name, ft, m.Doc, line(m.Pos()), line(m.End()))
							c.Methods = append(c.Methods, fn)
						}
					}
				}
				classIndex[c.Name] = len(unit.Classes)
				unit.Classes = append(unit.Classes, c)
			}

		case *ast.FuncDecl:
			fn := goFunc(d.Name.Name, d.Type, d.Doc, line(d.Pos()), line(d.End()))
			if d.Recv == nil || len(d.Recv.List) == 0 {
				unit.Functions = append(unit.Functions, fn)
				continue
			}
			methods = append(methods, struct {
				recv string
				fn   Function
			}{recv: receiverName(d.Recv.List[0].Type), fn: fn})
		}
	}

	for _, m := range methods {
		if i, ok := classIndex[m.recv]; ok {
			unit.Classes[i].Methods = append(unit.Classes[i].Methods, m.fn)
			continue
		}
		// 接收者类型定义在其他文件
		m.fn.Name = m.recv + "." + m.fn.Name
		unit.Functions = append(unit.Functions, m.fn)
	}

	return unit
}

func goFunc(name string, ft *ast.FuncType, doc *ast.CommentGroup, start, end int) Function {
	fn := Function{
		Name:      name,
		StartLine: start,
		EndLine:   end,
		Docstring: strings.TrimSpace(doc.Text()),
	}
	if ft.Params != nil {
		for _, p := range ft.Params.List {
			typ := types.ExprString(p.Type)
			if len(p.Names) == 0 {
				fn.Params = append(fn.Params, Param{Name: "_", Type: typ})
				continue
			}
			for _, n := range p.Names {
				fn.Params = append(fn.Params, Param{Name: n.Name, Type: typ})
			}
		}
	}
	if ft.Results != nil && len(ft.Results.List) > 0 {
		var results []string
		for _, r := range ft.Results.List {
			typ := types.ExprString(r.Type)
			n := len(r.Names)
			if n == 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				results = append(results, typ)
			}
		}
		if len(results) == 1 {
			fn.ReturnType = results[0]
		} else {
			fn.ReturnType = "(" + strings.Join(results, ", ") + ")"
		}
	}
	return fn
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return types.ExprString(expr)
}

// docText 优先使用类型自身的注释，单个声明时退回到 GenDecl 的注释
func docText(spec, decl *ast.CommentGroup, single bool) string {
	if spec != nil {
		return strings.TrimSpace(spec.Text())
	}
	if single && decl != nil {
		return strings.TrimSpace(decl.Text())
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
