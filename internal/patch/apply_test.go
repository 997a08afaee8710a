package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/model"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestApply_ReadmeCreated(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	changes, err := Apply(root, model.KindReadme, &ai.Result{Items: []ai.Item{{Text: "# Demo\n\nA demo.\n"}}})
	require.NoError(t, err)

	assert.Equal(t, []FileChange{{Path: "README.md", Added: 3, Created: true}}, changes)
	assert.Equal(t, "# Demo\n\nA demo.\n", readFile(t, root, "README.md"))
}

func TestApply_ReadmeExistingIsKept(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "readme.rst", "Original\n")

	changes, err := Apply(root, model.KindReadme, &ai.Result{Items: []ai.Item{{Text: "# Generated\n"}}})
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, "docs/README.generated.md", changes[0].Path)
	assert.Equal(t, "Original\n", readFile(t, root, "readme.rst"))
	assert.Equal(t, "# Generated\n", readFile(t, root, "docs/README.generated.md"))
}

func TestApply_GoDocstrings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", `package main

import "fmt"

type Server struct {
	addr string
}

func (s *Server) Run() error {
	return nil
}

func main() {
	fmt.Println("hi")
}
`)

	result := &ai.Result{Items: []ai.Item{
		{TargetFile: "main.go", Language: "go", Symbol: "Bogus", Line: 3, Text: "Never inserted."},
		{TargetFile: "main.go", Language: "go", Symbol: "Server", Line: 5, Text: "Serves requests."},
		{TargetFile: "main.go", Language: "go", Symbol: "Server.Run", Line: 9, Text: "Run starts serving.\nBlocks until stopped."},
		{TargetFile: "main.go", Language: "go", Symbol: "main", Line: 13, Text: "Entry point."},
	}}

	changes, err := Apply(root, model.KindDocstrings, result)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{{Path: "main.go", Added: 4}}, changes)

	assert.Equal(t, `package main

import "fmt"

// Serves requests.
type Server struct {
	addr string
}

// Run starts serving.
// Blocks until stopped.
func (s *Server) Run() error {
	return nil
}

// Entry point.
func main() {
	fmt.Println("hi")
}
`, readFile(t, root, "main.go"))
}

func TestApply_PythonDocstrings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/animal.py", `import os


class Animal(Base):
    sound = "..."

    def speak(self,
              loud: bool = False) -> str:
        return self.sound


def short(): return 1
`)

	result := &ai.Result{Items: []ai.Item{
		{TargetFile: "pkg/animal.py", Language: "python", Symbol: "Animal", Line: 4, Text: "An animal."},
		{TargetFile: "pkg/animal.py", Language: "python", Symbol: "Animal.speak", Line: 7, Text: "Speak.\n\nReturns the sound."},
		{TargetFile: "pkg/animal.py", Language: "python", Symbol: "short", Line: 12, Text: "One-liners have no body block."},
	}}

	changes, err := Apply(root, model.KindDocstrings, result)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{{Path: "pkg/animal.py", Added: 5}}, changes)

	assert.Equal(t, `import os


class Animal(Base):
    """An animal."""
    sound = "..."

    def speak(self,
              loud: bool = False) -> str:
        """Speak.

        Returns the sound.
        """
        return self.sound


def short(): return 1
`, readFile(t, root, "pkg/animal.py"))
}

func TestApply_JavaAndRustDocstrings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Circle.java", `public class Circle {
    @Override
    public double area() {
        return 0;
    }
}
`)
	writeFile(t, root, "src/point.rs", `#[derive(Debug)]
pub struct Point {
    x: f64,
}
`)

	result := &ai.Result{Items: []ai.Item{
		{TargetFile: "Circle.java", Language: "java", Symbol: "Circle", Line: 1, Text: "A circle."},
		{TargetFile: "Circle.java", Language: "java", Symbol: "Circle.area", Line: 3, Text: "Area */ of circle."},
		{TargetFile: "src/point.rs", Language: "rust", Symbol: "Point", Line: 2, Text: "A point."},
	}}

	changes, err := Apply(root, model.KindDocstrings, result)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{
		{Path: "Circle.java", Added: 6},
		{Path: "src/point.rs", Added: 1},
	}, changes)

	assert.Equal(t, `/**
 * A circle.
 */
public class Circle {
    /**
     * Area *\/ of circle.
     */
    @Override
    public double area() {
        return 0;
    }
}
`, readFile(t, root, "Circle.java"))

	assert.Equal(t, `/// A point.
#[derive(Debug)]
pub struct Point {
    x: f64,
}
`, readFile(t, root, "src/point.rs"))
}

func TestApply_PreservesCRLF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\r\nfunc f() {}\r\n")

	_, err := Apply(root, model.KindDocstrings, &ai.Result{Items: []ai.Item{
		{TargetFile: "a.go", Language: "go", Symbol: "f", Line: 2, Text: "F."},
	}})
	require.NoError(t, err)
	assert.Equal(t, "package a\r\n// F.\r\nfunc f() {}\r\n", readFile(t, root, "a.go"))
}

func TestApply_InlineHeaders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tool.py", "#!/usr/bin/env python\n# -*- coding: utf-8 -*-\nimport os\n")
	writeFile(t, root, "linux.go", "//go:build linux\n\npackage main\n")
	writeFile(t, root, "app.js", "const a = 1;\n")

	result := &ai.Result{Items: []ai.Item{
		{TargetFile: "tool.py", Language: "python", Text: "Utility helpers."},
		{TargetFile: "linux.go", Language: "go", Text: "Linux entry point."},
		{TargetFile: "app.js", Language: "javascript", Text: "App bootstrap."},
	}}

	changes, err := Apply(root, model.KindInlineComments, result)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{
		{Path: "app.js", Added: 4},
		{Path: "linux.go", Added: 2},
		{Path: "tool.py", Added: 2},
	}, changes)

	assert.Equal(t, "#!/usr/bin/env python\n# -*- coding: utf-8 -*-\n# Utility helpers.\n\nimport os\n", readFile(t, root, "tool.py"))
	assert.Equal(t, "//go:build linux\n\n// Linux entry point.\n\npackage main\n", readFile(t, root, "linux.go"))
	assert.Equal(t, "/*\n * App bootstrap.\n */\n\nconst a = 1;\n", readFile(t, root, "app.js"))
}

func TestApply_RejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	_, err := Apply(root, model.KindInlineComments, &ai.Result{Items: []ai.Item{
		{TargetFile: "../evil.go", Language: "go", Text: "x"},
	}})
	assert.Error(t, err)
}

func TestApply_NothingToDo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	changes, err := Apply(root, model.KindDocstrings, &ai.Result{Items: []ai.Item{
		{TargetFile: "a.go", Language: "go", Symbol: "Missing", Line: 40, Text: "x"},
		{TargetFile: "gone.go", Language: "go", Symbol: "X", Line: 1, Text: "x"},
	}})
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = Apply(root, model.KindReadme, nil)
	require.NoError(t, err)
	assert.Empty(t, changes)

	_, err = Apply(root, "changelog", &ai.Result{Items: []ai.Item{{Text: "x"}}})
	assert.Error(t, err)
}
