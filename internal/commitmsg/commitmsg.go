// Package commitmsg renders conventional commit messages for subtask commits.
package commitmsg

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// DefaultTemplate renders "type(scope): description", an optional body listing
// the files, and workflow trailers.
const DefaultTemplate = `{{ .Type }}{{ with .Scope }}({{ . }}){{ end }}: {{ .Description | trim }}
{{- if .Files }}
{{ range .Files }}
- {{ . }}
{{- end }}
{{- end }}
{{- if .Trailers }}

Task: {{ .TaskID }}
{{- with .SubtaskID }}
Subtask: {{ . }}
{{- end }}
{{- with .Phase }}
Phase: {{ . }}
{{- end }}
{{- with .Tests }}
Tests: {{ .Passed }}/{{ .Total }} passing
{{- end }}
{{- end }}
`

// Input is everything a message may draw on.
type Input struct {
	Type        string
	Scope       string
	Description string
	Files       []string
	TaskID      string
	SubtaskID   string
	Phase       workflow.TDDPhase
	Tests       *workflow.TestResult
}

// Generator renders messages from a Go template with sprig functions.
type Generator struct {
	tmpl     *template.Template
	trailers bool
}

// New parses text, or DefaultTemplate when text is empty.
func New(text string, trailers bool) (*Generator, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("commit").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing commit template: %w", err)
	}
	return &Generator{tmpl: tmpl, trailers: trailers}, nil
}

type view struct {
	Input
	Trailers bool
}

// Generate renders in. An empty type or scope is inferred from the files.
func (g *Generator) Generate(in Input) (string, error) {
	if strings.TrimSpace(in.Description) == "" {
		return "", errors.New("commit description is required")
	}
	if in.Type == "" {
		in.Type = InferType(in.Files)
	}
	if in.Scope == "" {
		in.Scope = InferScope(in.Files)
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, view{Input: in, Trailers: g.trailers}); err != nil {
		return "", fmt.Errorf("rendering commit message: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

// InferType returns "test" when every file is a test file and "feat" otherwise.
func InferType(files []string) string {
	if len(files) == 0 {
		return "feat"
	}
	for _, f := range files {
		if !IsTestFile(f) {
			return "feat"
		}
	}
	return "test"
}

// IsTestFile recognizes common test naming conventions.
func IsTestFile(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return true
	}
	for _, dir := range strings.Split(path.Dir(name), "/") {
		if dir == "test" || dir == "tests" || dir == "__tests__" {
			return true
		}
	}
	return false
}

// InferScope returns the top-level directory shared by all files, skipping
// generic roots such as src, internal and pkg. It is empty when files differ.
func InferScope(files []string) string {
	scope := ""
	for i, f := range files {
		s := scopeOf(f)
		if i == 0 {
			scope = s
			continue
		}
		if s != scope {
			return ""
		}
	}
	return scope
}

func scopeOf(file string) string {
	parts := strings.Split(path.Clean(strings.ReplaceAll(file, "\\", "/")), "/")
	parts = parts[:len(parts)-1]
	for len(parts) > 0 {
		switch parts[0] {
		case "src", "internal", "pkg", "lib", "cmd", ".":
			parts = parts[1:]
			continue
		}
		return parts[0]
	}
	return ""
}
