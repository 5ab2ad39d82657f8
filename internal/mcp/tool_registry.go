package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools by the part of the workflow they drive.
type ToolCategory string

const (
	// CategoryLifecycle is for tools that create or end a workflow.
	CategoryLifecycle ToolCategory = "lifecycle"
	// CategoryLoop is for tools used inside the RED/GREEN/COMMIT loop.
	CategoryLoop ToolCategory = "loop"
	// CategoryQuery is for read-only tools.
	CategoryQuery ToolCategory = "query"
)

// ToolMetadata describes a registered tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// ReadOnly tools never change the workflow.
	ReadOnly bool `json:"read_only"`

	// Keywords are additional searchable terms.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry holds the metadata of the registered tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	switch {
	case tool == nil:
		return errors.New("tool metadata is required")
	case tool.Name == "":
		return errors.New("tool name is required")
	case tool.Description == "":
		return fmt.Errorf("tool %s: description is required", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the metadata of one tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

// List returns every tool ordered by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory returns the tools of one category ordered by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	var out []*ToolMetadata
	for _, tool := range r.List() {
		if tool.Category == category {
			out = append(out, tool)
		}
	}
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is one match of Search.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`

	// Score is 3 for an exact name, 2 for a name match, 1 for a description or
	// keyword match.
	Score int `json:"score"`
}

// Search matches query case-insensitively against names, descriptions and
// keywords. A query that compiles as a regular expression is also matched as one.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query)
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []*SearchResult
	for _, tool := range r.List() {
		score := 0
		switch {
		case strings.ToLower(tool.Name) == q:
			score = 3
		case matches(tool.Name):
			score = 2
		case matches(tool.Description):
			score = 1
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) {
					score = 1
					break
				}
			}
		}
		if score > 0 {
			results = append(results, &SearchResult{Tool: tool, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
