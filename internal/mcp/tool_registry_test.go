package mcp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolRegistry_Register(t *testing.T) {
	registry := NewToolRegistry()

	tool := &ToolMetadata{
		Name:        "autopilot_commit",
		Description: "Commit the current subtask",
		Category:    CategoryLoop,
		Keywords:    []string{"git", "commit"},
	}
	require.NoError(t, registry.Register(tool))

	got, err := registry.Get("autopilot_commit")
	require.NoError(t, err)
	assert.Equal(t, tool, got)

	err = registry.Register(tool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = registry.Get("autopilot_unknown")
	assert.Error(t, err)
}

func TestToolRegistry_RegisterInvalid(t *testing.T) {
	tests := []struct {
		name    string
		tool    *ToolMetadata
		wantErr string
	}{
		{"nil tool", nil, "tool metadata is required"},
		{"empty name", &ToolMetadata{Description: "x"}, "tool name is required"},
		{"empty description", &ToolMetadata{Name: "autopilot_x"}, "description is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolRegistry().Register(tt.tool)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToolRegistry_ListAndSearch(t *testing.T) {
	registry := NewToolRegistry()
	for _, tool := range toolCatalog() {
		require.NoError(t, registry.Register(tool))
	}
	assert.Equal(t, 9, registry.Count())

	list := registry.List()
	require.Len(t, list, 9)
	assert.Equal(t, "autopilot_abort", list[0].Name)

	assert.Len(t, registry.ListByCategory(CategoryQuery), 2)
	for _, tool := range registry.ListByCategory(CategoryQuery) {
		assert.True(t, tool.ReadOnly, tool.Name)
	}

	results := registry.Search("autopilot_commit")
	require.NotEmpty(t, results)
	assert.Equal(t, 3, results[0].Score)
	assert.Equal(t, "autopilot_commit", results[0].Tool.Name)

	results = registry.Search("GREEN")
	require.NotEmpty(t, results)
	assert.Equal(t, "autopilot_complete_phase", results[0].Tool.Name)

	assert.Empty(t, registry.Search(""))
	assert.Empty(t, registry.Search("vectorstore"))
}

func TestToolRegistry_Concurrent(t *testing.T) {
	registry := NewToolRegistry()
	var wg sync.WaitGroup
	for _, tool := range toolCatalog() {
		wg.Add(1)
		go func(tm *ToolMetadata) {
			defer wg.Done()
			assert.NoError(t, registry.Register(tm))
			_ = registry.List()
		}(tool)
	}
	wg.Wait()
	assert.Equal(t, 9, registry.Count())
}
