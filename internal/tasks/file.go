package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DefaultTasksFile is the Taskmaster task file relative to the project root.
const DefaultTasksFile = ".taskmaster/tasks/tasks.json"

// FileSource reads tasks from a Taskmaster-style file.
//
// Two layouts are accepted, in JSON or YAML:
//
//	{"master": {"tasks": [...]}, "feature-x": {"tasks": [...]}}   tagged
//	{"tasks": [...]}                                              flat
type FileSource struct {
	fs   afero.Fs
	path string
	tag  string
}

// NewFileSource reads file (relative to projectRoot unless absolute) using tag
// for tagged layouts.
func NewFileSource(fsys afero.Fs, projectRoot, file, tag string) *FileSource {
	if file == "" {
		file = DefaultTasksFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(projectRoot, file)
	}
	if tag == "" {
		tag = "master"
	}
	return &FileSource{fs: fsys, path: file, tag: tag}
}

// Path returns the task file location.
func (s *FileSource) Path() string { return s.path }

// GetTask returns the top-level task with the given id.
func (s *FileSource) GetTask(_ context.Context, id string) (*Task, error) {
	records, err := s.records()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		m, err := cast.ToStringMapE(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: task record is %T, not an object", ErrInvalidTask, rec)
		}
		if cast.ToString(m["id"]) != id {
			continue
		}
		return adaptTask(m)
	}
	return nil, fmt.Errorf("%w: %s in %s (tag %s)", ErrTaskNotFound, id, s.path, s.tag)
}

func (s *FileSource) records() ([]interface{}, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no task file at %s", ErrTaskNotFound, s.path)
		}
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var doc map[string]interface{}
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidTask, s.path, err)
	}

	if list, ok := doc["tasks"]; ok {
		return cast.ToSliceE(list)
	}
	tagged, ok := doc[s.tag]
	if !ok {
		return nil, fmt.Errorf("%w: tag %q not present in %s", ErrTaskNotFound, s.tag, s.path)
	}
	section, err := cast.ToStringMapE(tagged)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %q is not an object", ErrInvalidTask, s.tag)
	}
	return cast.ToSliceE(section["tasks"])
}

// adaptTask maps a decoded record onto Task. Numeric ids become strings and bare
// numeric subtask ids are qualified with the parent id.
func adaptTask(m map[string]interface{}) (*Task, error) {
	t := &Task{
		ID:          cast.ToString(m["id"]),
		Title:       cast.ToString(m["title"]),
		Description: cast.ToString(m["description"]),
		Status:      cast.ToString(m["status"]),
	}
	if t.Title == "" {
		return nil, fmt.Errorf("%w: task %s has no title", ErrInvalidTask, t.ID)
	}

	var raw []interface{}
	var err error
	if m["subtasks"] != nil {
		raw, err = cast.ToSliceE(m["subtasks"])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: subtasks of task %s: %v", ErrInvalidTask, t.ID, err)
	}
	for i, r := range raw {
		sm, err := cast.ToStringMapE(r)
		if err != nil {
			return nil, fmt.Errorf("%w: subtask %d of task %s is %T", ErrInvalidTask, i+1, t.ID, r)
		}
		id := cast.ToString(sm["id"])
		if id != "" && !strings.Contains(id, ".") {
			id = t.ID + "." + id
		}
		t.Subtasks = append(t.Subtasks, Subtask{
			ID:     id,
			Title:  cast.ToString(sm["title"]),
			Status: cast.ToString(sm["status"]),
		})
	}
	return t, nil
}
