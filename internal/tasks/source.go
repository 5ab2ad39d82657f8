package tasks

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/config"
)

// NewSource builds the source selected by cfg for the project at projectRoot.
func NewSource(ctx context.Context, cfg config.TasksConfig, projectRoot, tag string, logger *zap.Logger) (Source, error) {
	if tag == "" {
		tag = cfg.Tag
	}
	switch cfg.Source {
	case "", config.TaskSourceFile:
		return NewFileSource(afero.NewOsFs(), projectRoot, cfg.File, tag), nil
	case config.TaskSourceGitHub:
		return NewGitHubSource(ctx, GitHubConfig{
			Owner:   cfg.GitHubOwner,
			Repo:    cfg.GitHubRepo,
			Token:   cfg.GitHubToken,
			BaseURL: cfg.GitHubBaseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown task source %q", cfg.Source)
	}
}
