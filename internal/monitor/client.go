package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Source loads the status shown by the dashboard.
type Source interface {
	Status(ctx context.Context) (*autopilot.Status, error)
}

// LocalSource reads the state file of a project through the workflow service.
type LocalSource struct {
	svc  autopilot.Workflows
	root string
}

// NewLocalSource creates a Source for the project at root.
func NewLocalSource(svc autopilot.Workflows, root string) *LocalSource {
	return &LocalSource{svc: svc, root: root}
}

// Status implements Source.
func (s *LocalSource) Status(ctx context.Context) (*autopilot.Status, error) {
	return s.svc.Status(ctx, s.root)
}

// StatusClient queries the status endpoint of a running `autopilot serve`.
type StatusClient struct {
	baseURL     string
	projectRoot string
	client      *http.Client
}

// apiError mirrors the error body of the HTTP API.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint"`
}

// NewStatusClient creates a client for the server at baseURL.
func NewStatusClient(baseURL, projectRoot string) *StatusClient {
	return &StatusClient{
		baseURL:     baseURL,
		projectRoot: projectRoot,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Status implements Source.
func (c *StatusClient) Status(ctx context.Context) (*autopilot.Status, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/workflows/status")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("project_root", c.projectRoot)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body apiError
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		if body.Kind == string(autopilot.KindNotFound) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, body.Error)
		}
		return nil, fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, body.Kind, body.Error)
	}

	var status autopilot.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// isNoWorkflow reports whether err means the project has no state file.
func isNoWorkflow(err error) bool {
	return errors.Is(err, workflow.ErrNotFound)
}
