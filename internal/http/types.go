package http

import "github.com/fyrsmithlabs/autopilot/internal/autopilot"

// ProjectRequest is the body of the endpoints that only need a project root.
type ProjectRequest struct {
	ProjectRoot string `json:"projectRoot"`
}

// CompleteRequest is the request body for POST /api/v1/workflows/complete.
type CompleteRequest struct {
	ProjectRoot string `json:"projectRoot"`
	autopilot.TestCounts
}

// ErrorResponse is the body of every failed request. Result carries the
// workflow status when the operation was rejected after loading it.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Hint   string `json:"hint,omitempty"`
	Result any    `json:"result,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
