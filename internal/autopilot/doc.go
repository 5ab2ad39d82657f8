// Package autopilot is the calling layer of the TDD workflow.
//
// A Service turns one user or agent request (start, complete, commit, finalize,
// abort, ...) into at most a few orchestrator transitions. Each request restores
// the orchestrator from the project's state file, wires the store as its
// persistence hook, talks to git and the task source around the transitions, and
// returns a Status snapshot. The CLI, the MCP tools and the HTTP API are thin
// adapters over Service.
package autopilot
