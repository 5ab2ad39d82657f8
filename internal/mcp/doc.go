// Package mcp exposes the autopilot workflow as Model Context Protocol tools.
//
// The server speaks MCP over stdio using github.com/modelcontextprotocol/go-sdk.
// Every tool takes a projectRoot and returns the workflow status as JSON text, so
// an agent can drive RED, GREEN and COMMIT without a shell. Tool invocations are
// measured with OpenTelemetry metrics.
package mcp
