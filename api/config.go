// Package api provides the HTTP API server for document ingestion, job status
// and retrieval context assembly.
package api

import (
	"time"

	"github.com/papercomputeco/stacks/pkg/retrieval"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Retrieval holds the context bounds used when a request omits them.
	// Zero means retrieval.DefaultOptions.
	Retrieval retrieval.Options

	// BodyLimit caps request bodies in bytes. Zero means 64 MiB.
	BodyLimit int

	// EventInterval is how often job event streams poll for changes.
	// Zero means 500ms.
	EventInterval time.Duration

	// DisableMCP skips mounting the MCP endpoint at /mcp.
	DisableMCP bool
}
