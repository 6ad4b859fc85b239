package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/stacks/pkg/retrieval"
	"github.com/papercomputeco/stacks/pkg/vector"
)

var (
	assembleContextToolName    = "assemble_context"
	assembleContextDescription = "Retrieve a bounded context window from the ingested documents. Returns the excerpts most similar to the query, formatted with their source document and page, plus the list of cited document ids."
)

// AssembleContextInput represents the input arguments for the assemble_context tool.
type AssembleContextInput struct {
	Query           string   `json:"query" jsonschema:"the question or text to find relevant passages for"`
	MaxPassages     int      `json:"max_passages,omitempty" jsonschema:"maximum number of passages to retrieve (default: 5)"`
	MaxContextChars int      `json:"max_context_chars,omitempty" jsonschema:"character budget for the assembled context (default: 4000)"`
	DocumentIDs     []string `json:"document_ids,omitempty" jsonschema:"restrict retrieval to these document ids"`
}

// ContextPassage is a passage that made it into the context.
type ContextPassage struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float32 `json:"score"`
}

// AssembleContextOutput represents the output of the assemble_context tool.
type AssembleContextOutput struct {
	Context        string           `json:"context"`
	CitedDocuments []string         `json:"cited_documents"`
	Passages       []ContextPassage `json:"passages"`
	Simulated      bool             `json:"simulated"`
}

// handleAssembleContext processes an assemble_context request.
func (s *Server) handleAssembleContext(ctx context.Context, _ *mcp.CallToolRequest, input AssembleContextInput) (*mcp.CallToolResult, AssembleContextOutput, error) {
	logger := s.config.Logger

	opts := retrieval.Options{
		MaxPassages:     input.MaxPassages,
		MaxContextChars: input.MaxContextChars,
	}
	if len(input.DocumentIDs) > 0 {
		opts.Filter = &vector.Filter{DocumentIDs: input.DocumentIDs}
	}
	opts = opts.Merge(s.config.Retrieval)

	logger.Debug("MCP assemble_context request",
		"query", input.Query,
		"max_passages", opts.MaxPassages,
		"max_context_chars", opts.MaxContextChars,
	)

	assembled, err := s.config.Service.AssembleContext(ctx, input.Query, opts)
	if err != nil {
		logger.Error("failed to assemble context", "error", err)
		return toolError("Failed to assemble context: %v", err), AssembleContextOutput{}, nil
	}

	output := newAssembleContextOutput(assembled)

	// Structured content is mirrored as JSON text for clients that only read
	// text content.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal context output", "error", err)
		return toolError("Failed to serialize context: %v", err), AssembleContextOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

func newAssembleContextOutput(c retrieval.Context) AssembleContextOutput {
	out := AssembleContextOutput{
		Context:        c.Text,
		CitedDocuments: make([]string, 0, len(c.CitedDocuments)),
		Passages:       make([]ContextPassage, 0, len(c.Passages)),
		Simulated:      c.Simulated,
	}

	out.CitedDocuments = append(out.CitedDocuments, c.CitedDocuments...)
	for _, p := range c.Passages {
		out.Passages = append(out.Passages, ContextPassage{
			DocumentID: p.DocumentID,
			Title:      p.Title,
			ChunkIndex: p.Index,
			PageNumber: p.Page,
			Score:      p.Score,
		})
	}

	return out
}
