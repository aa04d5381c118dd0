package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/memory"
)

var (
	memorySearchToolName    = "memory_search"
	memorySearchDescription = "Search the user's long-term memory. Returns stored facts, preferences, events, and commitments relevant to the query, scored by relevance, importance, and recency."

	memoryRememberToolName    = "memory_remember"
	memoryRememberDescription = "Store an explicit fact in the user's long-term memory. Use when the user asks to remember something; extraction from normal conversation happens automatically."

	contextResumeToolName    = "context_resume"
	contextResumeDescription = "Retrieve the user's most recent saved working context, for answering questions like 'where was I?'."
)

// MemorySearchInput represents the input arguments for memory_search.
type MemorySearchInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose memory to search"`
	Query  string `json:"query" jsonschema:"free-text search query"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum results to return, default 5"`
}

// MemorySearchOutput represents the structured output of a memory search.
type MemorySearchOutput struct {
	Entries []*memory.Entry `json:"entries"`
}

func (s *Server) handleMemorySearch(ctx context.Context, _ *mcp.CallToolRequest, input MemorySearchInput) (*mcp.CallToolResult, MemorySearchOutput, error) {
	if input.UserID == "" || input.Query == "" {
		return errorResult("user_id and query are required"), MemorySearchOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 5
	}

	entries, err := s.config.Provider.Search(ctx, memory.SearchRequest{
		Query:  input.Query,
		Limit:  limit,
		Filter: memory.Filter{UserID: input.UserID},
	})
	if err != nil {
		return errorResult(fmt.Sprintf("memory search failed: %v", err)), MemorySearchOutput{}, nil
	}

	if entries == nil {
		entries = []*memory.Entry{}
	}
	output := MemorySearchOutput{Entries: entries}
	return jsonResult(output), output, nil
}

// MemoryRememberInput represents the input arguments for memory_remember.
type MemoryRememberInput struct {
	UserID     string `json:"user_id" jsonschema:"the user this memory belongs to"`
	Content    string `json:"content" jsonschema:"the fact to remember, stated in third person"`
	Type       string `json:"type,omitempty" jsonschema:"one of: fact, preference, event, insight, relationship, commitment; defaults to fact"`
	Importance int    `json:"importance,omitempty" jsonschema:"1-10, defaults to 5"`
}

// MemoryRememberOutput represents the structured output of storing a memory.
type MemoryRememberOutput struct {
	ID string `json:"id"`
}

func (s *Server) handleMemoryRemember(ctx context.Context, _ *mcp.CallToolRequest, input MemoryRememberInput) (*mcp.CallToolResult, MemoryRememberOutput, error) {
	if input.UserID == "" || input.Content == "" {
		return errorResult("user_id and content are required"), MemoryRememberOutput{}, nil
	}

	importance := input.Importance
	if importance == 0 {
		importance = 5
	}

	id, err := s.config.Provider.Add(ctx, &memory.Entry{
		UserID:     input.UserID,
		Content:    input.Content,
		Type:       memory.Type(input.Type),
		Source:     memory.SourceUser,
		Importance: importance,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("storing memory failed: %v", err)), MemoryRememberOutput{}, nil
	}

	output := MemoryRememberOutput{ID: id}
	return jsonResult(output), output, nil
}

// ContextResumeInput represents the input arguments for context_resume.
type ContextResumeInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose working context to resume"`
}

// ContextResumeOutput represents the resumed context snapshot.
type ContextResumeOutput struct {
	Snapshot *memory.ContextSnapshot `json:"snapshot,omitempty"`
}

func (s *Server) handleContextResume(ctx context.Context, _ *mcp.CallToolRequest, input ContextResumeInput) (*mcp.CallToolResult, ContextResumeOutput, error) {
	if input.UserID == "" {
		return errorResult("user_id is required"), ContextResumeOutput{}, nil
	}

	cp := s.config.Provider.(memory.ContextProvider)
	snap, err := cp.ResumeContext(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					&mcp.TextContent{Text: "no saved context"},
				},
			}, ContextResumeOutput{}, nil
		}
		return errorResult(fmt.Sprintf("resuming context failed: %v", err)), ContextResumeOutput{}, nil
	}

	output := ContextResumeOutput{Snapshot: snap}
	return jsonResult(output), output, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
	}
}

func jsonResult(output any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to serialize results: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}
