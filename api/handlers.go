package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/llm"
	"github.com/papercomputeco/engram/pkg/memory"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStats returns queue counters and provider health.
func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.daemon.Stats())
}

// ObserveRequest is a finished conversation turn submitted for extraction.
type ObserveRequest struct {
	UserMessage       string   `json:"user_message"`
	AssistantResponse string   `json:"assistant_response"`
	UserID            string   `json:"user_id"`
	SessionID         string   `json:"session_id,omitempty"`
	Channel           string   `json:"channel,omitempty"`
	RecentContext     []string `json:"recent_context,omitempty"`
}

// ObserveResponse reports whether the turn was queued.
type ObserveResponse struct {
	Queued bool `json:"queued"`
}

// handleObserve accepts a conversation turn for background extraction.
func (s *Server) handleObserve(c *fiber.Ctx) error {
	var req ObserveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" || req.UserMessage == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id and user_message are required"})
	}

	queued := s.daemon.ObserveTurn(c.Context(), llm.ConversationTurn{
		UserMessage:       req.UserMessage,
		AssistantResponse: req.AssistantResponse,
		UserID:            req.UserID,
		SessionID:         req.SessionID,
		Channel:           req.Channel,
		RecentContext:     req.RecentContext,
	})

	return c.JSON(ObserveResponse{Queued: queued})
}

// handleSearch handles GET /v1/memories/search.
// Query parameters:
//   - query (required): the search query text
//   - user_id (required): the user to search
//   - limit (optional, default 10)
//   - mode (optional): keyword, semantic, or hybrid
//   - include_inactive (optional): include superseded history
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query parameter is required"})
	}
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id parameter is required"})
	}

	limit := 10
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}

	entries, err := s.daemon.Provider().Search(c.Context(), memory.SearchRequest{
		Query: query,
		Limit: limit,
		Mode:  memory.SearchMode(c.Query("mode")),
		Filter: memory.Filter{
			UserID:          userID,
			IncludeInactive: c.QueryBool("include_inactive"),
		},
	})
	if err != nil {
		s.logger.Warn("memory search failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "search failed"})
	}

	if entries == nil {
		entries = []*memory.Entry{}
	}
	return c.JSON(entries)
}

// handleListMemories returns a user's active memories, newest first.
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id parameter is required"})
	}

	entries, err := s.daemon.Provider().List(c.Context(), userID, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "list failed"})
	}

	if entries == nil {
		entries = []*memory.Entry{}
	}
	return c.JSON(entries)
}

// handleGetMemory returns a single memory by id, including inactive history.
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	entry, err := s.daemon.Provider().Get(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}
	return c.JSON(entry)
}

// handleDeleteMemory deletes a memory; ?hard=true removes the row.
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	if err := s.daemon.Provider().Delete(c.Context(), c.Params("id"), c.QueryBool("hard")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ContextResponse wraps a built context block.
type ContextResponse struct {
	Block string `json:"block"`
}

// handleContextBlock returns the token-budgeted context block for a user.
func (s *Server) handleContextBlock(c *fiber.Ctx) error {
	block := s.daemon.ContextBlock(c.Context(), c.Params("user_id"), c.Query("message"))
	return c.JSON(ContextResponse{Block: block})
}

// handleListCommitments returns a user's commitments filtered by status.
func (s *Server) handleListCommitments(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id parameter is required"})
	}

	cp, ok := s.daemon.Provider().(memory.CommitmentProvider)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "provider does not track commitments"})
	}

	status := memory.CommitmentStatus(c.Query("status", string(memory.CommitmentActive)))
	commitments, err := cp.ListCommitments(c.Context(), userID, status, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "list failed"})
	}

	if commitments == nil {
		commitments = []*memory.Commitment{}
	}
	return c.JSON(commitments)
}

// handleCompleteCommitment marks a commitment completed.
func (s *Server) handleCompleteCommitment(c *fiber.Ctx) error {
	return s.setCommitmentStatus(c, func(cp memory.CommitmentProvider, id string) error {
		return cp.CompleteCommitment(c.Context(), id)
	})
}

// handleCancelCommitment marks a commitment cancelled.
func (s *Server) handleCancelCommitment(c *fiber.Ctx) error {
	return s.setCommitmentStatus(c, func(cp memory.CommitmentProvider, id string) error {
		return cp.CancelCommitment(c.Context(), id)
	})
}

func (s *Server) setCommitmentStatus(c *fiber.Ctx, apply func(memory.CommitmentProvider, string) error) error {
	cp, ok := s.daemon.Provider().(memory.CommitmentProvider)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "provider does not track commitments"})
	}
	if err := apply(cp, c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "commitment not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleConsolidate triggers an out-of-schedule consolidation pass.
func (s *Server) handleConsolidate(c *fiber.Ctx) error {
	if err := s.daemon.Consolidate(c.Context()); err != nil {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.SendStatus(fiber.StatusAccepted)
}
