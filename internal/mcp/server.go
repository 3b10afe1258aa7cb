// Package mcp exposes the review workflow as MCP tools so agent clients
// can list, inspect, and decide reviews over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/store"
)

// Server wraps the review system and exposes it as MCP tools.
type Server struct {
	system *review.System
	store  store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(sys *review.System, st store.Store) *Server {
	return &Server{system: sys, store: st}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("supportd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listReviewsTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.acceptReviewTool())
	srv.AddTool(s.rejectReviewTool())
	srv.AddTool(s.modifyReviewTool())
	srv.AddTool(s.reviewStatsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// reviewOut is the compact JSON shape returned by the tools.
type reviewOut struct {
	ID         string            `json:"id"`
	From       string            `json:"from"`
	Subject    string            `json:"subject"`
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	RiskLevel  string            `json:"risk_level"`
	FraudScore *float64          `json:"fraud_score,omitempty"`
	Entities   map[string]string `json:"entities"`
	Status     string            `json:"status"`
	CreatedAt  string            `json:"created_at"`
}

func toReviewOut(r *models.Review) reviewOut {
	out := reviewOut{
		ID:         r.ID,
		From:       r.Email.From,
		Subject:    r.Email.Subject,
		Intent:     r.Intent,
		Confidence: r.Confidence,
		RiskLevel:  string(r.RiskLevel),
		Entities:   r.Entities,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if r.Assessment != nil {
		score := r.Assessment.FraudScore
		out.FraudScore = &score
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// support_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_list_reviews",
		mcp.WithDescription("List pending customer-request reviews, newest first. Returns a JSON array with id, sender, intent, confidence, and risk level."),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := s.system.Pending(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	out := make([]reviewOut, len(pending))
	for i, r := range pending {
		out[i] = toReviewOut(r)
	}
	return jsonResult(out)
}

// support_get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_get_review",
		mcp.WithDescription("Get full detail for one review, including the original email body, extracted entities, and fraud assessment."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	r, err := s.system.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review not found: %s", id)), nil
	}

	result := map[string]any{
		"review": toReviewOut(r),
		"body":   r.Email.Body,
	}
	if r.Assessment != nil {
		result["assessment"] = r.Assessment
	}
	if history, err := s.system.History(ctx, id); err == nil && len(history) > 0 {
		result["history"] = history
	}
	return jsonResult(result)
}

// support_accept_review
func (s *Server) acceptReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_accept_review",
		mcp.WithDescription("Approve a pending review so the automated action proceeds. Fails if the review was already decided."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
	)
	return tool, s.handleAcceptReview
}

func (s *Server) handleAcceptReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	out, err := s.system.Accept(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to accept review: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"accepted": true,
		"intent":   out.Intent,
		"entities": out.Entities,
	})
}

// support_reject_review
func (s *Server) rejectReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_reject_review",
		mcp.WithDescription("Reject a pending review so no automated action is taken. Fails if the review was already decided."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
	)
	return tool, s.handleRejectReview
}

func (s *Server) handleRejectReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	if _, err := s.system.Reject(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reject review: %v", err)), nil
	}
	return jsonResult(map[string]any{"rejected": true})
}

// support_modify_review
func (s *Server) modifyReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_modify_review",
		mcp.WithDescription("Correct the intent of a pending review and approve processing under the new intent. The prior intent is kept in the audit history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
		mcp.WithString("intent", mcp.Required(), mcp.Description("Corrected intent label")),
	)
	return tool, s.handleModifyReview
}

func (s *Server) handleModifyReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	intent, err := request.RequireString("intent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: intent"), nil
	}

	out, err := s.system.Modify(ctx, id, intent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to modify review: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"modified": true,
		"intent":   out.Intent,
		"entities": out.Entities,
	})
}

// support_review_stats
func (s *Server) reviewStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("support_review_stats",
		mcp.WithDescription("Get aggregate review statistics: pending/processed counts, risk distribution, today's volume, and intent distribution."),
	)
	return tool, s.handleReviewStats
}

func (s *Server) handleReviewStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.system.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	return jsonResult(stats)
}
