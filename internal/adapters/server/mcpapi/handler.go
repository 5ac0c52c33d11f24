// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the orchestrator tools.
func NewHandler(cfg Config, events common.EventService) (*Handler, error) {
	if events == nil {
		return nil, fmt.Errorf("event service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerProcessEventTool(mcpSrv, events)
	registerReadTools(mcpSrv, events)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "nudge"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// eventTypes lists the accepted event type values in canonical order.
func eventTypes() []string {
	kinds := domain.EventKinds()
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, string(kind))
	}
	return out
}

// registerProcessEventTool registers the `nudge.process_event` tool.
func registerProcessEventTool(srv *mcpserver.MCPServer, events common.EventService) {
	srv.AddTool(
		mcp.NewTool(
			"nudge.process_event",
			mcp.WithDescription("Process one lifecycle event for a user and return the orchestrator result."),
			mcp.WithString("type", mcp.Required(), mcp.Description("Event type"), mcp.Enum(eventTypes()...)),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User identifier")),
			mcp.WithString("timestamp", mcp.Description("RFC3339 event time (defaults to now)")),
			mcp.WithString("trace_id", mcp.Description("Trace identifier (generated when empty)")),
			mcp.WithNumber("energy_level", mcp.Description("Check-in energy 1-10")),
			mcp.WithString("mood", mcp.Description("Check-in mood")),
			mcp.WithArray("focus_areas", mcp.Description("Check-in focus areas"), mcp.WithStringItems()),
			mcp.WithString("action", mcp.Description("do_action verb"), mcp.Enum("start", "pause", "complete", "stuck")),
			mcp.WithString("task_id", mcp.Description("do_action task identifier")),
			mcp.WithString("reason", mcp.Description("Optional stuck reason")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			eventType, err := req.RequireString("type")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			env := domain.EventEnvelope{
				Type:       domain.EventKind(eventType),
				UserID:     userID,
				TraceID:    req.GetString("trace_id", ""),
				Mood:       req.GetString("mood", ""),
				FocusAreas: req.GetStringSlice("focus_areas", nil),
				Action:     domain.Action(req.GetString("action", "")),
				TaskID:     req.GetString("task_id", ""),
				Reason:     req.GetString("reason", ""),
			}
			if raw := strings.TrimSpace(req.GetString("timestamp", "")); raw != "" {
				ts, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return mcp.NewToolResultError("invalid_request: timestamp must be RFC3339"), nil
				}
				env.Timestamp = ts
			}
			if energy := req.GetInt("energy_level", 0); energy != 0 {
				env.EnergyLevel = &energy
			}
			resp, err := events.ProcessEvent(ctx, env)
			if err != nil {
				return toolResultFromError(err), nil
			}
			if !resp.Success && resp.Error != nil {
				return mcp.NewToolResultError(fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)), nil
			}
			result, err := mcp.NewToolResultJSON(resp)
			if err != nil {
				return nil, fmt.Errorf("encode process_event result: %w", err)
			}
			return result, nil
		},
	)
}

// registerReadTools registers the read-only state, ledger and history tools.
func registerReadTools(srv *mcpserver.MCPServer, events common.EventService) {
	srv.AddTool(
		mcp.NewTool(
			"nudge.user_state",
			mcp.WithDescription("Return the persisted orchestration state and gamification summary for one user."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			view, err := events.UserState(ctx, userID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(view)
			if err != nil {
				return nil, fmt.Errorf("encode user_state result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"nudge.ledger",
			mcp.WithDescription("Return the XP ledger for one user and whether it sums to the stored total."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			report, err := events.Ledger(ctx, userID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(report)
			if err != nil {
				return nil, fmt.Errorf("encode ledger result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"nudge.history",
			mcp.WithDescription("List the most recent committed events for one user, newest first."),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			history, err := events.History(ctx, userID, req.GetInt("limit", common.DefaultHistoryLimit))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(history)
			if err != nil {
				return nil, fmt.Errorf("encode history result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotImplemented):
		return mcp.NewToolResultError("not_implemented: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
