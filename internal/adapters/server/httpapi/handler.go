// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/nudge/internal/adapters/server/common"
	"github.com/hylla/nudge/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	events common.EventService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the event service.
func NewHandler(events common.EventService) *Handler {
	return &Handler{events: events}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	if path == "events" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleProcessEvent(w, r)
		return
	}

	userID, resource, ok := resolveUserResource(path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	switch resource {
	case "state":
		h.handleUserState(w, r, userID)
	case "ledger":
		h.handleLedger(w, r, userID)
	case "history":
		h.handleHistory(w, r, userID)
	}
}

// handleProcessEvent serves POST `/events`.
func (h *Handler) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeServiceUnavailable(w)
		return
	}
	var env domain.EventEnvelope
	if err := decodeJSONBody(r.Context(), w, r, &env); err != nil {
		writeErrorFrom(w, err)
		return
	}
	resp, err := h.events.ProcessEvent(r.Context(), env)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	status := common.StatusForResult(resp.Result)
	if resp.Error != nil && resp.Error.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

// handleUserState serves GET `/users/{id}/state`.
func (h *Handler) handleUserState(w http.ResponseWriter, r *http.Request, userID string) {
	if h.events == nil {
		writeServiceUnavailable(w)
		return
	}
	view, err := h.events.UserState(r.Context(), userID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleLedger serves GET `/users/{id}/ledger`.
func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request, userID string) {
	if h.events == nil {
		writeServiceUnavailable(w)
		return
	}
	report, err := h.events.Ledger(r.Context(), userID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleHistory serves GET `/users/{id}/history?limit=N`.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if h.events == nil {
		writeServiceUnavailable(w)
		return
	}
	limit := common.DefaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	history, err := h.events.History(r.Context(), userID, limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// resolveUserResource parses `users/{id}/{resource}`.
func resolveUserResource(path string) (string, string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != "users" {
		return "", "", false
	}
	userID := strings.TrimSpace(parts[1])
	if userID == "" {
		return "", "", false
	}
	switch parts[2] {
	case "state", "ledger", "history":
		return userID, parts[2], true
	default:
		return "", "", false
	}
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		apiErr := APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		}
		var fieldErr *domain.FieldError
		if errors.As(err, &fieldErr) {
			apiErr.Context = map[string]any{"field": fieldErr.Field}
		}
		writeJSONError(w, http.StatusBadRequest, apiErr)
	case errors.Is(err, common.ErrNotImplemented):
		writeJSONError(w, http.StatusNotImplemented, APIError{
			Code:    "not_implemented",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
			Hint:    "Retry the request; no state was changed.",
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeServiceUnavailable reports a handler built without an event service.
func writeServiceUnavailable(w http.ResponseWriter) {
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "event service is not configured",
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", errors.Join(common.ErrUnavailable, ctx.Err()))
	default:
		return nil
	}
}
