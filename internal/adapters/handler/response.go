// Package handler implements the HTTP surface: platform webhooks, the chat
// widget endpoint and the operator API
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hotel-concierge/internal/core/domain"
)

// APIResponse represents the standard response envelope.
// Every JSON endpoint answers with this shape.
type APIResponse struct {
	Code    int    `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string `json:"message"` // Human-readable message ("Success", error description)
	Data    any    `json:"data"`    // Actual payload (can be null)
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data any) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
	}
}

// Common error responses
func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func NotFoundResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to write JSON response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		writeJSON(w, NotFoundResponse("Conversation not found"))
	case errors.Is(err, domain.ErrOperatorConflict):
		writeJSON(w, NewErrorResponse(http.StatusConflict, "Conversation is assigned to another operator"))
	case errors.Is(err, domain.ErrNotAssigned):
		writeJSON(w, NewErrorResponse(http.StatusConflict, "Conversation is not assigned to an operator"))
	case errors.Is(err, domain.ErrOperatorRequired):
		writeJSON(w, NewErrorResponse(http.StatusUnauthorized, "Missing "+headerOperatorID+" header"))
	case errors.Is(err, domain.ErrEmptyMessage):
		writeJSON(w, BadRequestResponse("Message text must not be empty"))
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, InternalErrorResponse("Internal error, please retry"))
	}
}

// decodeJSON reads a bounded JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, BadRequestResponse("Invalid JSON body"))
		return false
	}
	return true
}
