package web

// errors.go maps handler errors onto the JSON error body every endpoint
// returns. The technical error is logged with the request id; the client
// gets a short message, a suggested action and a stable code.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/JonMunkholm/propertysales/internal/pipeline"
)

var (
	errRunNotFound  = errors.New("run not found")
	errInvalidRunID = errors.New("invalid run id")
	errRateLimited  = errors.New("rate limit exceeded")
	errShuttingDown = errors.New("server is shutting down")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// userMessage is what a client sees for a class of errors.
type userMessage struct {
	Message string
	Action  string
	Code    string
}

var errorMessages = []struct {
	target error
	msg    userMessage
}{
	{pipeline.ErrTooManyRuns, userMessage{
		Message: "Another extraction is already running.",
		Action:  "Wait for the current run to finish, then try again.",
		Code:    "RUN001",
	}},
	{errRunNotFound, userMessage{
		Message: "No run with that id.",
		Action:  "List runs with GET /api/runs. Old runs are discarded.",
		Code:    "RUN002",
	}},
	{errInvalidRunID, userMessage{
		Message: "The run id is not a valid UUID.",
		Code:    "RUN003",
	}},
	{errShuttingDown, userMessage{
		Message: "The server is shutting down.",
		Action:  "Retry once the service is back.",
		Code:    "RUN004",
	}},
	{errRateLimited, userMessage{
		Message: "Too many requests.",
		Action:  "Slow down and retry after a minute.",
		Code:    "RATE001",
	}},
	{context.DeadlineExceeded, userMessage{
		Message: "The request timed out.",
		Action:  "Retry the request.",
		Code:    "ERR001",
	}},
}

var defaultMessage = userMessage{
	Message: "An unexpected error occurred.",
	Action:  "Check the server logs for details.",
	Code:    "ERR000",
}

// mapError returns the client-facing message for err.
func mapError(err error) userMessage {
	for _, m := range errorMessages {
		if errors.Is(err, m.target) {
			return m.msg
		}
	}
	return defaultMessage
}

// respondError logs err and writes its JSON ErrorResponse.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := mapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
