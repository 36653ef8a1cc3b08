package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/wyzwanie/challenge/db"
	"github.com/wyzwanie/challenge/service/strava"
	"github.com/wyzwanie/challenge/session"
)

const maxBodyBytes = 1 << 20

// validationError is a malformed or incomplete request body
type validationError struct {
	Field   string
	Message string
}

func (e *validationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &validationError{Field: field, Message: message}
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// errorStatus maps an error to the HTTP status and message the client sees
func errorStatus(err error) (int, string) {
	var vErr *validationError
	var upErr *strava.UpstreamError

	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, session.ErrMissingToken):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusForbidden, "Invalid token"
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.As(err, &upErr):
		return http.StatusBadGateway, "Strava request failed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError renders err as the failure envelope. Server-side failures are
// logged with the stack.
func (app *application) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, fallback := errorStatus(err)
	if message == "" {
		message = fallback
	}

	if status >= http.StatusInternalServerError {
		app.logger.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI(), "trace", string(debug.Stack()))
	} else {
		app.logger.Warn(message, "method", r.Method, "uri", r.URL.RequestURI(), "status", status, "err", err)
	}

	jsonResponse(w, status, errorEnvelope{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

// decodeJSON reads a JSON request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("", "request body is empty")
		}
		return invalid("", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}
