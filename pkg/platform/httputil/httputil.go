// Package httputil writes the gateway's JSON response envelope and decodes
// request bodies.
//
// Success responses: {"success": true, "data": ...}
// Error responses:   {"success": false, "error": {"code", "message", "details"}}
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"healthid/internal/abdm/apierr"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// Validatable is implemented by request DTOs that check and normalize
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope{Success: true, Data: data})
}

// WriteError translates err into an HTTP status and an error envelope.
// Errors that are not normalized are reported as internal errors without
// exposing their text.
func WriteError(w http.ResponseWriter, err error) {
	e, ok := apierr.As(err)
	if !ok {
		e = apierr.Internal(err)
	}
	WriteJSON(w, StatusFor(e), envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(e.Kind),
			Message: e.Message,
			Details: e.Details,
		},
	})
}

// StatusFor maps a normalized error to the HTTP status returned to callers.
func StatusFor(e *apierr.Error) int {
	switch e.Kind {
	case apierr.KindValidation, apierr.KindInvalidFieldFormat, apierr.KindInvalidRequest,
		apierr.KindInvalidInput, apierr.KindInvalidOTP, apierr.KindInvalidTransaction:
		return http.StatusBadRequest
	case apierr.KindSessionExpired, apierr.KindUnauthorized:
		return http.StatusUnauthorized
	case apierr.KindDuplicateIdentity, apierr.KindDuplicateAddress:
		return http.StatusConflict
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindMaxOTPAttempts, apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindUpstreamAuthFailure, apierr.KindUpstream:
		return http.StatusBadGateway
	case apierr.KindNetwork, apierr.KindEncryptionKeyUnavailable:
		return http.StatusServiceUnavailable
	case apierr.KindCredentialsMissing, apierr.KindInternal:
		return http.StatusInternalServerError
	}
	if e.IsFieldError() {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// DecodeJSON decodes at most maxBodyBytes of the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.Validation("Request body is required.")
		}
		return apierr.Validation("Request body is not valid JSON.")
	}
	return nil
}

// DecodeAndPrepare decodes the body into a new T and validates it. On failure
// it writes the error response and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	req := PT(new(T))
	if err := DecodeJSON(r, req); err != nil {
		logger.WarnContext(ctx, "failed to decode request", "request_id", requestID, "error", err)
		WriteError(w, err)
		return nil, false
	}
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request", "request_id", requestID, "error", err)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
