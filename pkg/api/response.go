package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tenant-ledger/pkg/ledger"

	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// Transaction is set when a transfer was stored but could not be posted.
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(c ledger.Category) int {
	switch c {
	case ledger.CategoryValidation:
		return http.StatusBadRequest
	case ledger.CategoryInvariant:
		return http.StatusUnprocessableEntity
	case ledger.CategoryConflict, ledger.CategoryState:
		return http.StatusConflict
	case ledger.CategoryDependency:
		return http.StatusServiceUnavailable
	case ledger.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes it. Internal errors are logged and
// their message is not exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWith(w, r, err, nil)
}

func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, tx *ledger.Transaction) {
	category := ledger.Classify(err)
	resp := errorResponse{
		Error:       err.Error(),
		Category:    string(category),
		Field:       ledger.FieldOf(err),
		Retryable:   category.Retryable(),
		Transaction: tx,
	}
	if category == ledger.CategoryInternal {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		resp.Error = "internal server error"
	}
	writeJSON(w, statusFor(category), resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
// Failures are validation errors on field "body".
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &ledger.ValidationError{Field: "body", Err: ledger.ErrMissingField}
		}
		return &ledger.ValidationError{Field: "body", Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	if dec.More() {
		return &ledger.ValidationError{Field: "body", Err: errors.New("unexpected data after JSON object")}
	}
	return nil
}

// decodeOptional is decode for bodies that may be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}
