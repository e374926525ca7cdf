package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	logpkg "github.com/kailas-cloud/bitlens/internal/logger"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeValidationFailed  ErrorCode = "validation_failed"
	CodeNotFound          ErrorCode = "not_found"
	CodeMethodNotAllowed  ErrorCode = "method_not_allowed"
	CodePayloadTooLarge   ErrorCode = "payload_too_large"
	CodeEmptyAnchorSet    ErrorCode = "empty_anchor_set"
	CodeMalformedRecord   ErrorCode = "malformed_record"
	CodeDimensionMismatch ErrorCode = "dimension_mismatch"
	CodeSchemeMismatch    ErrorCode = "scheme_mismatch"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeQuotaExceeded     ErrorCode = "embedding_quota_exceeded"
	CodeProviderError     ErrorCode = "embedding_provider_error"
	CodeCorruptIndex      ErrorCode = "corrupt_index"
	CodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// sentinels is checked in order; the first match picks the status.
// ErrRateLimited precedes ErrEmbeddingProviderError since a 429 carries both.
var sentinels = []struct {
	err    error
	status int
	code   ErrorCode
}{
	{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrInvalidThreshold, http.StatusBadRequest, CodeValidationFailed},
	{domain.ErrEmptyAnchorSet, http.StatusUnprocessableEntity, CodeEmptyAnchorSet},
	{domain.ErrMalformedRecord, http.StatusUnprocessableEntity, CodeMalformedRecord},
	{domain.ErrDimensionMismatch, http.StatusUnprocessableEntity, CodeDimensionMismatch},
	{domain.ErrSchemeMismatch, http.StatusConflict, CodeSchemeMismatch},
	{domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, CodeQuotaExceeded},
	{domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeProviderError},
	{domain.ErrCorruptIndex, http.StatusInternalServerError, CodeCorruptIndex},
}

func defaultErrorHandlers() []errorHandler {
	hs := make([]errorHandler, 0, len(sentinels)+1)
	hs = append(hs, tooLargeHandler)
	for _, s := range sentinels {
		hs = append(hs, sentinelHandler(s.err, s.status, s.code))
	}
	return hs
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func tooLargeHandler(w http.ResponseWriter, err error, _ string) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "upload exceeds the size limit")
	return true
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Stage failures keep the stage name so clients can tell filter loading from ingestion.
func safeDomainMessage(err error) string {
	msg := "internal error"
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			msg = s.err.Error()
			break
		}
	}
	var se *domain.StageError
	if errors.As(err, &se) && msg != "internal error" {
		return se.Stage + ": " + msg
	}
	return msg
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
