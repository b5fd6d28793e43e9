package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/logger"
)

// Error codes returned in the {code, message} body.
const (
	CodeInvalidInput         = "invalid_input"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeProductNotFound      = "product_not_found"
	CodeImpressionNotFound   = "impression_not_found"
	CodeNotFound             = "not_found"
	CodeClickRequired        = "click_required"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeRetrievalUnavailable = "retrieval_unavailable"
	CodeInternalError        = "internal_error"
)

// apiError is a classified domain error ready to be written.
type apiError struct {
	status  int
	code    string
	message string
}

// errorHandler tries to classify a domain error. Returns false if it does not match.
type errorHandler func(err error) (apiError, bool)

// errorHandlers is ordered: specific not-found sentinels wrap ErrNotFound
// and must come before it.
var errorHandlers = []errorHandler{
	invalidInputHandler,
	sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized),
	sentinelHandler(domain.ErrForbidden, http.StatusForbidden, CodeForbidden),
	sentinelHandler(domain.ErrProductNotFound, http.StatusNotFound, CodeProductNotFound),
	sentinelHandler(domain.ErrImpressionNotFound, http.StatusNotFound, CodeImpressionNotFound),
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
	sentinelHandler(domain.ErrClickRequired, http.StatusConflict, CodeClickRequired),
	sentinelHandler(domain.ErrRateLimitExceeded, http.StatusTooManyRequests, CodeRateLimitExceeded),
	sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, CodeEmbeddingUnavailable),
	sentinelHandler(domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, CodeRetrievalUnavailable),
}

// sentinelHandler matches a single sentinel error. The client sees the sentinel
// text, never the wrapped internals.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(err error) (apiError, bool) {
		if !errors.Is(err, sentinel) {
			return apiError{}, false
		}
		return apiError{status: status, code: code, message: sentinel.Error()}, true
	}
}

// invalidInputHandler keeps the validation detail: it is what the caller needs to fix.
func invalidInputHandler(err error) (apiError, bool) {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return apiError{}, false
	}
	return apiError{status: http.StatusBadRequest, code: CodeInvalidInput, message: err.Error()}, true
}

// classify maps err through errorHandlers; unmatched errors become 500.
func classify(err error) (apiError, bool) {
	for _, h := range errorHandlers {
		if e, ok := h(err); ok {
			return e, true
		}
	}
	return apiError{status: http.StatusInternalServerError, code: CodeInternalError, message: "internal error"}, false
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	e, known := classify(err)
	if known {
		log.Warn("domain error", zap.Error(err), zap.String("code", e.code))
	} else {
		log.Error("internal error", zap.Error(err))
	}
	writeError(w, e.status, e.code, e.message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
