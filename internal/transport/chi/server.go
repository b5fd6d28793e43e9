// Package chi is the HTTP API: routing, authentication, rate limiting and
// JSON/SSE delivery of search results.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/oapi-codegen/runtime/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/logger"
	attributionuc "github.com/kailas-cloud/adtokens/internal/usecase/attribution"
	healthuc "github.com/kailas-cloud/adtokens/internal/usecase/health"
	searchuc "github.com/kailas-cloud/adtokens/internal/usecase/search"
	"github.com/kailas-cloud/adtokens/internal/version"
)

// maxBodyBytes bounds request bodies; a full batch of long queries fits comfortably.
const maxBodyBytes = 1 << 20

// Searcher runs the recommendation pipeline.
type Searcher interface {
	Search(ctx context.Context, d *query.Descriptor, requestID string) (*searchuc.Result, error)
	Similar(ctx context.Context, d *query.Descriptor, requestID string) (*searchuc.Result, error)
	Stream(ctx context.Context, d *query.Descriptor, requestID string, sink searchuc.Sink) error
	Batch(ctx context.Context, items []searchuc.BatchItem) ([]searchuc.BatchOutcome, error)
	MaxBatch() int
}

// Attributor records clicks, conversions and feedback.
type Attributor interface {
	RecordClick(ctx context.Context, id, requestID string) (time.Time, error)
	RecordConversion(ctx context.Context, id string, value float64) error
	RecordFeedback(ctx context.Context, in attributionuc.FeedbackInput) (domimp.Feedback, error)
}

// HealthChecker aggregates dependency checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server holds the HTTP handlers.
type Server struct {
	search      Searcher
	attribution Attributor
	health      HealthChecker
	logger      *zap.Logger
	now         func() time.Time
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, attribution Attributor, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		search:      search,
		attribution: attribution,
		health:      health,
		logger:      logger,
		now:         time.Now,
	}
}

// Register mounts the API routes on r. Middleware is the caller's concern.
func (s *Server) Register(r chi.Router) {
	r.Post("/search", s.Search)
	r.Post("/search/batch", s.SearchBatch)
	r.Get("/products/{product_id}/similar", s.Similar)
	r.Post("/clicks/{impression_id}", s.Click)
	r.Post("/feedback", s.Feedback)
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidInput, "method not allowed")
	})
}

// Search handles POST /search. With "stream": true the response is SSE.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	start := s.now()

	var req searchRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	d, err := req.descriptor()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if req.Stream {
		s.stream(w, r, d, start)
		return
	}

	res, err := s.search.Search(r.Context(), d, requestID(r))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.writeResult(w, res, start)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, d *query.Descriptor, start time.Time) {
	sink := newSSESink(w, start)
	err := s.search.Stream(r.Context(), d, requestID(r), sink)
	if err == nil {
		return
	}
	if !sink.started {
		s.handleDomainError(w, r, err)
		return
	}
	// Client is gone: nothing left to tell it.
	if r.Context().Err() != nil {
		return
	}
	e, known := classify(err)
	log := logger.FromContextOr(r.Context(), s.logger)
	if !known {
		log.Error("stream failed", zap.Error(err))
	}
	if werr := sink.Error(e); werr != nil {
		log.Debug("write error frame", zap.Error(werr))
	}
}

// SearchBatch handles POST /search/batch. Per-query failures are returned inline.
func (s *Server) SearchBatch(w http.ResponseWriter, r *http.Request) {
	start := s.now()

	var req batchRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if limit := s.search.MaxBatch(); len(req.Queries) > limit {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "batch allows at most "+strconv.Itoa(limit)+" queries")
		return
	}

	items := make([]searchuc.BatchItem, len(req.Queries))
	for i := range req.Queries {
		items[i].Descriptor, items[i].Err = req.Queries[i].descriptor()
	}

	outcomes, err := s.search.Batch(r.Context(), items)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := batchResponse{Results: make([]batchResult, len(outcomes))}
	for i, o := range outcomes {
		if o.Err != nil {
			e, known := classify(o.Err)
			if !known {
				logger.FromContextOr(r.Context(), s.logger).Error("batch query failed",
					zap.Int("index", i), zap.Error(o.Err))
			}
			resp.Results[i].Error = &errorResponse{Code: e.code, Message: e.message}
			continue
		}
		resp.Results[i].searchResponse = resultToResponse(o.Result)
	}
	elapsed := s.now().Sub(start)
	resp.Metadata = batchMetadata{TotalQueries: len(outcomes), TotalTimeMs: elapsed.Milliseconds()}

	w.Header().Set("X-Search-Time", millis(elapsed))
	writeJSON(w, http.StatusOK, resp)
}

// Similar handles GET /products/{product_id}/similar.
func (s *Server) Similar(w http.ResponseWriter, r *http.Request) {
	start := s.now()

	var productID string
	if err := runtime.BindStyledParameterWithOptions("simple", "product_id", chi.URLParam(r, "product_id"),
		&productID, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true},
	); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid product_id: "+err.Error())
		return
	}

	var limit, sessionID *string
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "session_id", r.URL.Query(), &sessionID); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid session_id: "+err.Error())
		return
	}

	d, err := query.NewSimilar(productID, query.Params{Limit: deref(limit), SessionID: deref(sessionID)})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	res, err := s.search.Similar(r.Context(), d, requestID(r))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.writeResult(w, res, start)
}

// Click handles POST /clicks/{impression_id}. The body is optional; a
// conversion_value is recorded after the click.
func (s *Server) Click(w http.ResponseWriter, r *http.Request) {
	var impressionID types.UUID
	if err := runtime.BindStyledParameterWithOptions("simple", "impression_id", chi.URLParam(r, "impression_id"),
		&impressionID, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true},
	); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "impression_id must be a UUID")
		return
	}

	var req clickRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	id := impressionID.String()
	at, err := s.attribution.RecordClick(r.Context(), id, req.RequestID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if req.ConversionValue != nil {
		if err := s.attribution.RecordConversion(r.Context(), id, *req.ConversionValue); err != nil {
			s.handleDomainError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, clickResponse{
		ImpressionID:    id,
		Timestamp:       at,
		ConversionValue: req.ConversionValue,
	})
}

// Feedback handles POST /feedback.
func (s *Server) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Relevant == nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "relevant is required")
		return
	}

	fb, err := s.attribution.RecordFeedback(r.Context(), attributionuc.FeedbackInput{
		RequestID:   req.RequestID,
		ProductID:   req.ProductID,
		Relevant:    *req.Relevant,
		Reason:      req.Reason,
		UserClicked: req.UserClicked,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, feedbackResponse{
		FeedbackID: fb.ID,
		Message:    "Feedback recorded",
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Version: version.Version,
	})
}

func (s *Server) writeResult(w http.ResponseWriter, res *searchuc.Result, start time.Time) {
	w.Header().Set("X-Search-Time", millis(s.now().Sub(start)))
	w.Header().Set("X-Cache-Hit", strconv.FormatBool(res.CacheHit))
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// optional is set. Returns false after writing a 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF):
		if optional {
			return true
		}
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "request body is required")
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid request body: "+err.Error())
	}
	return false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
