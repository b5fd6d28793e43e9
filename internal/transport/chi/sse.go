package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	searchuc "github.com/kailas-cloud/adtokens/internal/usecase/search"
)

// SSE event names.
const (
	eventResult   = "result"
	eventMetadata = "metadata"
	eventError    = "error"
)

// sseSink writes a streamed search as server-sent events. Every frame is
// flushed before the call returns.
type sseSink struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	start     time.Time
	requestID string
	started   bool
}

var _ searchuc.Sink = (*sseSink)(nil)

func newSSESink(w http.ResponseWriter, start time.Time) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w), start: start}
}

func (s *sseSink) Start(requestID string, cacheHit bool) error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Search-Time", millis(time.Since(s.start)))
	h.Set("X-Cache-Hit", strconv.FormatBool(cacheHit))
	s.w.WriteHeader(http.StatusOK)
	s.requestID = requestID
	s.started = true
	return s.flush()
}

func (s *sseSink) Result(item searchuc.Item) error {
	return s.event(eventResult, streamFrame{
		RequestID: s.requestID,
		Results:   []resultItem{itemToResponse(&item)},
	})
}

func (s *sseSink) Metadata(md searchuc.Metadata) error {
	return s.event(eventMetadata, metadataToResponse(md))
}

// Error reports a failure after the stream has started.
func (s *sseSink) Error(e apiError) error {
	return s.event(eventError, errorResponse{Code: e.code, Message: e.message})
}

func (s *sseSink) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write %s frame: %w", name, err)
	}
	return s.flush()
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
