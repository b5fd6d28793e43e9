package adtokens

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxFrame bounds one SSE line.
const maxFrame = 1 << 20

// StreamFunc receives each streamed result as soon as the server ranks it.
// Returning an error stops the stream.
type StreamFunc func(requestID string, r Result) error

// ErrStreamTruncated is returned when the server closed the stream before
// the metadata frame.
var ErrStreamTruncated = errors.New("adtokens: stream ended without metadata")

// Stream runs a search over server-sent events. Results are delivered in rank
// order; the returned metadata comes from the final frame. The client timeout
// does not apply, bound the call with ctx.
func (c *Client) Stream(ctx context.Context, req SearchRequest, fn StreamFunc) (_ *Metadata, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search.stream", start, err) }()

	body := struct {
		SearchRequest
		Stream bool `json:"stream"`
	}{SearchRequest: req, Stream: true}

	hreq, err := c.newRequest(ctx, http.MethodPost, "/search", nil, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stream: %w", decodeAPIError(resp))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return nil, fmt.Errorf("stream: unexpected content type %q", ct)
	}

	md, err := readEvents(resp.Body, fn)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return md, nil
}

type sseEvent struct {
	name string
	data []byte
}

// readEvents dispatches frames until the metadata or error event.
func readEvents(r io.Reader, fn StreamFunc) (*Metadata, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrame)

	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name == "" && ev.data == nil {
				continue
			}
			md, done, err := dispatch(ev, fn)
			if err != nil || done {
				return md, err
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if ev.data != nil {
				ev.data = append(ev.data, '\n')
			}
			ev.data = append(ev.data, chunk...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return nil, ErrStreamTruncated
}

func dispatch(ev sseEvent, fn StreamFunc) (*Metadata, bool, error) {
	switch ev.name {
	case "result":
		var frame struct {
			RequestID string   `json:"request_id"`
			Results   []Result `json:"results"`
		}
		if err := json.Unmarshal(ev.data, &frame); err != nil {
			return nil, false, fmt.Errorf("decode result event: %w", err)
		}
		for _, r := range frame.Results {
			if err := fn(frame.RequestID, r); err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	case "metadata":
		var md Metadata
		if err := json.Unmarshal(ev.data, &md); err != nil {
			return nil, false, fmt.Errorf("decode metadata event: %w", err)
		}
		return &md, true, nil
	case "error":
		apiErr := &APIError{}
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(ev.data, &body); err != nil {
			return nil, false, fmt.Errorf("decode error event: %w", err)
		}
		apiErr.Code, apiErr.Message = body.Code, body.Message
		return nil, false, apiErr
	default:
		// unknown events are skipped
		return nil, false, nil
	}
}
