package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// DoneFrame terminates every event stream, successful or not.
const DoneFrame = "data: [DONE]\n\n"

// SetSSEHeaders 设置 SSE 响应头
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
}

// SSEWriter frames values as data-only server-sent events and flushes after
// every frame. It is used by a single goroutine.
type SSEWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	frames int
	done   bool
}

// NewSSEWriter wraps w. Headers must be set before the first frame.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	return &SSEWriter{w: w, rc: http.NewResponseController(w)}
}

// Data writes one `data: <json>` frame.
func (s *SSEWriter) Data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode sse frame: %w", err)
	}
	return s.write("data: " + string(payload) + "\n\n")
}

// Error writes the `{"error": message}` frame.
func (s *SSEWriter) Error(message string) error {
	return s.Data(map[string]string{"error": message})
}

// Done writes the terminal frame. Later calls are no-ops.
func (s *SSEWriter) Done() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.write(DoneFrame)
}

// Frames returns the number of frames written, the terminal frame included.
func (s *SSEWriter) Frames() int { return s.frames }

func (s *SSEWriter) write(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.frames++
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
