package tracing

import (
	"encoding/json"
	"slices"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace states.
const (
	StateOK    = "OK"
	StateError = "ERROR"
)

const previewLimit = 1000

// TraceDocument is the transport-safe form of one finished trace, embedded
// in responses under databricks_output.trace.
type TraceDocument struct {
	Info TraceInfo `json:"info"`
	Data TraceData `json:"data"`
}

// TraceInfo summarizes the trace.
type TraceInfo struct {
	TraceID             string    `json:"trace_id"`
	RequestTime         time.Time `json:"request_time"`
	ExecutionDurationMs int64     `json:"execution_duration_ms"`
	State               string    `json:"state"`
	RequestPreview      string    `json:"request_preview,omitempty"`
	ResponsePreview     string    `json:"response_preview,omitempty"`
}

// TraceData holds every recorded span of the trace, root first.
type TraceData struct {
	Spans []SpanData `json:"spans"`
}

// SpanData is one finished span.
type SpanData struct {
	TraceID       string          `json:"trace_id"`
	SpanID        string          `json:"span_id"`
	ParentSpanID  string          `json:"parent_span_id,omitempty"`
	Name          string          `json:"name"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        string          `json:"status"`
	StatusMessage string          `json:"status_message,omitempty"`
	Inputs        json.RawMessage `json:"inputs,omitempty"`
	Outputs       json.RawMessage `json:"outputs,omitempty"`
	Attributes    map[string]any  `json:"attributes,omitempty"`
	Events        []SpanEvent     `json:"events,omitempty"`
}

// SpanEvent is a timestamped event recorded on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func spanDataFrom(s sdktrace.ReadOnlySpan) SpanData {
	sc := s.SpanContext()
	data := SpanData{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		Name:          s.Name(),
		StartTime:     s.StartTime(),
		EndTime:       s.EndTime(),
		Status:        s.Status().Code.String(),
		StatusMessage: s.Status().Description,
	}
	if parent := s.Parent(); parent.IsValid() {
		data.ParentSpanID = parent.SpanID().String()
	}

	for _, kv := range s.Attributes() {
		switch kv.Key {
		case AttrInvocation:
		case AttrInputs:
			data.Inputs = rawJSON(kv.Value.AsString())
		case AttrOutputs:
			data.Outputs = rawJSON(kv.Value.AsString())
		default:
			if data.Attributes == nil {
				data.Attributes = make(map[string]any)
			}
			data.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
	}

	for _, ev := range s.Events() {
		e := SpanEvent{Name: ev.Name, Time: ev.Time}
		if len(ev.Attributes) > 0 {
			e.Attributes = make(map[string]any, len(ev.Attributes))
			for _, kv := range ev.Attributes {
				e.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		data.Events = append(data.Events, e)
	}
	return data
}

// buildDocument assembles the document once the root span has ended.
func buildDocument(root SpanData, rootStatus codes.Code, spans []SpanData) *TraceDocument {
	ordered := make([]SpanData, 0, len(spans))
	ordered = append(ordered, root)
	for _, sd := range spans {
		if sd.SpanID != root.SpanID {
			ordered = append(ordered, sd)
		}
	}
	slices.SortStableFunc(ordered[1:], func(a, b SpanData) int {
		return a.StartTime.Compare(b.StartTime)
	})

	state := StateOK
	if rootStatus == codes.Error {
		state = StateError
	}

	return &TraceDocument{
		Info: TraceInfo{
			TraceID:             root.TraceID,
			RequestTime:         root.StartTime,
			ExecutionDurationMs: root.EndTime.Sub(root.StartTime).Milliseconds(),
			State:               state,
			RequestPreview:      preview(root.Inputs),
			ResponsePreview:     preview(root.Outputs),
		},
		Data: TraceData{Spans: ordered},
	}
}

// Root returns the invocation span.
func (d *TraceDocument) Root() *SpanData {
	if d == nil || len(d.Data.Spans) == 0 {
		return nil
	}
	return &d.Data.Spans[0]
}

func rawJSON(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		b, _ := json.Marshal(s)
		return b
	}
	return json.RawMessage(s)
}

func preview(raw json.RawMessage) string {
	r := []rune(string(raw))
	if len(r) <= previewLimit {
		return string(raw)
	}
	return string(r[:previewLimit])
}
