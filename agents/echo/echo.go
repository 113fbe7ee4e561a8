package echo

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hiydavid/dbx-agent-on-app/agenttype"
	"github.com/hiydavid/dbx-agent-on-app/registry"
)

// Callback names reported in spans and logs.
const (
	InvokeName = "echo_invoke"
	StreamName = "echo_stream"
)

// Agent echoes the last user message back, in the shape of its AgentType.
type Agent struct {
	agentType agenttype.AgentType
	newID     func() string
	now       func() time.Time
}

// New creates an echo agent for t.
func New(t agenttype.AgentType) (*Agent, error) {
	if _, err := agenttype.Lookup(t); err != nil {
		return nil, err
	}
	return &Agent{
		agentType: t,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Register binds the agent's invoke and stream callbacks. The chat v2 stream
// is registered in async mode, everything else in sync mode.
func (a *Agent) Register(reg *registry.Registry) error {
	if _, err := reg.RegisterInvoke(InvokeName, a.Invoke); err != nil {
		return err
	}
	if a.agentType == agenttype.ChatV2 {
		_, err := reg.RegisterAsyncStream(StreamName, a.StreamAsync)
		return err
	}
	_, err := reg.RegisterStream(StreamName, a.Stream)
	return err
}

// Invoke returns the single-shot echo.
func (a *Agent) Invoke(_ context.Context, inv *registry.Invocation) (any, error) {
	switch req := inv.Payload.(type) {
	case *agenttype.ResponsesAgentRequest:
		return agenttype.ResponsesAgentResponse{
			ID:     "resp_" + a.newID(),
			Output: []agenttype.OutputItem{agenttype.TextOutputItem(a.newID(), lastResponsesText(req))},
		}, nil

	case *agenttype.ChatCompletionRequest:
		text := lastChatText(req)
		return agenttype.ChatCompletionResponse{
			ID:      "chatcmpl-" + a.newID(),
			Object:  "chat.completion",
			Created: a.now().Unix(),
			Choices: []agenttype.ChatChoice{{
				Message:      agenttype.ChatMessage{Role: "assistant", Content: &text},
				FinishReason: "stop",
			}},
		}, nil

	case *agenttype.ChatAgentRequest:
		return agenttype.ChatAgentResponse{
			Messages: []agenttype.ChatAgentMessage{{
				Role:    "assistant",
				Content: lastChatAgentText(req),
				ID:      a.newID(),
			}},
			FinishReason: "stop",
		}, nil

	case map[string]any:
		return req, nil

	default:
		return nil, fmt.Errorf("echo: unsupported payload %T", inv.Payload)
	}
}

// Stream yields the echo word by word.
func (a *Agent) Stream(_ context.Context, inv *registry.Invocation) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		switch req := inv.Payload.(type) {
		case *agenttype.ResponsesAgentRequest:
			a.streamResponses(lastResponsesText(req), yield)

		case *agenttype.ChatCompletionRequest:
			id := "chatcmpl-" + a.newID()
			for _, word := range Words(lastChatText(req)) {
				if !yield(agenttype.TextChunk(id, word), nil) {
					return
				}
			}

		case *agenttype.ChatAgentRequest:
			id := a.newID()
			for _, word := range Words(lastChatAgentText(req)) {
				if !yield(a.chatAgentChunk(id, word), nil) {
					return
				}
			}

		case map[string]any:
			text, _ := req["content"].(string)
			for _, word := range Words(text) {
				if !yield(map[string]any{"delta": word}, nil) {
					return
				}
			}

		default:
			yield(nil, fmt.Errorf("echo: unsupported payload %T", inv.Payload))
		}
	}
}

// StreamAsync produces the chat v2 echo on its own goroutine. It stops as
// soon as ctx is done.
func (a *Agent) StreamAsync(ctx context.Context, inv *registry.Invocation) <-chan registry.StreamEvent {
	ch := make(chan registry.StreamEvent)
	go func() {
		defer close(ch)
		send := func(ev registry.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		req, ok := inv.Payload.(*agenttype.ChatAgentRequest)
		if !ok {
			send(registry.StreamEvent{Err: fmt.Errorf("echo: unsupported payload %T", inv.Payload)})
			return
		}
		id := a.newID()
		for _, word := range Words(lastChatAgentText(req)) {
			if !send(registry.StreamEvent{Chunk: a.chatAgentChunk(id, word)}) {
				return
			}
		}
	}()
	return ch
}

func (a *Agent) streamResponses(text string, yield func(any, error) bool) {
	itemID := a.newID()
	for _, word := range Words(text) {
		ev := agenttype.ResponsesAgentStreamEvent{
			Type:   agenttype.EventOutputTextDelta,
			ItemID: itemID,
			Delta:  word,
		}
		if !yield(ev, nil) {
			return
		}
	}
	item := agenttype.TextOutputItem(itemID, text)
	yield(agenttype.ResponsesAgentStreamEvent{
		Type:   agenttype.EventOutputItemDone,
		ItemID: itemID,
		Item:   &item,
	}, nil)
}

func (a *Agent) chatAgentChunk(id, word string) agenttype.ChatAgentChunk {
	return agenttype.ChatAgentChunk{
		Delta: agenttype.ChatAgentMessage{Role: "assistant", Content: word, ID: id},
	}
}

// Words splits text into chunks that concatenate back to text: every word
// but the first keeps its leading space.
func Words(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.SplitAfter(text, " ")
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func lastResponsesText(req *agenttype.ResponsesAgentRequest) string {
	for i := len(req.Input) - 1; i >= 0; i-- {
		item := req.Input[i]
		if item.Role != "user" {
			continue
		}
		switch c := item.Content.(type) {
		case string:
			return c
		case []any:
			var sb strings.Builder
			for _, part := range c {
				if p, ok := part.(map[string]any); ok {
					if text, ok := p["text"].(string); ok {
						sb.WriteString(text)
					}
				}
			}
			return sb.String()
		}
	}
	return ""
}

func lastChatText(req *agenttype.ChatCompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if m := req.Messages[i]; m.Role == "user" && m.Content != nil {
			return *m.Content
		}
	}
	return ""
}

func lastChatAgentText(req *agenttype.ChatAgentRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if m := req.Messages[i]; m.Role == "user" {
			return m.Content
		}
	}
	return ""
}
