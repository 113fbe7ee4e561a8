package agenttype

import (
	"fmt"
	"reflect"
	"slices"
)

// AgentType identifies the request/response schema family an agent speaks.
// The zero value is the untyped agent: no validation, identity reduction.
type AgentType string

const (
	Untyped   AgentType = ""
	Responses AgentType = "agent/v1/responses"
	ChatV1    AgentType = "agent/v1/chat"
	ChatV2    AgentType = "agent/v2/chat"
)

// String returns the wire name, or "untyped".
func (t AgentType) String() string {
	if t == Untyped {
		return "untyped"
	}
	return string(t)
}

// Reducer folds the ordered, already-converted chunks of one stream into a
// single aggregate used as the span output. It must not mutate its input.
type Reducer func(chunks []map[string]any) any

// Definition is the catalog entry for one AgentType.
type Definition struct {
	Type AgentType

	// Request, Response and Chunk are the Go shapes of the three payload
	// kinds. Nil means the kind is not checked.
	Request  reflect.Type
	Response reflect.Type
	Chunk    reflect.Type

	Reduce Reducer

	// SpanAttributes are attached to every execution span of this type.
	SpanAttributes map[string]string
}

// Typed reports whether the definition carries any shape.
func (d Definition) Typed() bool {
	return d.Request != nil || d.Response != nil || d.Chunk != nil
}

var catalog = map[AgentType]Definition{
	Untyped: {
		Type:   Untyped,
		Reduce: ReduceIdentity,
	},
	Responses: {
		Type:     Responses,
		Request:  reflect.TypeOf(ResponsesAgentRequest{}),
		Response: reflect.TypeOf(ResponsesAgentResponse{}),
		Chunk:    reflect.TypeOf(ResponsesAgentStreamEvent{}),
		Reduce:   ReduceResponses,
		SpanAttributes: map[string]string{
			"mlflow.message.format": "openai",
		},
	},
	ChatV1: {
		Type:     ChatV1,
		Request:  reflect.TypeOf(ChatCompletionRequest{}),
		Response: reflect.TypeOf(ChatCompletionResponse{}),
		Chunk:    reflect.TypeOf(ChatCompletionChunk{}),
		Reduce:   ReduceChatCompletion,
	},
	ChatV2: {
		Type:     ChatV2,
		Request:  reflect.TypeOf(ChatAgentRequest{}),
		Response: reflect.TypeOf(ChatAgentResponse{}),
		Chunk:    reflect.TypeOf(ChatAgentChunk{}),
		Reduce:   ReduceChatAgent,
	},
}

// Lookup returns the catalog entry for t.
func Lookup(t AgentType) (Definition, error) {
	def, ok := catalog[t]
	if !ok {
		return Definition{}, fmt.Errorf("unknown agent type %q", string(t))
	}
	return def, nil
}

// Parse converts a configured name into an AgentType. Empty, "none" and
// "untyped" select the untyped agent.
func Parse(name string) (AgentType, error) {
	switch name {
	case "", "none", "untyped":
		return Untyped, nil
	}
	t := AgentType(name)
	if _, ok := catalog[t]; !ok {
		return Untyped, fmt.Errorf("unknown agent type %q (supported: %v)", name, Names())
	}
	return t, nil
}

// All returns every typed AgentType in a stable order.
func All() []AgentType {
	types := make([]AgentType, 0, len(catalog))
	for t := range catalog {
		if t != Untyped {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}

// Names returns the wire names of All.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = string(t)
	}
	return names
}
