package agenttype

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name" jsonschema:"required"`
	Arguments string `json:"arguments"`
}

// ChatMessage is an agent/v1/chat message.
type ChatMessage struct {
	Role       string     `json:"role" jsonschema:"required,enum=system,user,assistant,tool"`
	Content    *string    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Refusal    string     `json:"refusal,omitempty"`
}

// ChatCompletionRequest is the agent/v1/chat request body.
type ChatCompletionRequest struct {
	Messages         []ChatMessage  `json:"messages" jsonschema:"required"`
	Temperature      *float64       `json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	MaxTokens        *int           `json:"max_tokens,omitempty" jsonschema:"minimum=1"`
	Stop             []string       `json:"stop,omitempty"`
	N                *int           `json:"n,omitempty" jsonschema:"minimum=1"`
	TopP             *float64       `json:"top_p,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	CustomInputs     map[string]any `json:"custom_inputs,omitempty"`
	Tools            []any          `json:"tools,omitempty"`
}

// ChatChoice is one completed choice of a chat completion.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message" jsonschema:"required"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the agent/v1/chat single-shot response.
type ChatCompletionResponse struct {
	ID            string         `json:"id,omitempty"`
	Object        string         `json:"object,omitempty"`
	Created       int64          `json:"created,omitempty"`
	Model         string         `json:"model,omitempty"`
	Choices       []ChatChoice   `json:"choices" jsonschema:"required"`
	Usage         map[string]any `json:"usage,omitempty"`
	CustomOutputs map[string]any `json:"custom_outputs,omitempty"`
}

// ChatChoiceDelta is the incremental part of a streamed choice.
type ChatChoiceDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChunkChoice is one streamed choice.
type ChatChunkChoice struct {
	Index        int             `json:"index"`
	Delta        ChatChoiceDelta `json:"delta" jsonschema:"required"`
	FinishReason *string         `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one agent/v1/chat stream chunk. A chunk must carry
// at least one choice.
type ChatCompletionChunk struct {
	ID      string            `json:"id,omitempty"`
	Object  string            `json:"object,omitempty"`
	Created int64             `json:"created,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []ChatChunkChoice `json:"choices" jsonschema:"required,minItems=1"`
	Usage   map[string]any    `json:"usage,omitempty"`
}

// TextChunk builds a single-choice chunk carrying content.
func TextChunk(id, content string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Choices: []ChatChunkChoice{{Delta: ChatChoiceDelta{Content: &content}}},
	}
}
