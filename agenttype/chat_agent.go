package agenttype

// ChatAgentMessage is an agent/v2/chat message.
type ChatAgentMessage struct {
	Role        string         `json:"role" jsonschema:"required,enum=system,user,assistant,tool"`
	Content     string         `json:"content" jsonschema:"nullable"`
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Attachments map[string]any `json:"attachments,omitempty"`
}

// ChatAgentRequest is the agent/v2/chat request body.
type ChatAgentRequest struct {
	Messages     []ChatAgentMessage `json:"messages" jsonschema:"required"`
	Context      *ChatContext       `json:"context,omitempty"`
	CustomInputs map[string]any     `json:"custom_inputs,omitempty"`
}

// ChatAgentResponse is the agent/v2/chat single-shot response.
type ChatAgentResponse struct {
	Messages      []ChatAgentMessage `json:"messages" jsonschema:"required"`
	FinishReason  string             `json:"finish_reason,omitempty"`
	CustomOutputs map[string]any     `json:"custom_outputs,omitempty"`
	Usage         map[string]any     `json:"usage,omitempty"`
}

// ChatAgentChunk is one agent/v2/chat stream chunk.
type ChatAgentChunk struct {
	Delta         ChatAgentMessage `json:"delta" jsonschema:"required"`
	FinishReason  string           `json:"finish_reason,omitempty"`
	CustomOutputs map[string]any   `json:"custom_outputs,omitempty"`
	Usage         map[string]any   `json:"usage,omitempty"`
}
