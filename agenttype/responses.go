package agenttype

// Stream event types emitted by responses agents.
const (
	EventOutputTextDelta = "response.output_text.delta"
	EventOutputItemDone  = "response.output_item.done"
)

// ChatContext carries caller identity for agents that track conversations.
type ChatContext struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// ResponsesInputItem is one entry of a responses request input: a message
// (role + content) or a tool round-trip item (type + call_id + output).
type ResponsesInputItem struct {
	Type      string `json:"type,omitempty"`
	ID        string `json:"id,omitempty"`
	Role      string `json:"role,omitempty" jsonschema:"enum=system,developer,user,assistant"`
	Content   any    `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ResponsesAgentRequest is the agent/v1/responses request body.
type ResponsesAgentRequest struct {
	Input        []ResponsesInputItem `json:"input" jsonschema:"required"`
	CustomInputs map[string]any       `json:"custom_inputs,omitempty"`
	Context      *ChatContext         `json:"context,omitempty"`
	Model        string               `json:"model,omitempty"`
	Temperature  *float64             `json:"temperature,omitempty"`
	MaxTokens    *int                 `json:"max_output_tokens,omitempty"`
}

// OutputContent is one content part of an output message.
type OutputContent struct {
	Type        string `json:"type" jsonschema:"required"`
	Text        string `json:"text,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`
}

// OutputItem is one item of a responses output: a message, a function call
// or a function call output.
type OutputItem struct {
	Type      string          `json:"type" jsonschema:"required"`
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   []OutputContent `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// ResponsesAgentResponse is the agent/v1/responses single-shot response.
type ResponsesAgentResponse struct {
	ID            string         `json:"id,omitempty"`
	Output        []OutputItem   `json:"output" jsonschema:"required"`
	CustomOutputs map[string]any `json:"custom_outputs,omitempty"`
	Usage         map[string]any `json:"usage,omitempty"`
}

// ResponsesAgentStreamEvent is one agent/v1/responses stream chunk.
type ResponsesAgentStreamEvent struct {
	Type          string         `json:"type" jsonschema:"required"`
	ItemID        string         `json:"item_id,omitempty"`
	Delta         string         `json:"delta,omitempty"`
	Item          *OutputItem    `json:"item,omitempty"`
	OutputIndex   *int           `json:"output_index,omitempty"`
	ContentIndex  *int           `json:"content_index,omitempty"`
	CustomOutputs map[string]any `json:"custom_outputs,omitempty"`
}

// TextOutputItem builds a completed assistant message item.
func TextOutputItem(id, text string) OutputItem {
	return OutputItem{
		Type:    "message",
		ID:      id,
		Role:    "assistant",
		Status:  "completed",
		Content: []OutputContent{{Type: "output_text", Text: text}},
	}
}
