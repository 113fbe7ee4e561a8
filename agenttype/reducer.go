package agenttype

import "strings"

// ReduceIdentity returns the chunk list unchanged.
func ReduceIdentity(chunks []map[string]any) any {
	out := make([]map[string]any, len(chunks))
	copy(out, chunks)
	return out
}

// ReduceResponses collects the item of every response.output_item.done
// event, in order, into a responses output document.
func ReduceResponses(chunks []map[string]any) any {
	items := make([]any, 0, len(chunks))
	for _, chunk := range chunks {
		if t, _ := chunk["type"].(string); t != EventOutputItemDone {
			continue
		}
		if item, ok := chunk["item"]; ok && item != nil {
			items = append(items, item)
		}
	}
	return map[string]any{"output": items}
}

// ReduceChatCompletion concatenates the delta content of the first choice of
// every chunk into one assistant choice.
func ReduceChatCompletion(chunks []map[string]any) any {
	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(firstChoiceContent(chunk))
	}
	return map[string]any{
		"choices": []any{
			map[string]any{"role": "assistant", "content": sb.String()},
		},
	}
}

// ReduceChatAgent collects the delta message of every chunk.
func ReduceChatAgent(chunks []map[string]any) any {
	messages := make([]any, 0, len(chunks))
	for _, chunk := range chunks {
		if delta, ok := chunk["delta"]; ok {
			messages = append(messages, delta)
		}
	}
	return map[string]any{"messages": messages}
}

// firstChoiceContent reads choices[0].delta.content. Chunks without choices
// never reach the reducer because the chunk shape requires one.
func firstChoiceContent(chunk map[string]any) string {
	choices, _ := chunk["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)
	content, _ := delta["content"].(string)
	return content
}
