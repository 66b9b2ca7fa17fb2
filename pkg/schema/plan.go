package schema

// Plan pairs a chart type with a free-form natural-language specification
// of what the chart should show. Produced by the planning stage and
// immutable afterwards.
type Plan struct {
	Type        ChartType `json:"type"`
	Description string    `json:"description"`
}

// Message is one role/content pair of a conversation handed to the
// planning stage.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LastUserMessage returns the newest non-empty user message, falling back
// to the final message of the conversation. This is the prompt a session
// is filed under, so assistant turns at the tail must not win.
func LastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
