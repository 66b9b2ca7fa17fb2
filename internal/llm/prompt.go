package llm

import (
	"fmt"
	"strings"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Prompt assembly. Context sections are appended only when their content
// is non-empty: a missing description degrades to a shorter prompt, never
// to a literal placeholder.

// PlanPrompt builds the planning-stage prompt from a conversation.
func PlanPrompt(messages []schema.Message) string {
	var b strings.Builder
	b.WriteString("You are a diagram planning assistant. ")
	b.WriteString("Decompose the user's request into one or more chart specifications.\n\n")
	b.WriteString("Respond with a JSON array. Each element must be an object with exactly two fields:\n")
	b.WriteString("  \"type\": one of ")
	b.WriteString(strings.Join(schema.ChartTypeStrings(), ", "))
	b.WriteString("\n  \"description\": a detailed natural-language specification of the chart's content\n\n")
	b.WriteString("Return an empty array if the request needs no diagram.")

	conversation := formatConversation(messages)
	writeSection(&b, "CONVERSATION", conversation)
	return b.String()
}

// GenerationPrompt builds the generation-stage prompt for one planned chart.
func GenerationPrompt(req *schema.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce a Mermaid %s diagram.\n\n", req.ChartType)
	b.WriteString("Respond with a single JSON object with fields:\n")
	fmt.Fprintf(&b, "  \"type\": %q\n", string(req.ChartType))
	b.WriteString("  \"description\": a one-paragraph summary of what the diagram shows\n")
	b.WriteString("  \"chart\": the complete Mermaid markup, syntactically valid, no code fences")

	writeSection(&b, "USER REQUEST", req.OriginalUserMessage)
	writeSection(&b, "PLAN DESCRIPTION", req.PlanDescription)
	writeSection(&b, "CONVERSATION", formatConversation(req.Messages))
	return b.String()
}

// RepairPrompt builds the repair-stage prompt. Previous attempts are
// packaged in explicitly so the model is steered away from repeating a
// failed strategy.
func RepairPrompt(req *schema.RepairRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following Mermaid %s diagram fails to render.\n", req.ChartType)
	b.WriteString("Fix ONLY what causes the parse/render failure. ")
	b.WriteString("Preserve every node identity, every relationship and the flow logic exactly as they are. ")
	b.WriteString("Do not restructure, rename or simplify the diagram.\n\n")
	b.WriteString("Respond with a single JSON object with fields:\n")
	fmt.Fprintf(&b, "  \"type\": %q\n", string(req.ChartType))
	b.WriteString("  \"description\": what the diagram shows\n")
	b.WriteString("  \"chart\": the corrected Mermaid markup, no code fences\n")
	b.WriteString("  \"explanation\": what you changed and why it fixes the error")

	writeSection(&b, "BROKEN CHART", req.Chart)
	writeSection(&b, "RENDER ERROR", req.Error)
	writeSection(&b, "CHART DESCRIPTION", req.Description)
	writeSection(&b, "PLAN DESCRIPTION", req.PlanDescription)
	writeSection(&b, "USER REQUEST", req.OriginalUserMessage)
	writeSection(&b, "PREVIOUS FAILED ATTEMPTS", formatAttempts(req.PreviousAttempts))
	return b.String()
}

// writeSection appends a labeled section, or nothing when content is empty.
func writeSection(b *strings.Builder, label, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	fmt.Fprintf(b, "\n\n[%s]\n%s", label, content)
}

func formatConversation(messages []schema.Message) string {
	var lines []string
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func formatAttempts(attempts []schema.FixAttempt) string {
	if len(attempts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, a := range attempts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Attempt %d:\n%s\nFailed with: %s", i+1, a.Chart, a.Error)
		if a.Explanation != "" {
			fmt.Fprintf(&b, "\nModel explanation was: %s", a.Explanation)
		}
	}
	b.WriteString("\n\nNone of the attempts above rendered. Try a different correction.")
	return b.String()
}
