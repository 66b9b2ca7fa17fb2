package render

import (
	"context"
	"strings"

	"github.com/chartforge/chartforge/pkg/schema"
)

// SyntaxProbe is a pure-Go approximation of the Mermaid parser: it checks
// the header keyword, bracket and quote balance, and the per-dialect line
// shapes the parser is strictest about. It cannot catch everything a real
// renderer rejects, but it catches the failure classes the repair cycle
// exists for, without a browser dependency.
type SyntaxProbe struct{}

// NewSyntaxProbe creates a SyntaxProbe.
func NewSyntaxProbe() *SyntaxProbe {
	return &SyntaxProbe{}
}

// headerDialects maps the first word of the header line to a dialect name.
var headerDialects = map[string]string{
	"flowchart":       "flowchart",
	"graph":           "flowchart",
	"sequenceDiagram": "sequence",
	"classDiagram":    "class",
	"stateDiagram":    "state",
	"stateDiagram-v2": "state",
	"erDiagram":       "er",
	"gantt":           "gantt",
	"journey":         "journey",
	"pie":             "pie",
	"mindmap":         "mindmap",
	"timeline":        "timeline",
	"gitGraph":        "gitgraph",
}

// Render checks the markup and returns a RENDER_FAILED error describing
// the first problem found, or nil when the markup parses.
func (p *SyntaxProbe) Render(ctx context.Context, chart string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lines := strings.Split(chart, "\n")
	headerIdx := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%%") {
			continue
		}
		headerIdx = i
		break
	}
	if headerIdx == -1 {
		return renderError(1, "empty diagram")
	}

	header := strings.TrimSpace(lines[headerIdx])
	keyword := strings.Fields(header)[0]
	dialect, ok := headerDialects[keyword]
	if !ok {
		return renderError(headerIdx+1, "unknown diagram type "+keyword)
	}

	if err := checkBalance(lines); err != nil {
		return err
	}
	return checkDialect(dialect, lines, headerIdx)
}

// checkBalance verifies brackets and quotes pair up outside quoted text.
func checkBalance(lines []string) error {
	var stack []rune
	var openLine []int
	inQuote := false
	quoteLine := 0

	for ln, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "%%") {
			continue
		}
		for _, r := range line {
			if r == '"' {
				inQuote = !inQuote
				quoteLine = ln + 1
				continue
			}
			if inQuote {
				continue
			}
			switch r {
			case '(', '[', '{':
				stack = append(stack, r)
				openLine = append(openLine, ln+1)
			case ')', ']', '}':
				if len(stack) == 0 {
					return renderError(ln+1, "unmatched closing "+string(r))
				}
				open := stack[len(stack)-1]
				if (r == ')' && open != '(') || (r == ']' && open != '[') || (r == '}' && open != '{') {
					return renderError(ln+1, "mismatched "+string(open)+" closed by "+string(r))
				}
				stack = stack[:len(stack)-1]
				openLine = openLine[:len(openLine)-1]
			}
		}
		// Quotes do not span lines in mermaid labels.
		if inQuote {
			return renderError(quoteLine, "unterminated quote")
		}
	}
	if len(stack) > 0 {
		return renderError(openLine[len(openLine)-1], "unclosed "+string(stack[len(stack)-1]))
	}
	return nil
}

// checkDialect applies the line-shape checks the mermaid parser is
// strictest about per dialect.
func checkDialect(dialect string, lines []string, headerIdx int) error {
	for i := headerIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "%%") {
			continue
		}
		switch dialect {
		case "flowchart":
			// "->" is not a flowchart arrow; the parser rejects it.
			if containsBareArrow(trimmed) {
				return renderError(i+1, `invalid edge "->" (use "-->")`)
			}
		case "sequence":
			if strings.Contains(trimmed, "->") && !strings.Contains(trimmed, ":") &&
				!strings.HasPrefix(trimmed, "activate") && !strings.HasPrefix(trimmed, "deactivate") {
				return renderError(i+1, "sequence message is missing its text (expected \":\")")
			}
		case "pie":
			if strings.HasPrefix(trimmed, "title") || strings.HasPrefix(trimmed, "showData") {
				continue
			}
			if !strings.Contains(trimmed, ":") {
				return renderError(i+1, "pie slice is missing a value (expected \"label\" : value)")
			}
		}
	}
	return nil
}

// containsBareArrow reports a "->" that is not part of "-->", "->>" or "o->".
func containsBareArrow(line string) bool {
	for idx := 0; ; {
		i := strings.Index(line[idx:], "->")
		if i == -1 {
			return false
		}
		i += idx
		prevDash := i > 0 && (line[i-1] == '-' || line[i-1] == '.')
		nextGt := i+2 < len(line) && line[i+2] == '>'
		if !prevDash && !nextGt {
			return true
		}
		idx = i + 2
	}
}

func renderError(line int, msg string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeRenderFailed, "parse error on line %d: %s", line, msg)
}
