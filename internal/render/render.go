// Package render turns assistant message content into terminal output.
// Structured answers arrive as {"blocks": [...]} JSON and are converted to
// markdown first; everything else is treated as markdown already.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Block is one element of a structured copilot answer.
type Block struct {
	Type    string          `json:"type"`
	Title   string          `json:"title,omitempty"`
	Content string          `json:"content,omitempty"`
	Columns []string        `json:"columns,omitempty"`
	Rows    [][]any         `json:"rows,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

type structured struct {
	Blocks []json.RawMessage `json:"blocks"`
}

// ParseBlocks returns the blocks of a structured answer, or false when
// content is not one.
func ParseBlocks(content string) ([]Block, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var s structured
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil || s.Blocks == nil {
		return nil, false
	}

	blocks := make([]Block, 0, len(s.Blocks))
	for _, raw := range s.Blocks {
		var b Block
		if err := json.Unmarshal(raw, &b); err != nil {
			b = Block{}
		}
		b.Raw = raw
		blocks = append(blocks, b)
	}
	return blocks, true
}

// Markdown converts assistant content to markdown.
func Markdown(content string) string {
	blocks, ok := ParseBlocks(content)
	if !ok {
		return content
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if md := blockMarkdown(b); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.Join(parts, "\n\n")
}

func blockMarkdown(b Block) string {
	var sb strings.Builder
	if b.Title != "" {
		fmt.Fprintf(&sb, "### %s\n\n", b.Title)
	}

	switch b.Type {
	case "text", "markdown":
		sb.WriteString(b.Content)
	case "table":
		if len(b.Columns) == 0 {
			break
		}
		sb.WriteString("| " + strings.Join(escapeCells(b.Columns), " | ") + " |\n")
		sb.WriteString("|" + strings.Repeat(" --- |", len(b.Columns)) + "\n")
		for _, row := range b.Rows {
			cells := make([]string, len(b.Columns))
			for i := range cells {
				if i < len(row) && row[i] != nil {
					cells[i] = fmt.Sprint(row[i])
				}
			}
			sb.WriteString("| " + strings.Join(escapeCells(cells), " | ") + " |\n")
		}
	case "code":
		sb.WriteString("```\n" + b.Content + "\n```")
	default:
		// charts and anything newer render as their JSON
		pretty, err := json.MarshalIndent(json.RawMessage(b.Raw), "", "  ")
		if err != nil {
			pretty = b.Raw
		}
		sb.WriteString("```json\n" + string(pretty) + "\n```")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " ")
	}
	return out
}

// Style names accepted by NewRenderer besides glamour's standard styles.
const (
	StyleAuto  = "auto"
	StylePlain = "notty"
)

// Renderer renders markdown for a fixed width.
type Renderer struct {
	width int
	tr    *glamour.TermRenderer
}

// NewRenderer creates a renderer. A failing glamour setup degrades to plain
// text output.
func NewRenderer(width int, style string) *Renderer {
	if width < 20 {
		width = 20
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == StyleAuto || style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}

	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		tr = nil
	}
	return &Renderer{width: width, tr: tr}
}

func (r *Renderer) Width() int {
	return r.width
}

// Render renders markdown, trimming the newlines glamour adds around it.
func (r *Renderer) Render(md string) string {
	if r.tr == nil {
		return md
	}
	out, err := r.tr.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}

// Content renders assistant content, structured or not.
func (r *Renderer) Content(content string) string {
	return r.Render(Markdown(content))
}
