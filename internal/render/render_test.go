package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownPlainText(t *testing.T) {
	assert.Equal(t, "T1 looks stable.", Markdown("T1 looks stable."))
	assert.Equal(t, `{"answer":42}`, Markdown(`{"answer":42}`), "JSON without blocks is left alone")
	assert.Equal(t, "Error: boom", Markdown("Error: boom"))
}

func TestMarkdownBlocks(t *testing.T) {
	content := `{"blocks":[` +
		`{"type":"text","content":"## Summary\n\nQ12 drifted."},` +
		`{"type":"table","title":"Parameters","columns":["qid","t1"],"rows":[["12",41.5],["13",null]]},` +
		`{"type":"chart","data":{"x":[1,2]}}` +
		`],"explanation":"ignored"}`

	blocks, ok := ParseBlocks(content)
	require.True(t, ok)
	require.Len(t, blocks, 3)
	assert.Equal(t, "table", blocks[1].Type)

	md := Markdown(content)
	assert.Contains(t, md, "## Summary\n\nQ12 drifted.")
	assert.Contains(t, md, "### Parameters\n\n| qid | t1 |\n| --- | --- |\n| 12 | 41.5 |\n| 13 |  |")
	assert.Contains(t, md, "```json\n{\n  \"type\": \"chart\",")
}

func TestEscapeCells(t *testing.T) {
	assert.Equal(t, []string{`a\|b`, "c d"}, escapeCells([]string{"a|b", "c\nd"}))
}

func TestRendererPlainStyle(t *testing.T) {
	r := NewRenderer(5, StylePlain)
	assert.Equal(t, 20, r.Width())

	out := r.Content(`{"blocks":[{"type":"text","content":"hello copilot"}]}`)
	assert.Contains(t, out, "hello copilot")
}
