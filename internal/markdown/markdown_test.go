package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTMLShiftsHeadings(t *testing.T) {
	out, err := ToHTML("# Fitment\n\nWorks with **all** models.", 1)
	require.NoError(t, err)
	assert.Contains(t, out, "<h2")
	assert.NotContains(t, out, "<h1")
	assert.Contains(t, out, "<strong>all</strong>")
}

func TestToHTMLDropsRawHTML(t *testing.T) {
	out, err := ToHTML("hello <script>alert(1)</script>", 0)
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "<script>"))
}

func TestPlainText(t *testing.T) {
	got := PlainText("# Title\n\nSome *emphasis* and `code`.\n\n- one\n- two")
	assert.Equal(t, "Title Some emphasis and code. one two", got)
}
