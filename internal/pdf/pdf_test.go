package pdf

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rscpdf "rsc.io/pdf"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + string(rune('a'+i%26))
	}
	return strings.Join(w, " ")
}

func TestChunkByWords(t *testing.T) {
	chunks := ChunkByWords(words(10), 4, 1)
	require.Len(t, chunks, 3)
	assert.Equal(t, "wa wb wc wd", chunks[0])
	assert.Equal(t, "wd we wf wg", chunks[1])
	assert.Equal(t, "wg wh wi wj", chunks[2])

	assert.Empty(t, ChunkByWords("   ", 4, 1))
	assert.Equal(t, []string{"wa wb"}, ChunkByWords(words(2), 4, 1))
	assert.Len(t, ChunkByWords(words(600), 0, 0), 2, "size defaults to 300")
	assert.Len(t, ChunkByWords(words(8), 4, 4), 2, "overlap >= size is ignored")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b c", Sanitize("a\r\n\tb\x00  c "))
	assert.Equal(t, "", Sanitize("\x00\n"))
}

func TestPageText(t *testing.T) {
	runs := []rscpdf.Text{
		{S: "Hel", X: 10, Y: 700, W: 12, FontSize: 10},
		{S: "lo", X: 22, Y: 700, W: 8, FontSize: 10},
		{S: "world", X: 35, Y: 700, W: 20, FontSize: 10},
		{S: "\x00", X: 55, Y: 700, W: 0, FontSize: 10},
		{S: "next", X: 10, Y: 686, W: 16, FontSize: 10},
	}
	assert.Equal(t, "Hello world\nnext", pageText(runs))
}

func TestExtractPagesMissingFile(t *testing.T) {
	_, err := ExtractPages(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
