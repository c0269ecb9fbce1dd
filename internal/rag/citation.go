package rag

import (
	"fmt"
	"strings"

	"github.com/katakuxiko/smeplug/internal/model"
	"github.com/katakuxiko/smeplug/internal/util"
)

// contextDelimiter separates context blocks in the grounded prompt.
const contextDelimiter = "\n\n---\n\n"

func docName(md model.Metadata, fallback string) string {
	if n := strings.TrimSpace(md.DocName); n != "" {
		return n
	}
	if stem := util.DocStem(md.SourcePath); stem != "" {
		return stem
	}
	return fallback
}

// Citation formats one source reference.
func Citation(md model.Metadata) string {
	return fmt.Sprintf("[Source: %s, Page %s]", docName(md, "Unknown"), md.PageNumber)
}

// Citations derives unique citation strings from ranked chunks, first-seen order.
// The result is never nil.
func Citations(chunks []model.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, sc := range chunks {
		c := Citation(sc.Chunk.Metadata)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ContextText renders chunks as numbered blocks for the model.
func ContextText(chunks []model.ScoredChunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, sc := range chunks {
		md := sc.Chunk.Metadata
		name := docName(md, fmt.Sprintf("Doc-%d", i+1))
		blocks = append(blocks, fmt.Sprintf("[%d] %s (Page %s):\n%s", i+1, name, md.PageNumber, sc.Chunk.Text))
	}
	return strings.Join(blocks, contextDelimiter)
}
