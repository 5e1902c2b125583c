package knowledge

import (
	"github.com/ayoubkhl/ragrelay/pkg/chunker"
	"github.com/ayoubkhl/ragrelay/pkg/tokenizer"
)

type ChunkResult struct {
	Content    string
	Index      int
	TokenCount int
}

// ChunkContent splits extracted text into ordered chunks with token
// estimates. Chunk indexes are contiguous from 0.
func ChunkContent(text string, opts chunker.ChunkOptions) []ChunkResult {
	c := chunker.New()
	chunks := c.Chunk(text, opts)

	results := make([]ChunkResult, len(chunks))
	for i, ch := range chunks {
		results[i] = ChunkResult{
			Content:    ch.Content,
			Index:      ch.Index,
			TokenCount: tokenizer.CountTokens(ch.Content),
		}
	}
	return results
}
