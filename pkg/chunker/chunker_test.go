package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIndexesContiguous(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	c := New()

	for _, strategy := range []string{"fixed", "recursive", "sentence"} {
		t.Run(strategy, func(t *testing.T) {
			chunks := c.Chunk(text, ChunkOptions{
				ChunkSize:    500,
				ChunkOverlap: 50,
				Strategy:     strategy,
			})
			require.NotEmpty(t, chunks)
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Index, "chunk indexes must be contiguous from zero")
				assert.NotEmpty(t, strings.TrimSpace(ch.Content))
			}
		})
	}
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	c := New()
	chunks := c.Chunk("just one short line", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "just one short line", chunks[0].Content)
}

func TestChunkEmptyText(t *testing.T) {
	c := New()
	assert.Empty(t, c.Chunk("", DefaultOptions()))
	assert.Empty(t, c.Chunk("   \n\n  ", ChunkOptions{ChunkSize: 100, Strategy: "fixed"}))
}

func TestChunkFixedRespectsSize(t *testing.T) {
	text := strings.Repeat("a", 2500)
	c := New()
	chunks := c.Chunk(text, ChunkOptions{ChunkSize: 1000, ChunkOverlap: 0, Strategy: "fixed"})
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Content, 1000)
	assert.Len(t, chunks[1].Content, 1000)
	assert.Len(t, chunks[2].Content, 500)
}

func TestChunkFixedOverlap(t *testing.T) {
	text := strings.Repeat("b", 1500)
	c := New()
	chunks := c.Chunk(text, ChunkOptions{ChunkSize: 1000, ChunkOverlap: 200, Strategy: "fixed"})
	require.GreaterOrEqual(t, len(chunks), 2)
	// Second chunk starts 800 in, so the last 200 chars of chunk 0 repeat.
	assert.Equal(t, 800, chunks[1].Start)
}

func TestChunkRecursivePrefersParagraphs(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird paragraph here."
	c := New()
	chunks := c.Chunk(text, ChunkOptions{ChunkSize: 30, Strategy: "recursive"})
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotContains(t, ch.Content, "\n\n", "paragraph separator should split, not survive")
	}
}
