package context_builder //nolint:revive // var-naming: using underscores for domain clarity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/recall-proxy/internal/memory_store"
)

func hit(text, role string, sim float64, age time.Duration) memory_store.SearchHit {
	return memory_store.SearchHit{
		Similarity: sim,
		Record: memory_store.Record{
			Text:      text,
			Role:      role,
			Timestamp: time.Now().Add(-age),
		},
	}
}

func defaultOpts() Options {
	return Options{MaxItems: 5, MaxChars: 2000}
}

func TestBuildMemoryBlockEmptyStore(t *testing.T) {
	block := BuildMemoryBlock(nil, 0, defaultOpts())
	assert.Empty(t, block)
}

func TestBuildMemoryBlockWithHits(t *testing.T) {
	hits := []memory_store.SearchHit{
		hit("my name is Ana", "user", 0.92, 30*time.Second),
		hit("nice to meet you Ana", "assistant", 0.71, 2*time.Minute),
	}

	block := BuildMemoryBlock(hits, 7, defaultOpts())

	assert.Contains(t, block, "LOCAL MEMORY")
	assert.Contains(t, block, "=== YOUR MEMORY (7 total stored) ===")
	assert.Contains(t, block, "[user] (just now, relevance: 92%): my name is Ana")
	assert.Contains(t, block, "[assistant] (2m ago, relevance: 71%): nice to meet you Ana")
	assert.Contains(t, block, "=== END MEMORY ===")
}

func TestBuildMemoryBlockNoHitsButStoredMemories(t *testing.T) {
	block := BuildMemoryBlock(nil, 3, defaultOpts())

	assert.Contains(t, block, "LOCAL MEMORY")
	assert.Contains(t, block, "You have 3 stored memories")
	assert.NotContains(t, block, "=== YOUR MEMORY")
}

func TestBuildMemoryBlockRespectsMaxItems(t *testing.T) {
	var hits []memory_store.SearchHit
	for i := 0; i < 10; i++ {
		hits = append(hits, hit("entry", "user", 0.9, time.Minute))
	}

	block := BuildMemoryBlock(hits, 10, Options{MaxItems: 3, MaxChars: 2000})
	assert.Equal(t, 3, strings.Count(block, "[user]"))
}

func TestBuildMemoryBlockTruncatesOnCharBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	hits := []memory_store.SearchHit{
		hit(long, "user", 0.9, time.Minute),
		hit("never shown", "user", 0.8, time.Minute),
	}

	block := BuildMemoryBlock(hits, 2, Options{MaxItems: 5, MaxChars: 100})

	assert.Contains(t, block, "xxx...")
	assert.NotContains(t, block, long)
	assert.NotContains(t, block, "never shown")
}

func TestFormatAgeBuckets(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second)))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour)))
	assert.Equal(t, "unknown time", formatAge(time.Time{}))
	assert.Equal(t, "unknown time", formatAge(time.Unix(0, 0)))
}

func TestInjectIntoMessagesAppendsToLeadingSystem(t *testing.T) {
	messages := []map[string]any{
		{"role": "system", "content": "be nice"},
		{"role": "user", "content": "hello"},
	}

	out := InjectIntoMessages(messages, "remember things")

	require.Len(t, out, 2)
	assert.Equal(t, "be nice\n\n---\nremember things", out[0]["content"])
	assert.Equal(t, "hello", out[1]["content"])

	// Input untouched.
	assert.Equal(t, "be nice", messages[0]["content"])
}

func TestInjectIntoMessagesPrependsSystemWhenMissing(t *testing.T) {
	messages := []map[string]any{
		{"role": "user", "content": "hello"},
	}

	out := InjectIntoMessages(messages, "remember things")

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0]["role"])
	assert.Equal(t, "remember things", out[0]["content"])
	assert.Equal(t, "user", out[1]["role"])
	require.Len(t, messages, 1)
}

func TestInjectIntoMessagesEmptyBlockIsNoop(t *testing.T) {
	messages := []map[string]any{{"role": "user", "content": "hi"}}
	out := InjectIntoMessages(messages, "")
	assert.Equal(t, messages, out)
}

func TestInjectIntoSystem(t *testing.T) {
	assert.Equal(t, "sys\n\n---\nblock", InjectIntoSystem("sys", "block"))
	assert.Equal(t, "block", InjectIntoSystem("", "block"))
	assert.Equal(t, "sys", InjectIntoSystem("sys", ""))
}
