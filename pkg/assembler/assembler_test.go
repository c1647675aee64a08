package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble(t *testing.T) {
	t.Run("single block", func(t *testing.T) {
		out := Assemble([]ContextBlock{{Source: "neural", Content: "x", Priority: 1, TokenEstimate: 10}}, 100)
		assert.Equal(t, "[NEURAL] x", out)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", Assemble(nil, 100))
		assert.Equal(t, "", Assemble([]ContextBlock{}, 100))
	})

	t.Run("exact fit is inclusive", func(t *testing.T) {
		out := Assemble([]ContextBlock{{Source: "system", Content: "rules", Priority: 1, TokenEstimate: 100}}, 100)
		assert.Equal(t, "[SYSTEM] rules", out)
	})

	t.Run("priority order", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "traditional", Content: "third", Priority: 3, TokenEstimate: 1},
			{Source: "system", Content: "first", Priority: 1, TokenEstimate: 1},
			{Source: "neural", Content: "second", Priority: 2, TokenEstimate: 1},
		}
		out := Assemble(blocks, 100)
		assert.Equal(t, "[SYSTEM] first [NEURAL] second [TRADITIONAL] third", out)
	})

	t.Run("equal priorities keep input order", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "a", Content: "one", Priority: 2, TokenEstimate: 1},
			{Source: "b", Content: "two", Priority: 2, TokenEstimate: 1},
			{Source: "c", Content: "zero", Priority: 1, TokenEstimate: 1},
		}
		out := Assemble(blocks, 100)
		assert.Equal(t, "[C] zero [A] one [B] two", out)
	})

	t.Run("overflow block is truncated", func(t *testing.T) {
		long := strings.Repeat("a", 1000)
		blocks := []ContextBlock{
			{Source: "system", Content: "head", Priority: 1, TokenEstimate: 20},
			{Source: "neural", Content: long, Priority: 2, TokenEstimate: 250},
			{Source: "traditional", Content: "never", Priority: 3, TokenEstimate: 1},
		}
		out := Assemble(blocks, 100)

		// 80 tokens remain, so 320 characters of the long block are kept
		expected := "[SYSTEM] head [NEURAL] " + strings.Repeat("a", 320) + "... [truncated]"
		assert.Equal(t, expected, out)
		assert.NotContains(t, out, "never")
	})

	t.Run("small remainder is dropped", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "system", Content: "head", Priority: 1, TokenEstimate: 50},
			{Source: "neural", Content: strings.Repeat("b", 400), Priority: 2, TokenEstimate: 100},
			{Source: "traditional", Content: "tail", Priority: 3, TokenEstimate: 1},
		}
		out := Assemble(blocks, 100)
		assert.Equal(t, "[SYSTEM] head", out)
	})

	t.Run("remainder at floor is dropped", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "system", Content: "head", Priority: 1, TokenEstimate: 100 - MinUsefulTokens},
			{Source: "neural", Content: "big", Priority: 2, TokenEstimate: 100},
		}
		assert.Equal(t, "[SYSTEM] head", Assemble(blocks, 100))
	})

	t.Run("first block larger than budget", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "neural", Content: strings.Repeat("c", 2000), Priority: 1, TokenEstimate: 500},
		}
		out := Assemble(blocks, 60)
		assert.Equal(t, "[NEURAL] "+strings.Repeat("c", 240)+"... [truncated]", out)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		blocks := []ContextBlock{
			{Source: "b", Content: "2", Priority: 2, TokenEstimate: 1},
			{Source: "a", Content: "1", Priority: 1, TokenEstimate: 1},
		}
		Assemble(blocks, 100)
		assert.Equal(t, "b", blocks[0].Source)
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "", truncateRunes("héllo", 0))
}

func TestAssembler(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		a := New(0, nil)
		assert.Equal(t, DefaultMaxTokens, a.MaxTokens())
	})

	t.Run("blocks use estimator", func(t *testing.T) {
		a := New(100, nil)
		b := a.Block(SourceNeural, strings.Repeat("x", 40), 2)
		assert.Equal(t, 10, b.TokenEstimate)
		assert.Equal(t, 2, b.Priority)
	})

	t.Run("assemble uses budget", func(t *testing.T) {
		a := New(100, nil)
		out := a.Assemble([]ContextBlock{
			a.Block(SourceSystem, "You are helpful.", 1),
			a.Block(SourceNeural, "We chose SQLite for portability.", 2),
		})
		assert.Equal(t, "[SYSTEM] You are helpful. [NEURAL] We chose SQLite for portability.", out)
	})
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("z", 100)))
}

func TestNewEstimator(t *testing.T) {
	est, err := NewEstimator("", "")
	require.NoError(t, err)
	assert.IsType(t, HeuristicEstimator{}, est)

	est, err = NewEstimator("heuristic", "")
	require.NoError(t, err)
	assert.Equal(t, 2, est.Estimate("12345678"))

	_, err = NewEstimator("sentencepiece", "")
	assert.Error(t, err)
}
