package contextstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokensLatin(t *testing.T) {
	// 8 chars -> ceil(8/4) = 2
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	// 9 chars -> ceil(9/4) = 3
	assert.Equal(t, 3, EstimateTokens("abcdefghi"))
}

func TestEstimateTokensJapaneseMajority(t *testing.T) {
	// Mostly hiragana/kanji: denser divisor of 2.
	text := strings.Repeat("こんにちは", 4) // 20 runes, all Japanese
	assert.Equal(t, 10, EstimateTokens(text))
}

func TestEstimateTokensMixedBelowThreshold(t *testing.T) {
	// 2 Japanese runes out of 10 total -> ratio 0.2, stays at divisor 4.
	text := "abcdefgh" + "こん"
	assert.Equal(t, ceilDiv(10, 4), EstimateTokens(text))
}
