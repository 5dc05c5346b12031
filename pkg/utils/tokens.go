package utils

import (
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/pkoukk/tiktoken-go"
)

var encoding = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	return tiktoken.EncodingForModel("gpt-4-0613")
})

// NumTokens counts tokens with the cl100k encoding.
func NumTokens(text string) (int, error) {
	tkm, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(tkm.Encode(text, nil, nil)), nil
}

// EstimateTokens counts tokens, falling back to a four-runes-per-token guess
// when the encoding tables cannot be loaded.
func EstimateTokens(text string) int {
	n, err := NumTokens(text)
	if err == nil {
		return n
	}
	warnOnce.Do(func() {
		log.Warn("token encoding unavailable, estimating from rune count", "error", err)
	})
	return (utf8.RuneCountInString(text) + 3) / 4
}

var warnOnce sync.Once
