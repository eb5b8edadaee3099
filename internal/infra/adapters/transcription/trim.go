package transcription

import (
	"github.com/pkoukk/tiktoken-go"
)

// Trimmer caps transcript length in tokens before it is sent for summary.
// Without an encoding it falls back to a rune budget of four runes per token.
type Trimmer struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

func NewTrimmer(encoding string, maxTokens int) *Trimmer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc = nil
	}
	return &Trimmer{enc: enc, maxTokens: maxTokens}
}

func (t *Trimmer) Count(s string) int {
	if t.enc == nil {
		return (len([]rune(s)) + 3) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}

func (t *Trimmer) Trim(s string) string {
	if t == nil || t.maxTokens <= 0 {
		return s
	}
	if t.enc == nil {
		r := []rune(s)
		if limit := t.maxTokens * 4; len(r) > limit {
			return string(r[:limit])
		}
		return s
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= t.maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:t.maxTokens])
}
