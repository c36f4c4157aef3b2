package internal

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 50
)

type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunker splits text into windows of Size tokens, each sharing Overlap tokens
// with the previous one.
type Chunker struct {
	tokenizer Tokenizer
	size      int
	overlap   int
}

type Option func(*Chunker)

func WithTokenizer(t Tokenizer) Option {
	return func(c *Chunker) { c.tokenizer = t }
}

func NewChunker(size, overlap int, opts ...Option) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	c := &Chunker{size: size, overlap: overlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokenizer == nil {
		t, err := NewTiktoken()
		if err != nil {
			return nil, err
		}
		c.tokenizer = t
	}
	return c, nil
}

func (c *Chunker) Split(text string) []string {
	tokens := c.tokenizer.Encode(text)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	offsets, exact := c.byteOffsets(text, tokens)
	step := c.size - c.overlap

	var chunks []string
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		if exact {
			lo, hi := alignRune(text, offsets[start]), alignRune(text, offsets[end])
			if hi > lo {
				chunks = append(chunks, text[lo:hi])
			}
		} else {
			chunks = append(chunks, c.tokenizer.Decode(tokens[start:end]))
		}
		if end == n {
			break
		}
	}
	return chunks
}

// byteOffsets maps token i to its starting byte in text. It reports false when
// the tokens do not decode back to text byte for byte.
func (c *Chunker) byteOffsets(text string, tokens []int) ([]int, bool) {
	offsets := make([]int, len(tokens)+1)
	for i, tok := range tokens {
		offsets[i+1] = offsets[i] + len(c.tokenizer.Decode([]int{tok}))
	}
	return offsets, offsets[len(tokens)] == len(text)
}

// alignRune moves b back to the start of the rune it points into.
func alignRune(text string, b int) int {
	for b > 0 && b < len(text) && !utf8.RuneStart(text[b]) {
		b--
	}
	return b
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
	tiktokenErr  error
)

// NewTiktoken returns the cl100k_base tokenizer.
func NewTiktoken() (Tokenizer, error) {
	tiktokenOnce.Do(func() {
		tiktokenEnc, tiktokenErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tiktokenErr != nil {
		return nil, fmt.Errorf("load cl100k_base: %w", tiktokenErr)
	}
	return tiktokenTokenizer{enc: tiktokenEnc}, nil
}

func (t tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
