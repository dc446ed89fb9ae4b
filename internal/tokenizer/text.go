package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTextEncoding is the BPE used for natural-language text.
const DefaultTextEncoding = "o200k_base"

// Text tokenizes natural language with a pretrained tiktoken encoding.
// Unlike Genome it is not trainable.
type Text struct {
	enc  *tiktoken.Tiktoken
	name string
}

func NewText(encoding string) (*Text, error) {
	if encoding == "" {
		encoding = DefaultTextEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load text encoding %s: %w", encoding, err)
	}
	return &Text{enc: enc, name: encoding}, nil
}

// Encoding returns the encoding name.
func (t *Text) Encoding() string { return t.name }

func (t *Text) Tokenize(text string) ([]int, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	return t.enc.Encode(text, nil, nil), nil
}

func (t *Text) TokenizeBatch(texts []string) ([][]int, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	out := make([][]int, len(texts))
	for i, s := range texts {
		ids, err := t.Tokenize(s)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = ids
	}
	return out, nil
}

func (t *Text) Detokenize(ids []int) (string, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("empty id list")
	}
	return t.enc.Decode(ids), nil
}

// CountTokens returns the number of tokens text encodes to.
func (t *Text) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
