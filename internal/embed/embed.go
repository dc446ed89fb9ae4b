// Package embed turns raw text or genomic sequences into dense
// (batch, max_len, dim) tensors: tokenize, right-pad to the longest
// row, then look up an embedding table owned by the embedder.
package embed

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prometheuslm/prometheus/internal/tensor"
	"github.com/prometheuslm/prometheus/internal/tokenizer"
)

// TextEmbedder embeds natural-language text with a pretrained tiktoken
// encoding. The table is drawn once at construction and reused for
// every call.
type TextEmbedder struct {
	tok   *tokenizer.Text
	table tensor.Mat
	padID int
}

// NewTextEmbedder builds an embedder with the given output dimension.
// encoding may be empty for the default. dim must be positive.
func NewTextEmbedder(encoding string, dim int, seed uint64) (*TextEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim must be positive, got %d", dim)
	}
	tok, err := tokenizer.NewText(encoding)
	if err != nil {
		return nil, err
	}
	e := &TextEmbedder{tok: tok}
	e.table = newTable(vocabSizeFor(tok.Encoding()), dim, seed)
	return e, nil
}

// Dim returns the embedding dimension.
func (e *TextEmbedder) Dim() int { return e.table.C }

// EmbedText returns a (len(texts), maxLen, dim) tensor. Shorter rows
// are right-padded; padded positions hold the pad embedding.
func (e *TextEmbedder) EmbedText(texts []string) (*tensor.Tensor, error) {
	ids, err := e.tok.TokenizeBatch(texts)
	if err != nil {
		return nil, err
	}
	return lookup(&e.table, ids, e.padID)
}

// GenomeEmbedder embeds nucleotide sequences with a trained genome
// tokenizer. Padded positions hold the [PAD] embedding.
type GenomeEmbedder struct {
	tok   *tokenizer.Genome
	table tensor.Mat
	padID int
}

func NewGenomeEmbedder(tok *tokenizer.Genome, dim int, seed uint64) (*GenomeEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim must be positive, got %d", dim)
	}
	if tok == nil {
		return nil, fmt.Errorf("nil genome tokenizer")
	}
	padID, err := tok.TokenID(tokenizer.PadToken)
	if err != nil {
		return nil, err
	}
	return &GenomeEmbedder{
		tok:   tok,
		table: newTable(tok.VocabSize(), dim, seed),
		padID: padID,
	}, nil
}

func (e *GenomeEmbedder) Dim() int { return e.table.C }

// EmbedGenomic returns a (len(seqs), maxLen, dim) tensor over the
// framed token ids of each sequence.
func (e *GenomeEmbedder) EmbedGenomic(seqs []string) (*tensor.Tensor, error) {
	encs, err := e.tok.TokenizeBatch(seqs)
	if err != nil {
		return nil, err
	}
	ids := make([][]int, len(encs))
	for i, enc := range encs {
		ids[i] = enc.IDs
	}
	return lookup(&e.table, ids, e.padID)
}

func newTable(vocab, dim int, seed uint64) tensor.Mat {
	table := tensor.NewMat(vocab, dim)
	rng := rand.New(rand.NewSource(seed))
	n := distuv.Normal{Mu: 0, Sigma: 0.02, Src: rng}
	for i := range table.Data {
		table.Data[i] = float32(n.Rand())
	}
	return table
}

// lookup right-pads the id rows to the longest one and gathers rows of
// the table into a rank-3 tensor.
func lookup(table *tensor.Mat, ids [][]int, padID int) (*tensor.Tensor, error) {
	maxLen := 0
	for _, row := range ids {
		if len(row) > maxLen {
			maxLen = len(row)
		}
	}
	out := tensor.New(len(ids), maxLen, table.C)
	for b, row := range ids {
		for t := 0; t < maxLen; t++ {
			id := padID
			if t < len(row) {
				id = row[t]
			}
			if id < 0 || id >= table.R {
				return nil, fmt.Errorf("row %d: token id %d outside table of %d rows", b, id, table.R)
			}
			table.RowTo(out.At3(b, t), id)
		}
	}
	return out, nil
}

// vocabSizeFor returns the table size for a tiktoken encoding. The Go
// tiktoken does not expose n_vocab, so the known sizes are pinned.
func vocabSizeFor(encoding string) int {
	switch encoding {
	case "o200k_base":
		return 200019
	case "cl100k_base":
		return 100277
	default:
		return 256 * 1024
	}
}
