package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/bpe"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/sugarme/tokenizer/processor"
)

// Special tokens reserved before any BPE merge. Their order fixes
// their ids: the trainer assigns them the first vocabulary slots.
const (
	UnkToken   = "[UNK]"
	PadToken   = "[PAD]"
	MaskToken  = "[MASK]"
	StartToken = "[START]"
	EndToken   = "[END]"
	SNPToken   = "[SNP]"
	InsToken   = "[INS]"
	DelToken   = "[DEL]"
)

// SpecialTokens returns the reserved tokens in id order.
func SpecialTokens() []string {
	return []string{UnkToken, PadToken, MaskToken, StartToken, EndToken, SNPToken, InsToken, DelToken}
}

// ErrNotTrained is returned when a Genome is used before TrainGenome
// or LoadGenome produced it.
var ErrNotTrained = errors.New("tokenizer not trained")

// Genome is a trainable BPE tokenizer over nucleotide sequences.
// Encoded output is framed as [START] ... [END] by a template
// post-processor.
type Genome struct {
	tk *tk.Tokenizer
}

// TrainGenome learns a BPE vocabulary of size vocabSize from the given
// sequences. vocabSize includes the reserved special tokens.
func TrainGenome(sequences []string, vocabSize int) (*Genome, error) {
	if len(sequences) == 0 {
		return nil, fmt.Errorf("no training sequences provided")
	}
	if vocabSize <= len(SpecialTokens()) {
		return nil, fmt.Errorf("vocab size %d too small: need more than %d reserved tokens",
			vocabSize, len(SpecialTokens()))
	}

	corpus, err := writeCorpus(sequences)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(filepath.Dir(corpus)) }()

	model, err := bpe.DefaultBPE()
	if err != nil {
		return nil, fmt.Errorf("init BPE model: %w", err)
	}
	t := tk.NewTokenizer(model)
	t.WithPreTokenizer(pretokenizer.NewWhitespaceSplit())

	tr := bpe.NewBpeTrainer(0, vocabSize)
	specials := make([]tk.AddedToken, 0, len(SpecialTokens()))
	for _, s := range SpecialTokens() {
		specials = append(specials, tk.NewAddedToken(s, true))
	}
	tr.SpecialTokens = specials

	if err := t.Train(tr, []string{corpus}); err != nil {
		return nil, fmt.Errorf("train tokenizer: %w", err)
	}

	g := &Genome{tk: t}
	if err := g.installTemplate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGenome reads a tokenizer saved by Save.
func LoadGenome(path string) (*Genome, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer file %s: %w", path, err)
	}
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	g := &Genome{tk: t}
	if err := g.installTemplate(); err != nil {
		return nil, err
	}
	return g, nil
}

// installTemplate wires the [START] $A [END] framing using the ids the
// trained vocabulary actually assigned to the markers.
func (g *Genome) installTemplate() error {
	startID, err := g.TokenID(StartToken)
	if err != nil {
		return err
	}
	endID, err := g.TokenID(EndToken)
	if err != nil {
		return err
	}
	single, err := processor.NewTemplateFromOne(fmt.Sprintf("%s $A %s", StartToken, EndToken))
	if err != nil {
		return err
	}
	pair, err := processor.NewTemplateFromOne("$A")
	if err != nil {
		return err
	}
	toks := processor.NewTokensFrom([]processor.SpecialToken{
		*processor.NewSpecialTokenFrom(StartToken, startID),
		*processor.NewSpecialTokenFrom(EndToken, endID),
	})
	g.tk.WithPostProcessor(processor.NewTemplateProcessing(single, pair, toks))
	return nil
}

// TokenID resolves a token string to its vocabulary id.
func (g *Genome) TokenID(token string) (int, error) {
	if g == nil || g.tk == nil {
		return 0, ErrNotTrained
	}
	vocab := g.tk.GetVocab(true)
	id, ok := vocab[token]
	if !ok {
		return 0, fmt.Errorf("token %q not in vocabulary", token)
	}
	return id, nil
}

// VocabSize returns the vocabulary size including special tokens.
func (g *Genome) VocabSize() int {
	if g == nil || g.tk == nil {
		return 0
	}
	return len(g.tk.GetVocab(true))
}

// Encoding is the result of tokenizing one sequence: parallel token
// strings and vocabulary ids, both bracketed by the framing markers.
type Encoding struct {
	Tokens []string
	IDs    []int
}

// Tokenize encodes one sequence, including the [START]/[END] framing.
// An empty sequence encodes to the markers alone.
func (g *Genome) Tokenize(sequence string) (Encoding, error) {
	if g == nil || g.tk == nil {
		return Encoding{}, ErrNotTrained
	}
	enc, err := g.tk.EncodeSingle(sequence, true)
	if err != nil {
		return Encoding{}, fmt.Errorf("encode sequence: %w", err)
	}
	out := Encoding{
		Tokens: make([]string, len(enc.Tokens)),
		IDs:    make([]int, len(enc.Ids)),
	}
	copy(out.Tokens, enc.Tokens)
	copy(out.IDs, enc.Ids)
	return out, nil
}

// TokenizeBatch encodes each sequence independently.
func (g *Genome) TokenizeBatch(sequences []string) ([]Encoding, error) {
	if len(sequences) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	out := make([]Encoding, len(sequences))
	for i, s := range sequences {
		enc, err := g.Tokenize(s)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// Detokenize reconstructs a sequence from ids. Special tokens are
// dropped when skipSpecial is set.
func (g *Genome) Detokenize(ids []int, skipSpecial bool) (string, error) {
	if g == nil || g.tk == nil {
		return "", ErrNotTrained
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("empty id list")
	}
	return g.tk.Decode(ids, skipSpecial), nil
}

// DetokenizeBatch reconstructs every id list independently.
func (g *Genome) DetokenizeBatch(batch [][]int, skipSpecial bool) ([]string, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	out := make([]string, len(batch))
	for i, ids := range batch {
		s, err := g.Detokenize(ids, skipSpecial)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// Save writes the tokenizer to path in the tokenizer.json format.
func (g *Genome) Save(path string) error {
	if g == nil || g.tk == nil {
		return ErrNotTrained
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return g.tk.Save(path, false)
}

// writeCorpus puts one sequence per line in a temp file for the
// trainer, which reads corpora from disk.
func writeCorpus(sequences []string) (string, error) {
	dir, err := os.MkdirTemp("", "genome-corpus-")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "corpus.txt")
	f, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	for _, s := range sequences {
		if s == "" {
			_ = f.Close()
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("empty sequence in training data")
		}
		if _, err := fmt.Fprintln(f, s); err != nil {
			_ = f.Close()
			_ = os.RemoveAll(dir)
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}
