package tokenizer

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

var trainingSequences = []string{
	"ATGCGTACGTTT",
	"GGGGATCTCGATAATGCGGG",
	"ATGATGATGATG",
	"CCCCGGGGAAAATTTT",
	"ACGTACGTACGTACGT",
}

func trainedGenome(t *testing.T, vocabSize int) *Genome {
	t.Helper()
	g, err := TrainGenome(trainingSequences, vocabSize)
	if err != nil {
		t.Fatalf("TrainGenome: %v", err)
	}
	return g
}

func TestTrainRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	if _, err := TrainGenome(nil, 50); err == nil {
		t.Error("nil sequence list should error")
	}
	if _, err := TrainGenome([]string{"ATGC", ""}, 50); err == nil {
		t.Error("empty sequence in training data should error")
	}
	if _, err := TrainGenome([]string{"ATGC"}, 4); err == nil {
		t.Error("vocab smaller than the reserved tokens should error")
	}
}

func TestSpecialTokenIDs(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	for want, token := range SpecialTokens() {
		id, err := g.TokenID(token)
		if err != nil {
			t.Fatalf("TokenID(%s): %v", token, err)
		}
		if id != want {
			t.Errorf("TokenID(%s) = %d, want %d", token, id, want)
		}
	}
	if _, err := g.TokenID("[BOGUS]"); err == nil {
		t.Error("unknown token should error")
	}
}

func TestTokenizeFraming(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	enc, err := g.Tokenize("ATGCGTACGTTT")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(enc.IDs) < 3 {
		t.Fatalf("too few ids: %v", enc.IDs)
	}
	if len(enc.Tokens) != len(enc.IDs) {
		t.Fatalf("tokens/ids length mismatch: %v vs %v", enc.Tokens, enc.IDs)
	}
	if enc.Tokens[0] != StartToken {
		t.Errorf("first token = %q, want %q", enc.Tokens[0], StartToken)
	}
	if enc.Tokens[len(enc.Tokens)-1] != EndToken {
		t.Errorf("last token = %q, want %q", enc.Tokens[len(enc.Tokens)-1], EndToken)
	}
	start, _ := g.TokenID(StartToken)
	end, _ := g.TokenID(EndToken)
	if enc.IDs[0] != start {
		t.Errorf("first id = %d, want [START] id %d", enc.IDs[0], start)
	}
	if enc.IDs[len(enc.IDs)-1] != end {
		t.Errorf("last id = %d, want [END] id %d", enc.IDs[len(enc.IDs)-1], end)
	}
	for _, id := range enc.IDs {
		if id < 0 || id >= g.VocabSize() {
			t.Errorf("id %d outside vocab bound %d", id, g.VocabSize())
		}
	}
}

func TestTokenizeEmptySequence(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	enc, err := g.Tokenize("")
	if err != nil {
		t.Fatalf("Tokenize(\"\"): %v", err)
	}
	if len(enc.Tokens) != 2 || enc.Tokens[0] != StartToken || enc.Tokens[1] != EndToken {
		t.Fatalf("empty sequence tokens = %v, want [%s %s]", enc.Tokens, StartToken, EndToken)
	}
	start, _ := g.TokenID(StartToken)
	end, _ := g.TokenID(EndToken)
	if len(enc.IDs) != 2 || enc.IDs[0] != start || enc.IDs[1] != end {
		t.Fatalf("empty sequence ids = %v, want [%d %d]", enc.IDs, start, end)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	for _, seq := range trainingSequences {
		enc, err := g.Tokenize(seq)
		if err != nil {
			t.Fatalf("Tokenize(%s): %v", seq, err)
		}
		got, err := g.Detokenize(enc.IDs, true)
		if err != nil {
			t.Fatalf("Detokenize: %v", err)
		}
		if strings.ReplaceAll(got, " ", "") != seq {
			t.Errorf("round trip of %s gave %q", seq, got)
		}
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	a, err := g.Tokenize("GGGGATCTCGATAATGCGGG")
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Tokenize("GGGGATCTCGATAATGCGGG")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.IDs) != len(b.IDs) {
		t.Fatalf("lengths differ: %d vs %d", len(a.IDs), len(b.IDs))
	}
	for i := range a.IDs {
		if a.IDs[i] != b.IDs[i] {
			t.Fatalf("id %d differs: %d vs %d", i, a.IDs[i], b.IDs[i])
		}
		if a.Tokens[i] != b.Tokens[i] {
			t.Fatalf("token %d differs: %q vs %q", i, a.Tokens[i], b.Tokens[i])
		}
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	batch, err := g.TokenizeBatch(trainingSequences)
	if err != nil {
		t.Fatalf("TokenizeBatch: %v", err)
	}
	if len(batch) != len(trainingSequences) {
		t.Fatalf("batch rows = %d, want %d", len(batch), len(trainingSequences))
	}
	ids := make([][]int, len(batch))
	for i, seq := range trainingSequences {
		single, err := g.Tokenize(seq)
		if err != nil {
			t.Fatal(err)
		}
		if len(single.IDs) != len(batch[i].IDs) {
			t.Fatalf("row %d: batch %v vs single %v", i, batch[i].IDs, single.IDs)
		}
		for j := range single.IDs {
			if single.IDs[j] != batch[i].IDs[j] {
				t.Fatalf("row %d id %d: batch %d vs single %d", i, j, batch[i].IDs[j], single.IDs[j])
			}
		}
		ids[i] = batch[i].IDs
	}

	decoded, err := g.DetokenizeBatch(ids, true)
	if err != nil {
		t.Fatalf("DetokenizeBatch: %v", err)
	}
	if len(decoded) != len(ids) {
		t.Fatalf("decoded rows = %d, want %d", len(decoded), len(ids))
	}

	if _, err := g.TokenizeBatch(nil); err == nil {
		t.Error("empty batch should error")
	}
	if _, err := g.DetokenizeBatch(nil, true); err == nil {
		t.Error("empty detokenize batch should error")
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadGenome(path)
	if err != nil {
		t.Fatalf("LoadGenome: %v", err)
	}
	if loaded.VocabSize() != g.VocabSize() {
		t.Fatalf("vocab size %d != %d after reload", loaded.VocabSize(), g.VocabSize())
	}
	want, err := g.Tokenize("ACGTACGT")
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Tokenize("ACGTACGT")
	if err != nil {
		t.Fatal(err)
	}
	if len(want.IDs) != len(got.IDs) {
		t.Fatalf("encoding differs after reload: %v vs %v", got.IDs, want.IDs)
	}
	for i := range want.IDs {
		if want.IDs[i] != got.IDs[i] {
			t.Fatalf("id %d differs after reload: %d vs %d", i, got.IDs[i], want.IDs[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadGenome(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing tokenizer file should error")
	}
}

func TestUntrainedTokenizer(t *testing.T) {
	var g Genome
	if _, err := g.Tokenize("ACGT"); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("Tokenize error = %v, want ErrNotTrained", err)
	}
	if _, err := g.Detokenize([]int{3, 4}, true); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("Detokenize error = %v, want ErrNotTrained", err)
	}
	if err := g.Save(filepath.Join(t.TempDir(), "tok.json")); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("Save error = %v, want ErrNotTrained", err)
	}
}

func TestEmptyInputs(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t, 50)
	if _, err := g.Detokenize(nil, true); err == nil {
		t.Error("empty id list should error")
	}
}
