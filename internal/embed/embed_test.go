package embed

import (
	"testing"

	"github.com/prometheuslm/prometheus/internal/tokenizer"
)

func trainedGenome(t *testing.T) *tokenizer.Genome {
	t.Helper()
	g, err := tokenizer.TrainGenome([]string{
		"ATGCGTACGTTT",
		"GGGGATCTCGATAATGCGGG",
		"ACGTACGTACGT",
	}, 50)
	if err != nil {
		t.Fatalf("TrainGenome: %v", err)
	}
	return g
}

func TestGenomeEmbedderShape(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t)
	e, err := NewGenomeEmbedder(g, 8, 1)
	if err != nil {
		t.Fatalf("NewGenomeEmbedder: %v", err)
	}
	if e.Dim() != 8 {
		t.Fatalf("Dim() = %d", e.Dim())
	}

	seqs := []string{"ATGCGTACGTTT", "GGGGATCTCGATAATGCGGG"}
	out, err := e.EmbedGenomic(seqs)
	if err != nil {
		t.Fatalf("EmbedGenomic: %v", err)
	}
	if out.Dim(0) != 2 || out.Dim(2) != 8 {
		t.Fatalf("shape = [%d, %d, %d]", out.Dim(0), out.Dim(1), out.Dim(2))
	}

	// the shorter row's tail must be the [PAD] embedding
	encs, err := g.TokenizeBatch(seqs)
	if err != nil {
		t.Fatal(err)
	}
	short, long := 0, 1
	if len(encs[0].IDs) > len(encs[1].IDs) {
		short, long = 1, 0
	}
	if len(encs[short].IDs) == len(encs[long].IDs) {
		t.Skip("rows tokenized to equal length")
	}
	padID, err := g.TokenID(tokenizer.PadToken)
	if err != nil {
		t.Fatal(err)
	}
	padRow := e.table.Row(padID)
	tail := out.At3(short, out.Dim(1)-1)
	for i := range tail {
		if tail[i] != padRow[i] {
			t.Fatalf("padded position element %d = %v, want pad embedding %v", i, tail[i], padRow[i])
		}
	}
}

func TestGenomeEmbedderReusesTable(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t)
	e, err := NewGenomeEmbedder(g, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.EmbedGenomic([]string{"ATGC"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EmbedGenomic([]string{"ATGC"})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatal("repeated embedding of the same input differs")
		}
	}
}

func TestGenomeEmbedderValidation(t *testing.T) {
	t.Parallel()

	g := trainedGenome(t)
	if _, err := NewGenomeEmbedder(g, 0, 1); err == nil {
		t.Error("dim=0 should error")
	}
	if _, err := NewGenomeEmbedder(nil, 8, 1); err == nil {
		t.Error("nil tokenizer should error")
	}
	e, err := NewGenomeEmbedder(g, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EmbedGenomic(nil); err == nil {
		t.Error("empty batch should error")
	}
}

func TestTextEmbedder(t *testing.T) {
	t.Parallel()

	e, err := NewTextEmbedder("", 16, 3)
	if err != nil {
		t.Skipf("text encoding unavailable: %v", err)
	}
	out, err := e.EmbedText([]string{"hello world", "a much longer sentence than the first"})
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if out.Dim(0) != 2 || out.Dim(2) != 16 {
		t.Fatalf("shape = [%d, %d, %d]", out.Dim(0), out.Dim(1), out.Dim(2))
	}
	if _, err := NewTextEmbedder("", -1, 3); err == nil {
		t.Error("negative dim should error")
	}
}
