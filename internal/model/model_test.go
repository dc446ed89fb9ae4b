package model

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func testConfig() Config {
	return Config{
		DModel:    16,
		NLayer:    2,
		VocabSize: 11,
		SSMCfg: SSMConfig{
			DState: 4,
			DConv:  2,
			Expand: 2,
			DtRank: 4,
		},
		RMSNorm:                true,
		FusedAddNorm:           true,
		ResidualInFP32:         true,
		NormEpsilon:            1e-5,
		PadVocabSizeMultiple:   4,
		TieEmbeddings:          true,
		InitializerRange:       0.02,
		RescalePrenormResidual: true,
	}
}

func newTestModel(t *testing.T, cfg Config, seed uint64) *Model {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.InitWeights(seed)
	return m
}

func TestVocabPadding(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	if got := cfg.PaddedVocabSize(); got != 12 {
		t.Fatalf("PaddedVocabSize() = %d, want 12", got)
	}
	m := newTestModel(t, cfg, 1)
	if m.Backbone.embedding.R != 12 {
		t.Errorf("embedding rows = %d, want 12", m.Backbone.embedding.R)
	}
	if m.lmHead.R != 12 {
		t.Errorf("lm_head rows = %d, want 12", m.lmHead.R)
	}

	cfg.VocabSize = 12
	if got := cfg.PaddedVocabSize(); got != 12 {
		t.Errorf("already-aligned vocab padded to %d, want 12", got)
	}
}

func TestTiedEmbeddingSharesStorage(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, testConfig(), 1)
	if !m.Tied() {
		t.Fatal("model should be tied")
	}
	m.Backbone.embedding.Data[0] = 123.5
	if m.lmHead.Data[0] != 123.5 {
		t.Fatal("lm_head does not share the embedding's backing array")
	}
	for _, name := range m.ParamNames() {
		if name == "lm_head.weight" {
			t.Fatal("tied lm_head must not appear in checkpoint params")
		}
	}
}

func TestUntiedEmbedding(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TieEmbeddings = false
	m := newTestModel(t, cfg, 1)
	m.Backbone.embedding.Data[0] = 123.5
	if m.lmHead.Data[0] == 123.5 {
		t.Fatal("untied lm_head shares storage with the embedding")
	}
	found := false
	for _, name := range m.ParamNames() {
		if name == "lm_head.weight" {
			found = true
		}
	}
	if !found {
		t.Fatal("untied lm_head missing from checkpoint params")
	}
}

func TestInvalidSSMLayer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SSMCfg.Layer = "Mamba3"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid ssm_cfg.layer")
	} else if !strings.Contains(err.Error(), "Mamba3") {
		t.Errorf("error should name the offending value, got: %v", err)
	}
}

func TestFusedNormUnavailable(t *testing.T) {
	saved := fusedAddNormFn
	fusedAddNormFn = nil
	defer func() { fusedAddNormFn = saved }()

	_, err := New(testConfig())
	if !errors.Is(err, ErrFusedNormUnavailable) {
		t.Fatalf("expected ErrFusedNormUnavailable, got %v", err)
	}

	cfg := testConfig()
	cfg.FusedAddNorm = false
	if _, err := New(cfg); err != nil {
		t.Fatalf("unfused construction should succeed: %v", err)
	}
}

func TestForwardShapes(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, testConfig(), 2)
	ids := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}

	logits, err := m.Forward(ids, 0, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	wantShape := []int{2, 4, 12}
	for i, d := range wantShape {
		if logits.Dim(i) != d {
			t.Fatalf("logits shape[%d] = %d, want %d", i, logits.Dim(i), d)
		}
	}

	last, err := m.Forward(ids, 1, nil)
	if err != nil {
		t.Fatalf("Forward numLastTokens=1: %v", err)
	}
	if last.Dim(1) != 1 {
		t.Fatalf("numLastTokens=1 kept %d positions", last.Dim(1))
	}
	// the single kept position must equal the final position of the full pass
	for b := 0; b < 2; b++ {
		full := logits.At3(b, 3)
		got := last.At3(b, 0)
		for i := range got {
			if got[i] != full[i] {
				t.Fatalf("row %d logit %d: %v != %v", b, i, got[i], full[i])
			}
		}
	}
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, testConfig(), 2)
	if _, err := m.Forward(nil, 0, nil); err == nil {
		t.Error("empty batch should error")
	}
	if _, err := m.Forward([][]int{{}}, 0, nil); err == nil {
		t.Error("empty sequence should error")
	}
	if _, err := m.Forward([][]int{{1, 2}, {1}}, 0, nil); err == nil {
		t.Error("ragged batch should error")
	}
	if _, err := m.Forward([][]int{{99}}, 0, nil); err == nil {
		t.Error("out-of-range token should error")
	}
	cache, err := m.AllocateInferenceCache(1, 2)
	if err != nil {
		t.Fatalf("AllocateInferenceCache: %v", err)
	}
	if _, err := m.Forward([][]int{{1, 2, 3}}, 0, cache); err == nil {
		t.Error("overflowing the cache should error")
	}
	if _, err := m.AllocateInferenceCache(0, 4); err == nil {
		t.Error("zero batch cache should error")
	}
}

func forwardVariants(t *testing.T, cfg Config) [][]float32 {
	t.Helper()
	m := newTestModel(t, cfg, 7)
	ids := [][]int{{3, 1, 4, 1, 5, 9}}
	logits, err := m.Forward(ids, 0, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	rows := make([][]float32, logits.Dim(1))
	for tIdx := range rows {
		rows[tIdx] = append([]float32(nil), logits.At3(0, tIdx)...)
	}
	return rows
}

func TestFusedMatchesUnfused(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ResidualInFP32 = false
	fused := forwardVariants(t, cfg)
	cfg.FusedAddNorm = false
	unfused := forwardVariants(t, cfg)

	for tIdx := range fused {
		for i := range fused[tIdx] {
			diff := math.Abs(float64(fused[tIdx][i] - unfused[tIdx][i]))
			if diff > 1e-3 {
				t.Fatalf("pos %d logit %d: fused %v vs unfused %v", tIdx, i, fused[tIdx][i], unfused[tIdx][i])
			}
		}
	}
}

func TestLayerNormVariant(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RMSNorm = false
	m := newTestModel(t, cfg, 3)
	if _, err := m.Forward([][]int{{1, 2, 3}}, 1, nil); err != nil {
		t.Fatalf("Forward with LayerNorm: %v", err)
	}
}

func stepwiseMatchesFull(t *testing.T, cfg Config) {
	t.Helper()
	m := newTestModel(t, cfg, 11)
	ids := []int{2, 7, 1, 8, 2, 8}

	full, err := m.Forward([][]int{ids}, 0, nil)
	if err != nil {
		t.Fatalf("full Forward: %v", err)
	}

	cache, err := m.AllocateInferenceCache(1, len(ids))
	if err != nil {
		t.Fatalf("AllocateInferenceCache: %v", err)
	}
	for tIdx, tok := range ids {
		step, err := m.Forward([][]int{{tok}}, 1, cache)
		if err != nil {
			t.Fatalf("step %d: %v", tIdx, err)
		}
		if cache.SeqlenOffset != tIdx+1 {
			t.Fatalf("SeqlenOffset = %d after step %d", cache.SeqlenOffset, tIdx)
		}
		want := full.At3(0, tIdx)
		got := step.At3(0, 0)
		for i := range got {
			if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-4 {
				t.Fatalf("step %d logit %d: %v vs full %v", tIdx, i, got[i], want[i])
			}
		}
	}
}

func TestStepwiseMatchesFullMamba1(t *testing.T) {
	t.Parallel()
	stepwiseMatchesFull(t, testConfig())
}

func TestStepwiseMatchesFullMamba2(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SSMCfg.Layer = "Mamba2"
	cfg.SSMCfg.HeadDim = 8
	cfg.SSMCfg.NGroups = 2
	stepwiseMatchesFull(t, cfg)
}

func TestStepwiseMatchesFullHybrid(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AttnLayerIdx = []int{1}
	cfg.AttnCfg = AttnConfig{NumHeads: 4, RotaryEmbDim: 2}
	cfg.DIntermediate = 32
	stepwiseMatchesFull(t, cfg)
}

func TestCacheReset(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, testConfig(), 5)
	ids := [][]int{{1, 2, 3}}
	cache, err := m.AllocateInferenceCache(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	first, err := m.Forward(ids, 1, cache)
	if err != nil {
		t.Fatal(err)
	}
	cache.Reset()
	if cache.SeqlenOffset != 0 {
		t.Fatalf("SeqlenOffset = %d after Reset", cache.SeqlenOffset)
	}
	second, err := m.Forward(ids, 1, cache)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.At3(0, 0) {
		if first.At3(0, 0)[i] != second.At3(0, 0)[i] {
			t.Fatal("reset cache did not reproduce the first pass")
		}
	}
}

func TestInitScaling(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DModel = 32
	cfg.NLayer = 4
	m := newTestModel(t, cfg, 13)

	dInner := cfg.SSMCfg.Expand * cfg.DModel
	// kaiming-uniform bound 1/sqrt(fan_in), std = bound/sqrt(3),
	// rescaled by 1/sqrt(n_layer) with no MLP branch
	wantStd := kaimingBound(dInner) / math.Sqrt(3) / math.Sqrt(float64(cfg.NLayer))

	var samples []float64
	for _, p := range m.params() {
		if isOutputResidualProj(p.Name) {
			for _, v := range p.Data {
				samples = append(samples, float64(v))
			}
		}
	}
	if len(samples) < 1000 {
		t.Fatalf("too few out_proj samples: %d", len(samples))
	}
	got := stat.StdDev(samples, nil)
	if got < wantStd*0.9 || got > wantStd*1.1 {
		t.Fatalf("out_proj std = %v, want about %v", got, wantStd)
	}
}

func TestInitScalingWithMLP(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DModel = 32
	cfg.NLayer = 4
	cfg.DIntermediate = 64
	m := newTestModel(t, cfg, 13)

	// with an MLP branch each layer writes the residual twice
	wantStd := kaimingBound(cfg.DIntermediate) / math.Sqrt(3) / math.Sqrt(float64(2*cfg.NLayer))

	var samples []float64
	for _, p := range m.params() {
		if strings.HasSuffix(p.Name, "fc2.weight") {
			for _, v := range p.Data {
				samples = append(samples, float64(v))
			}
		}
	}
	got := stat.StdDev(samples, nil)
	if got < wantStd*0.9 || got > wantStd*1.1 {
		t.Fatalf("fc2 std = %v, want about %v", got, wantStd)
	}
}

func TestInitEmbeddingRange(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DModel = 64
	cfg.VocabSize = 128
	m := newTestModel(t, cfg, 17)

	samples := make([]float64, len(m.Backbone.embedding.Data))
	for i, v := range m.Backbone.embedding.Data {
		samples[i] = float64(v)
	}
	got := stat.StdDev(samples, nil)
	if got < 0.018 || got > 0.022 {
		t.Fatalf("embedding std = %v, want about 0.02", got)
	}
}

func TestDtBiasRange(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, testConfig(), 19)
	// validated config: Validate filled the dt bounds with their defaults
	dtMin, dtMax := m.Cfg.SSMCfg.DtMin, m.Cfg.SSMCfg.DtMax
	if dtMin <= 0 || dtMax <= dtMin {
		t.Fatalf("degenerate dt bounds [%v, %v]", dtMin, dtMax)
	}
	seen := 0
	for _, p := range m.params() {
		if !strings.HasSuffix(p.Name, "dt_proj.bias") {
			continue
		}
		seen++
		for i, v := range p.Data {
			dt := math.Log1p(math.Exp(float64(v)))
			if dt < dtMin*0.99 || dt > dtMax*1.01 {
				t.Fatalf("%s[%d]: softplus(bias) = %v outside [%v, %v]",
					p.Name, i, dt, dtMin, dtMax)
			}
		}
	}
	if seen == 0 {
		t.Fatal("no dt_proj.bias parameters found")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AttnLayerIdx = []int{1}
	cfg.AttnCfg = AttnConfig{NumHeads: 4, RotaryEmbDim: 2}
	m := newTestModel(t, cfg, 23)

	dir := t.TempDir()
	if err := m.SavePretrained(dir); err != nil {
		t.Fatalf("SavePretrained: %v", err)
	}
	loaded, err := FromPretrained(dir)
	if err != nil {
		t.Fatalf("FromPretrained: %v", err)
	}
	if loaded.NumParameters() != m.NumParameters() {
		t.Fatalf("parameter count %d != %d", loaded.NumParameters(), m.NumParameters())
	}

	ids := [][]int{{1, 2, 3, 4}}
	want, err := m.Forward(ids, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Forward(ids, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want.At3(0, 0) {
		if want.At3(0, 0)[i] != got.At3(0, 0)[i] {
			t.Fatalf("logit %d differs after reload", i)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.SSMCfg.DtRank != 160 {
		t.Errorf("dt_rank = %d, want ceil(2560/16) = 160", cfg.SSMCfg.DtRank)
	}
	if got := cfg.PaddedVocabSize(); got != 50280 {
		t.Errorf("padded vocab = %d, want 50280", got)
	}

	cfg = Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("zero config should fail validation")
	}
}
