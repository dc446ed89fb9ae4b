package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheuslm/prometheus/internal/safetensors"
	"github.com/prometheuslm/prometheus/internal/tensor"
)

const (
	ConfigFileName  = "config.json"
	WeightsFileName = "model.safetensors"
)

// Model is a causal language model: mixer backbone plus LM head. When
// the config ties embeddings, the LM head shares the embedding table's
// backing storage.
type Model struct {
	Cfg      Config
	Backbone *MixerModel

	lmHead tensor.Mat // [padded_vocab, d_model]
	tied   bool

	scratch struct {
		hidden   []float32
		residual []float32
		resF64   []float64
	}
}

func New(cfg Config) (*Model, error) {
	backbone, err := NewMixerModel(cfg)
	if err != nil {
		return nil, err
	}
	cfg = backbone.cfg // validated, defaults filled
	m := &Model{
		Cfg:      cfg,
		Backbone: backbone,
		tied:     cfg.TieEmbeddings,
	}
	if m.tied {
		m.lmHead = tensor.NewMatFromData(backbone.embedding.R, backbone.embedding.C, backbone.embedding.Data)
	} else {
		m.lmHead = tensor.NewMat(cfg.PaddedVocabSize(), cfg.DModel)
	}
	m.scratch.hidden = make([]float32, cfg.DModel)
	m.scratch.residual = make([]float32, cfg.DModel)
	if cfg.ResidualInFP32 {
		m.scratch.resF64 = make([]float64, cfg.DModel)
	}
	return m, nil
}

// Tied reports whether the LM head shares storage with the embedding.
func (m *Model) Tied() bool { return m.tied }

// AllocateInferenceCache builds recurrent state for incremental
// decoding of up to batch sequences of maxSeqlen tokens.
func (m *Model) AllocateInferenceCache(batch, maxSeqlen int) (*InferenceCache, error) {
	if batch <= 0 || maxSeqlen <= 0 {
		return nil, fmt.Errorf("cache dimensions must be positive, got batch=%d max_seqlen=%d", batch, maxSeqlen)
	}
	return m.Backbone.allocateCache(batch, maxSeqlen), nil
}

// Forward runs ids (shape [batch][seqlen], all rows equal length)
// through the model and returns logits of shape
// [batch, numLastTokens, padded_vocab]. numLastTokens <= 0 keeps
// logits for every position. When cache is nil a throwaway cache is
// allocated; otherwise decoding resumes at cache.SeqlenOffset and the
// offset is advanced.
func (m *Model) Forward(ids [][]int, numLastTokens int, cache *InferenceCache) (*tensor.Tensor, error) {
	batch := len(ids)
	if batch == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	seqlen := len(ids[0])
	if seqlen == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	for b, row := range ids {
		if len(row) != seqlen {
			return nil, fmt.Errorf("ragged batch: row %d has %d tokens, expected %d", b, len(row), seqlen)
		}
	}

	if cache == nil {
		cache = m.Backbone.allocateCache(batch, seqlen)
	} else {
		if batch > cache.MaxBatch {
			return nil, fmt.Errorf("batch %d exceeds cache capacity %d", batch, cache.MaxBatch)
		}
		if cache.SeqlenOffset+seqlen > cache.MaxSeqlen {
			return nil, fmt.Errorf("sequence length %d exceeds cache capacity %d at offset %d",
				seqlen, cache.MaxSeqlen, cache.SeqlenOffset)
		}
	}

	if numLastTokens <= 0 || numLastTokens > seqlen {
		numLastTokens = seqlen
	}
	firstKept := seqlen - numLastTokens

	logits := tensor.New(batch, numLastTokens, m.lmHead.R)
	hidden := m.scratch.hidden
	residual := m.scratch.residual
	resF64 := m.scratch.resF64
	for b := 0; b < batch; b++ {
		for t := 0; t < seqlen; t++ {
			// The residual stream starts empty at every position; only
			// the mixer states carry information across time.
			clear(residual)
			if resF64 != nil {
				clear(resF64)
			}
			if err := m.Backbone.embed(hidden, ids[b][t]); err != nil {
				return nil, err
			}
			m.Backbone.stepToken(cache, b, cache.SeqlenOffset+t, hidden, residual, resF64)
			if t >= firstKept {
				tensor.MatVec(logits.At3(b, t-firstKept), &m.lmHead, hidden)
			}
		}
	}
	cache.SeqlenOffset += seqlen
	return logits, nil
}

func (m *Model) params() []Param {
	ps := m.Backbone.params()
	if !m.tied {
		ps = append(ps, Param{
			Name:  "lm_head.weight",
			Shape: []int{m.lmHead.R, m.lmHead.C},
			Data:  m.lmHead.Data,
		})
	}
	return ps
}

// SavePretrained writes config.json and model.safetensors into dir,
// creating it if needed. A tied LM head is not duplicated on disk.
func (m *Model) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := SaveConfig(filepath.Join(dir, ConfigFileName), m.Cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	ps := m.params()
	tensors := make([]safetensors.WriteTensor, len(ps))
	for i, p := range ps {
		tensors[i] = safetensors.WriteTensor{Name: p.Name, Shape: p.Shape, Data: p.Data}
	}
	if err := safetensors.Write(filepath.Join(dir, WeightsFileName), tensors); err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	return nil
}

// FromPretrained loads a model saved by SavePretrained. A bare name is
// resolved against the models directory via ResolveModelDir.
func FromPretrained(ref string) (*Model, error) {
	dir, err := ResolveModelDir(ref)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	st, err := safetensors.Open(filepath.Join(dir, WeightsFileName))
	if err != nil {
		return nil, err
	}
	loaded := make(map[string]bool, len(st.Tensors))
	for _, p := range m.params() {
		data, info, err := st.ReadTensorF32(p.Name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p.Name, err)
		}
		if len(data) != len(p.Data) {
			return nil, fmt.Errorf("load %s: got %d elements, expected %d (shape %v)",
				p.Name, len(data), len(p.Data), info.Shape)
		}
		copy(p.Data, data)
		loaded[p.Name] = true
	}
	for _, name := range st.Names() {
		if !loaded[name] && !(m.tied && name == "lm_head.weight") {
			return nil, fmt.Errorf("unexpected tensor in checkpoint: %s", name)
		}
	}
	return m, nil
}

// NumParameters returns the total parameter count, counting a tied LM
// head once.
func (m *Model) NumParameters() int {
	var n int
	for _, p := range m.params() {
		n += len(p.Data)
	}
	return n
}

// ParamNames lists checkpoint tensor names in save order.
func (m *Model) ParamNames() []string {
	ps := m.params()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

func isOutputResidualProj(name string) bool {
	return strings.HasSuffix(name, "out_proj.weight") || strings.HasSuffix(name, "fc2.weight")
}
