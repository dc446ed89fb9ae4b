package model

import (
	"fmt"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// MixerModel is the backbone: token embedding, a stack of mixer
// blocks, and a final normalization. The embedding table is sized to
// the padded vocabulary.
type MixerModel struct {
	cfg       Config
	embedding tensor.Mat // [padded_vocab, d_model]
	blocks    []*block
	normF     *normLayer
	fused     bool
}

func NewMixerModel(cfg Config) (*MixerModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &MixerModel{
		cfg:       cfg,
		embedding: tensor.NewMat(cfg.PaddedVocabSize(), cfg.DModel),
		blocks:    make([]*block, cfg.NLayer),
		normF:     newNormLayer(cfg.DModel, cfg.RMSNorm, cfg.NormEpsilon),
		fused:     cfg.FusedAddNorm,
	}
	for i := 0; i < cfg.NLayer; i++ {
		bl, err := newBlock(&cfg, i)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.blocks[i] = bl
	}
	return m, nil
}

// stepToken runs one token through every block for batch row b. hidden
// must hold the token embedding on entry and holds the final
// normalized hidden state on return.
func (m *MixerModel) stepToken(cache *InferenceCache, b, pos int, hidden, residual []float32, resF64 []float64) {
	for i, bl := range m.blocks {
		bl.forward(cache.layers[i], b, pos, hidden, residual, resF64)
	}
	addNorm(m.fused, m.normF, hidden, residual, resF64)
}

func (m *MixerModel) embed(dst []float32, token int) error {
	if token < 0 || token >= m.embedding.R {
		return fmt.Errorf("token id %d out of range [0, %d)", token, m.embedding.R)
	}
	m.embedding.RowTo(dst, token)
	return nil
}

func (m *MixerModel) allocateCache(batch, maxSeqlen int) *InferenceCache {
	layers := make([]mixerState, len(m.blocks))
	for i, bl := range m.blocks {
		layers[i] = bl.mixer.newState(batch, maxSeqlen)
	}
	return &InferenceCache{
		MaxBatch:  batch,
		MaxSeqlen: maxSeqlen,
		layers:    layers,
	}
}

func (m *MixerModel) params() []Param {
	ps := []Param{{
		Name:  "backbone.embedding.weight",
		Shape: []int{m.embedding.R, m.embedding.C},
		Data:  m.embedding.Data,
	}}
	for i, bl := range m.blocks {
		ps = append(ps, bl.params(fmt.Sprintf("backbone.layers.%d.", i))...)
	}
	ps = append(ps, Param{Name: "backbone.norm_f.weight", Shape: []int{len(m.normF.weight)}, Data: m.normF.weight})
	if m.normF.bias != nil {
		ps = append(ps, Param{Name: "backbone.norm_f.bias", Shape: []int{len(m.normF.bias)}, Data: m.normF.bias})
	}
	return ps
}
