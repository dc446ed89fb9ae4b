package model

import "github.com/prometheuslm/prometheus/internal/tensor"

// block is one residual layer: add-norm, mixer, and optionally a
// second add-norm plus gated MLP. hidden and residual are threaded
// through blocks pre-norm style.
type block struct {
	norm  *normLayer
	mixer mixer
	norm2 *normLayer
	mlp   *gatedMLP
	fused bool
}

func newBlock(cfg *Config, layerIdx int) (*block, error) {
	kind, err := cfg.MixerKindForLayer(layerIdx)
	if err != nil {
		return nil, err
	}
	if cfg.FusedAddNorm && fusedAddNormFn == nil {
		return nil, ErrFusedNormUnavailable
	}
	bl := &block{
		norm:  newNormLayer(cfg.DModel, cfg.RMSNorm, cfg.NormEpsilon),
		fused: cfg.FusedAddNorm,
	}
	switch kind {
	case MixerMamba1:
		bl.mixer = newMamba1(cfg)
	case MixerMamba2:
		bl.mixer = newMamba2(cfg)
	case MixerAttention:
		bl.mixer = newAttention(cfg)
	}
	if cfg.DIntermediate > 0 {
		bl.norm2 = newNormLayer(cfg.DModel, cfg.RMSNorm, cfg.NormEpsilon)
		bl.mlp = newGatedMLP(cfg.DModel, cfg.DIntermediate)
	}
	return bl, nil
}

// addNorm performs residual += hidden, hidden = norm(residual).
func addNorm(fused bool, n *normLayer, hidden, residual []float32, resF64 []float64) {
	if fused {
		fusedAddNormFn(hidden, hidden, residual, resF64, n)
		return
	}
	if resF64 != nil {
		for i := range residual {
			resF64[i] += float64(hidden[i])
			residual[i] = float32(resF64[i])
		}
	} else {
		tensor.Add(residual, hidden)
	}
	n.apply(hidden, residual)
}

func (bl *block) forward(st mixerState, b, pos int, hidden, residual []float32, resF64 []float64) {
	addNorm(bl.fused, bl.norm, hidden, residual, resF64)
	bl.mixer.step(st, b, pos, hidden, hidden)
	if bl.mlp != nil {
		addNorm(bl.fused, bl.norm2, hidden, residual, resF64)
		bl.mlp.forward(hidden, hidden)
	}
}

func (bl *block) params(prefix string) []Param {
	ps := []Param{{Name: prefix + "norm.weight", Shape: []int{len(bl.norm.weight)}, Data: bl.norm.weight}}
	if bl.norm.bias != nil {
		ps = append(ps, Param{Name: prefix + "norm.bias", Shape: []int{len(bl.norm.bias)}, Data: bl.norm.bias})
	}
	ps = append(ps, bl.mixer.params(prefix+"mixer.")...)
	if bl.mlp != nil {
		ps = append(ps, Param{Name: prefix + "norm2.weight", Shape: []int{len(bl.norm2.weight)}, Data: bl.norm2.weight})
		if bl.norm2.bias != nil {
			ps = append(ps, Param{Name: prefix + "norm2.bias", Shape: []int{len(bl.norm2.bias)}, Data: bl.norm2.bias})
		}
		ps = append(ps,
			Param{Name: prefix + "mlp.fc1.weight", Shape: []int{bl.mlp.fc1.w.R, bl.mlp.fc1.w.C}, Data: bl.mlp.fc1.w.Data},
			Param{Name: prefix + "mlp.fc2.weight", Shape: []int{bl.mlp.fc2.w.R, bl.mlp.fc2.w.C}, Data: bl.mlp.fc2.w.Data},
		)
	}
	return ps
}
