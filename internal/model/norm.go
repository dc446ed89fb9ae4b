package model

import (
	"errors"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// ErrFusedNormUnavailable is returned when a config requests fused
// add-norm but no fused routine is registered in this build.
var ErrFusedNormUnavailable = errors.New("fused add-norm requested but not available")

// fusedAddNormFn, when non-nil, computes residual += hidden followed by
// dst = norm(residual) in a single pass. norm_fused.go registers the
// portable implementation. resF64 is the float64 shadow of the residual
// stream and may be nil.
var fusedAddNormFn func(dst, hidden, residual []float32, resF64 []float64, n *normLayer)

type normLayer struct {
	weight []float32
	bias   []float32 // nil for RMSNorm
	eps    float32
	rms    bool
}

func newNormLayer(dim int, rms bool, eps float64) *normLayer {
	n := &normLayer{
		weight: make([]float32, dim),
		eps:    float32(eps),
		rms:    rms,
	}
	for i := range n.weight {
		n.weight[i] = 1
	}
	if !rms {
		n.bias = make([]float32, dim)
	}
	return n
}

func (n *normLayer) apply(dst, src []float32) {
	if n.rms {
		tensor.RMSNorm(dst, src, n.weight, n.eps)
	} else {
		tensor.LayerNorm(dst, src, n.weight, n.bias, n.eps)
	}
}
