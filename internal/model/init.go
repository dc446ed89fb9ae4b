package model

import (
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// kaimingBound returns the half-width of the Kaiming-uniform
// distribution for a projection with the given fan-in.
func kaimingBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}

func uniformFill(rng *rand.Rand, dst []float32, bound float64) {
	u := distuv.Uniform{Min: -bound, Max: bound, Src: rng}
	for i := range dst {
		dst[i] = float32(u.Rand())
	}
}

// InitWeights applies the full initialization policy: per-mixer custom
// inits first, then the global pass that draws the embedding, zeroes
// projection biases, and rescales the residual-writing projections by
// the depth of the network.
func (m *Model) InitWeights(seed uint64) {
	rng := rand.New(rand.NewSource(seed))

	for _, bl := range m.Backbone.blocks {
		bl.mixer.initParams(rng)
		if bl.mlp != nil {
			uniformFill(rng, bl.mlp.fc1.w.Data, kaimingBound(bl.mlp.fc1.w.C))
			uniformFill(rng, bl.mlp.fc2.w.Data, kaimingBound(bl.mlp.fc2.w.C))
		}
	}
	if !m.tied {
		uniformFill(rng, m.lmHead.Data, kaimingBound(m.lmHead.C))
	}

	// Residual-writing projections get re-drawn and scaled so the
	// variance of the residual stream stays flat with depth. Each
	// layer writes the stream once per mixer and once per MLP.
	nResidualsPerLayer := 1
	if m.Cfg.DIntermediate > 0 {
		nResidualsPerLayer = 2
	}
	scale := float32(1 / math.Sqrt(float64(nResidualsPerLayer*m.Cfg.NLayer)))

	normal := distuv.Normal{Mu: 0, Sigma: m.Cfg.InitializerRange, Src: rng}
	for _, p := range m.params() {
		switch {
		case p.Name == "backbone.embedding.weight":
			for i := range p.Data {
				p.Data[i] = float32(normal.Rand())
			}
		case strings.HasSuffix(p.Name, ".bias"):
			if !p.NoReinit {
				clear(p.Data)
			}
		case m.Cfg.RescalePrenormResidual && isOutputResidualProj(p.Name):
			fanIn := 1
			for _, d := range p.Shape[1:] {
				fanIn *= d
			}
			uniformFill(rng, p.Data, kaimingBound(fanIn))
			tensor.Scale(p.Data, scale)
		}
	}
}
