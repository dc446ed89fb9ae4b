package model

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// attention is a causal multi-head attention mixer with grouped KV
// heads and optional partial rotary embeddings.
type attention struct {
	dModel    int
	nHeads    int
	nHeadsKV  int
	headDim   int
	rotaryDim int
	ropeBase  float64
	scale     float32

	inProj  linear // [(n_heads + 2*n_heads_kv)*head_dim, d_model]
	outProj linear // [d_model, n_heads*head_dim]

	scratch struct {
		qkv    []float32
		attn   []float32
		scores []float32
	}
}

type attentionState struct {
	k []float32 // [batch, max_seqlen, n_heads_kv*head_dim]
	v []float32

	kvDim     int
	maxSeqlen int
}

func (s *attentionState) reset() {
	clear(s.k)
	clear(s.v)
}

func newAttention(cfg *Config) *attention {
	a := cfg.AttnCfg
	qDim := a.NumHeads * a.HeadDim
	kvDim := a.NumHeadsKV * a.HeadDim
	m := &attention{
		dModel:    cfg.DModel,
		nHeads:    a.NumHeads,
		nHeadsKV:  a.NumHeadsKV,
		headDim:   a.HeadDim,
		rotaryDim: a.RotaryEmbDim,
		ropeBase:  a.RotaryEmbBase,
		scale:     float32(1 / math.Sqrt(float64(a.HeadDim))),
		inProj:    newLinear(qDim+2*kvDim, cfg.DModel, a.QKVProjBias),
		outProj:   newLinear(cfg.DModel, qDim, a.OutProjBias),
	}
	m.scratch.qkv = make([]float32, qDim+2*kvDim)
	m.scratch.attn = make([]float32, qDim)
	return m
}

func (m *attention) newState(batch, maxSeqlen int) mixerState {
	kvDim := m.nHeadsKV * m.headDim
	if len(m.scratch.scores) < maxSeqlen {
		m.scratch.scores = make([]float32, maxSeqlen)
	}
	return &attentionState{
		k:         make([]float32, batch*maxSeqlen*kvDim),
		v:         make([]float32, batch*maxSeqlen*kvDim),
		kvDim:     kvDim,
		maxSeqlen: maxSeqlen,
	}
}

func (m *attention) initParams(rng *rand.Rand) {
	uniformFill(rng, m.inProj.w.Data, kaimingBound(m.dModel))
	if m.inProj.b != nil {
		uniformFill(rng, m.inProj.b, kaimingBound(m.dModel))
	}
	uniformFill(rng, m.outProj.w.Data, kaimingBound(m.nHeads*m.headDim))
	if m.outProj.b != nil {
		uniformFill(rng, m.outProj.b, kaimingBound(m.nHeads*m.headDim))
	}
}

func (m *attention) params(prefix string) []Param {
	qDim := m.nHeads * m.headDim
	kvDim := m.nHeadsKV * m.headDim
	ps := []Param{
		{Name: prefix + "in_proj.weight", Shape: []int{qDim + 2*kvDim, m.dModel}, Data: m.inProj.w.Data},
		{Name: prefix + "out_proj.weight", Shape: []int{m.dModel, qDim}, Data: m.outProj.w.Data},
	}
	if m.inProj.b != nil {
		ps = append(ps, Param{Name: prefix + "in_proj.bias", Shape: []int{qDim + 2*kvDim}, Data: m.inProj.b})
	}
	if m.outProj.b != nil {
		ps = append(ps, Param{Name: prefix + "out_proj.bias", Shape: []int{m.dModel}, Data: m.outProj.b})
	}
	return ps
}

func (m *attention) step(st mixerState, b, pos int, out, x []float32) {
	state := st.(*attentionState)
	qDim := m.nHeads * m.headDim
	kvDim := state.kvDim
	if pos >= state.maxSeqlen {
		panic("attention cache exhausted")
	}

	m.inProj.forward(m.scratch.qkv, x)
	q := m.scratch.qkv[:qDim]
	k := m.scratch.qkv[qDim : qDim+kvDim]
	v := m.scratch.qkv[qDim+kvDim:]

	if m.rotaryDim > 0 {
		tensor.ApplyRoPE(q, m.nHeads, m.headDim, m.rotaryDim, pos, m.ropeBase)
		tensor.ApplyRoPE(k, m.nHeadsKV, m.headDim, m.rotaryDim, pos, m.ropeBase)
	}

	cacheK := state.k[b*state.maxSeqlen*kvDim : (b+1)*state.maxSeqlen*kvDim]
	cacheV := state.v[b*state.maxSeqlen*kvDim : (b+1)*state.maxSeqlen*kvDim]
	copy(cacheK[pos*kvDim:(pos+1)*kvDim], k)
	copy(cacheV[pos*kvDim:(pos+1)*kvDim], v)

	headsPerKV := m.nHeads / m.nHeadsKV
	attnOut := m.scratch.attn
	for h := 0; h < m.nHeads; h++ {
		kvHead := h / headsPerKV
		qh := q[h*m.headDim : (h+1)*m.headDim]
		scores := m.scratch.scores[:pos+1]
		for t := 0; t <= pos; t++ {
			off := t*kvDim + kvHead*m.headDim
			scores[t] = tensor.Dot(qh, cacheK[off:off+m.headDim]) * m.scale
		}
		tensor.Softmax(scores)
		oh := attnOut[h*m.headDim : (h+1)*m.headDim]
		for d := 0; d < m.headDim; d++ {
			var sum float32
			for t := 0; t <= pos; t++ {
				sum += scores[t] * cacheV[t*kvDim+kvHead*m.headDim+d]
			}
			oh[d] = sum
		}
	}
	m.outProj.forward(out, attnOut)
}
