package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// mamba2 is the state-space-duality mixer: scalar decay per head,
// grouped B/C projections and a gated RMSNorm before the output
// projection.
type mamba2 struct {
	dModel  int
	dInner  int
	dState  int
	dConv   int
	headDim int
	nHeads  int
	nGroups int
	convDim int

	dtMin       float64
	dtMax       float64
	dtInitFloor float64
	normEps     float32

	inProj  linear     // [2*d_inner + 2*ngroups*d_state + n_heads, d_model]
	convW   tensor.Mat // [conv_dim, d_conv]
	convB   []float32
	dtBias  []float32
	aLog    []float32
	d       []float32
	normW   []float32
	outProj linear // [d_model, d_inner]

	scratch struct {
		proj []float32
		conv []float32
		y    []float32
	}
}

type mamba2State struct {
	conv []float32 // [batch, d_conv-1, conv_dim], time-major
	ssm  []float32 // [batch, n_heads, head_dim, d_state]

	convStride int
	ssmStride  int
}

func (s *mamba2State) reset() {
	clear(s.conv)
	clear(s.ssm)
}

func newMamba2(cfg *Config) *mamba2 {
	s := cfg.SSMCfg
	dInner := s.Expand * cfg.DModel
	nHeads := dInner / s.HeadDim
	convDim := dInner + 2*s.NGroups*s.DState
	m := &mamba2{
		dModel:      cfg.DModel,
		dInner:      dInner,
		dState:      s.DState,
		dConv:       s.DConv,
		headDim:     s.HeadDim,
		nHeads:      nHeads,
		nGroups:     s.NGroups,
		convDim:     convDim,
		dtMin:       s.DtMin,
		dtMax:       s.DtMax,
		dtInitFloor: s.DtInitFloor,
		normEps:     float32(cfg.NormEpsilon),
		inProj:      newLinear(2*dInner+2*s.NGroups*s.DState+nHeads, cfg.DModel, false),
		convW:       tensor.NewMat(convDim, s.DConv),
		convB:       make([]float32, convDim),
		dtBias:      make([]float32, nHeads),
		aLog:        make([]float32, nHeads),
		d:           make([]float32, nHeads),
		normW:       make([]float32, dInner),
		outProj:     newLinear(cfg.DModel, dInner, false),
	}
	for i := range m.d {
		m.d[i] = 1
	}
	for i := range m.normW {
		m.normW[i] = 1
	}
	m.scratch.proj = make([]float32, 2*dInner+2*s.NGroups*s.DState+nHeads)
	m.scratch.conv = make([]float32, convDim)
	m.scratch.y = make([]float32, dInner)
	return m
}

func (m *mamba2) newState(batch, maxSeqlen int) mixerState {
	convStride := (m.dConv - 1) * m.convDim
	ssmStride := m.nHeads * m.headDim * m.dState
	return &mamba2State{
		conv:       make([]float32, batch*convStride),
		ssm:        make([]float32, batch*ssmStride),
		convStride: convStride,
		ssmStride:  ssmStride,
	}
}

func (m *mamba2) initParams(rng *rand.Rand) {
	uniformFill(rng, m.inProj.w.Data, kaimingBound(m.dModel))
	uniformFill(rng, m.convW.Data, kaimingBound(m.dConv))
	uniformFill(rng, m.convB, kaimingBound(m.dConv))
	uniformFill(rng, m.outProj.w.Data, kaimingBound(m.dInner))

	logU := distuv.Uniform{Min: math.Log(m.dtMin), Max: math.Log(m.dtMax), Src: rng}
	for i := range m.dtBias {
		dt := math.Exp(logU.Rand())
		if dt < m.dtInitFloor {
			dt = m.dtInitFloor
		}
		m.dtBias[i] = float32(invSoftplus(dt))
	}
	// A drawn uniformly in [1, 16], stored as log
	aU := distuv.Uniform{Min: 1, Max: 16, Src: rng}
	for i := range m.aLog {
		m.aLog[i] = float32(math.Log(aU.Rand()))
	}
}

func (m *mamba2) params(prefix string) []Param {
	return []Param{
		{Name: prefix + "in_proj.weight", Shape: []int{2*m.dInner + 2*m.nGroups*m.dState + m.nHeads, m.dModel}, Data: m.inProj.w.Data},
		{Name: prefix + "conv1d.weight", Shape: []int{m.convDim, 1, m.dConv}, Data: m.convW.Data},
		{Name: prefix + "conv1d.bias", Shape: []int{m.convDim}, Data: m.convB, NoReinit: true},
		{Name: prefix + "dt_bias", Shape: []int{m.nHeads}, Data: m.dtBias, NoReinit: true},
		{Name: prefix + "A_log", Shape: []int{m.nHeads}, Data: m.aLog, NoReinit: true},
		{Name: prefix + "D", Shape: []int{m.nHeads}, Data: m.d, NoReinit: true},
		{Name: prefix + "norm.weight", Shape: []int{m.dInner}, Data: m.normW},
		{Name: prefix + "out_proj.weight", Shape: []int{m.dModel, m.dInner}, Data: m.outProj.w.Data},
	}
}

func (m *mamba2) step(st mixerState, b, _ int, out, x []float32) {
	state := st.(*mamba2State)
	conv := state.conv[b*state.convStride : (b+1)*state.convStride]
	ssm := state.ssm[b*state.ssmStride : (b+1)*state.ssmStride]

	m.inProj.forward(m.scratch.proj, x)
	z := m.scratch.proj[:m.dInner]
	xBC := m.scratch.proj[m.dInner : m.dInner+m.convDim]
	dtRaw := m.scratch.proj[m.dInner+m.convDim:]

	xc := m.scratch.conv
	for i := 0; i < m.convDim; i++ {
		row := m.convW.Row(i)
		sum := m.convB[i] + row[m.dConv-1]*xBC[i]
		for k := 0; k < m.dConv-1; k++ {
			sum += row[k] * conv[k*m.convDim+i]
		}
		xc[i] = tensor.Silu(sum)
	}
	if m.dConv > 1 {
		copy(conv, conv[m.convDim:])
		copy(conv[(m.dConv-2)*m.convDim:], xBC)
	}

	xPart := xc[:m.dInner]
	bPart := xc[m.dInner : m.dInner+m.nGroups*m.dState]
	cPart := xc[m.dInner+m.nGroups*m.dState:]

	y := m.scratch.y
	headsPerGroup := m.nHeads / m.nGroups
	for h := 0; h < m.nHeads; h++ {
		g := h / headsPerGroup
		bG := bPart[g*m.dState : (g+1)*m.dState]
		cG := cPart[g*m.dState : (g+1)*m.dState]
		dt := tensor.Softplus(dtRaw[h] + m.dtBias[h])
		dA := float32(math.Exp(float64(-dt) * math.Exp(float64(m.aLog[h]))))
		for p := 0; p < m.headDim; p++ {
			xv := xPart[h*m.headDim+p]
			s := ssm[(h*m.headDim+p)*m.dState : (h*m.headDim+p+1)*m.dState]
			var acc float32
			for j := 0; j < m.dState; j++ {
				s[j] = s[j]*dA + dt*bG[j]*xv
				acc += s[j] * cG[j]
			}
			y[h*m.headDim+p] = acc + m.d[h]*xv
		}
	}

	// gated RMSNorm, one normalization group per B/C group
	groupSize := m.dInner / m.nGroups
	for g := 0; g < m.nGroups; g++ {
		seg := y[g*groupSize : (g+1)*groupSize]
		zSeg := z[g*groupSize : (g+1)*groupSize]
		var sum float64
		for i := range seg {
			seg[i] *= tensor.Silu(zSeg[i])
			sum += float64(seg[i]) * float64(seg[i])
		}
		inv := float32(1 / math.Sqrt(sum/float64(groupSize)+float64(m.normEps)))
		for i := range seg {
			seg[i] *= inv * m.normW[g*groupSize+i]
		}
	}
	m.outProj.forward(out, y)
}
