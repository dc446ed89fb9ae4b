package model

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prometheuslm/prometheus/internal/tensor"
)

// mamba1 is the selective state-space mixer with a per-channel state
// transition matrix.
type mamba1 struct {
	dModel int
	dInner int
	dState int
	dConv  int
	dtRank int

	dtMin       float64
	dtMax       float64
	dtInitFloor float64

	inProj  linear     // [2*d_inner, d_model]
	convW   tensor.Mat // [d_inner, d_conv]
	convB   []float32
	xProj   linear // [dt_rank + 2*d_state, d_inner]
	dtProj  linear // [d_inner, dt_rank], bias kept across re-init
	aLog    tensor.Mat
	d       []float32
	outProj linear // [d_model, d_inner]

	scratch struct {
		xz   []float32
		conv []float32
		dbc  []float32
		dt   []float32
		y    []float32
	}
}

type mamba1State struct {
	conv []float32 // [batch, d_conv-1, d_inner], time-major
	ssm  []float32 // [batch, d_inner, d_state]

	convStride int
	ssmStride  int
}

func (s *mamba1State) reset() {
	clear(s.conv)
	clear(s.ssm)
}

func newMamba1(cfg *Config) *mamba1 {
	s := cfg.SSMCfg
	dInner := s.Expand * cfg.DModel
	m := &mamba1{
		dModel:      cfg.DModel,
		dInner:      dInner,
		dState:      s.DState,
		dConv:       s.DConv,
		dtRank:      s.DtRank,
		dtMin:       s.DtMin,
		dtMax:       s.DtMax,
		dtInitFloor: s.DtInitFloor,
		inProj:      newLinear(2*dInner, cfg.DModel, false),
		convW:       tensor.NewMat(dInner, s.DConv),
		convB:       make([]float32, dInner),
		xProj:       newLinear(s.DtRank+2*s.DState, dInner, false),
		dtProj:      newLinear(dInner, s.DtRank, true),
		aLog:        tensor.NewMat(dInner, s.DState),
		d:           make([]float32, dInner),
		outProj:     newLinear(cfg.DModel, dInner, false),
	}
	// S4D-real initialization: A[i][j] = -(j+1), stored as log.
	for i := 0; i < dInner; i++ {
		row := m.aLog.Row(i)
		for j := 0; j < s.DState; j++ {
			row[j] = float32(math.Log(float64(j + 1)))
		}
	}
	for i := range m.d {
		m.d[i] = 1
	}
	m.scratch.xz = make([]float32, 2*dInner)
	m.scratch.conv = make([]float32, dInner)
	m.scratch.dbc = make([]float32, s.DtRank+2*s.DState)
	m.scratch.dt = make([]float32, dInner)
	m.scratch.y = make([]float32, dInner)
	return m
}

func (m *mamba1) newState(batch, maxSeqlen int) mixerState {
	convStride := (m.dConv - 1) * m.dInner
	ssmStride := m.dInner * m.dState
	return &mamba1State{
		conv:       make([]float32, batch*convStride),
		ssm:        make([]float32, batch*ssmStride),
		convStride: convStride,
		ssmStride:  ssmStride,
	}
}

func (m *mamba1) initParams(rng *rand.Rand) {
	uniformFill(rng, m.inProj.w.Data, kaimingBound(m.dModel))
	uniformFill(rng, m.convW.Data, kaimingBound(m.dConv))
	uniformFill(rng, m.convB, kaimingBound(m.dConv))
	uniformFill(rng, m.xProj.w.Data, kaimingBound(m.dInner))
	uniformFill(rng, m.outProj.w.Data, kaimingBound(m.dInner))

	// dt projection: constant-magnitude weight, bias drawn so that
	// softplus(bias) lands log-uniformly in [dt_min, dt_max].
	dtScale := 1 / math.Sqrt(float64(m.dtRank))
	uniformFill(rng, m.dtProj.w.Data, dtScale)
	logU := distuv.Uniform{Min: math.Log(m.dtMin), Max: math.Log(m.dtMax), Src: rng}
	for i := range m.dtProj.b {
		dt := math.Exp(logU.Rand())
		if dt < m.dtInitFloor {
			dt = m.dtInitFloor
		}
		m.dtProj.b[i] = float32(invSoftplus(dt))
	}
}

// invSoftplus returns x such that softplus(x) = y.
func invSoftplus(y float64) float64 {
	return y + math.Log(-math.Expm1(-y))
}

func (m *mamba1) params(prefix string) []Param {
	return []Param{
		{Name: prefix + "in_proj.weight", Shape: []int{2 * m.dInner, m.dModel}, Data: m.inProj.w.Data},
		{Name: prefix + "conv1d.weight", Shape: []int{m.dInner, 1, m.dConv}, Data: m.convW.Data},
		{Name: prefix + "conv1d.bias", Shape: []int{m.dInner}, Data: m.convB, NoReinit: true},
		{Name: prefix + "x_proj.weight", Shape: []int{m.dtRank + 2*m.dState, m.dInner}, Data: m.xProj.w.Data},
		{Name: prefix + "dt_proj.weight", Shape: []int{m.dInner, m.dtRank}, Data: m.dtProj.w.Data},
		{Name: prefix + "dt_proj.bias", Shape: []int{m.dInner}, Data: m.dtProj.b, NoReinit: true},
		{Name: prefix + "A_log", Shape: []int{m.dInner, m.dState}, Data: m.aLog.Data, NoReinit: true},
		{Name: prefix + "D", Shape: []int{m.dInner}, Data: m.d, NoReinit: true},
		{Name: prefix + "out_proj.weight", Shape: []int{m.dModel, m.dInner}, Data: m.outProj.w.Data},
	}
}

func (m *mamba1) step(st mixerState, b, _ int, out, x []float32) {
	state := st.(*mamba1State)
	conv := state.conv[b*state.convStride : (b+1)*state.convStride]
	ssm := state.ssm[b*state.ssmStride : (b+1)*state.ssmStride]

	m.inProj.forward(m.scratch.xz, x)
	xi := m.scratch.xz[:m.dInner]
	z := m.scratch.xz[m.dInner:]

	// causal depthwise conv over the last d_conv inputs
	xc := m.scratch.conv
	for i := 0; i < m.dInner; i++ {
		row := m.convW.Row(i)
		sum := m.convB[i] + row[m.dConv-1]*xi[i]
		for k := 0; k < m.dConv-1; k++ {
			sum += row[k] * conv[k*m.dInner+i]
		}
		xc[i] = tensor.Silu(sum)
	}
	if m.dConv > 1 {
		copy(conv, conv[m.dInner:])
		copy(conv[(m.dConv-2)*m.dInner:], xi)
	}

	m.xProj.forward(m.scratch.dbc, xc)
	dtIn := m.scratch.dbc[:m.dtRank]
	bVec := m.scratch.dbc[m.dtRank : m.dtRank+m.dState]
	cVec := m.scratch.dbc[m.dtRank+m.dState:]

	m.dtProj.forward(m.scratch.dt, dtIn)

	y := m.scratch.y
	for i := 0; i < m.dInner; i++ {
		dt := tensor.Softplus(m.scratch.dt[i])
		aRow := m.aLog.Row(i)
		s := ssm[i*m.dState : (i+1)*m.dState]
		var acc float32
		for j := 0; j < m.dState; j++ {
			dA := float32(math.Exp(float64(-dt) * math.Exp(float64(aRow[j]))))
			s[j] = s[j]*dA + dt*bVec[j]*xc[i]
			acc += s[j] * cVec[j]
		}
		y[i] = (acc + m.d[i]*xc[i]) * tensor.Silu(z[i])
	}
	m.outProj.forward(out, y)
}
