package model

import "github.com/prometheuslm/prometheus/internal/tensor"

// gatedMLP is the SwiGLU feed-forward branch used when d_intermediate
// is non-zero. fc1 projects to value and gate halves, fc2 projects
// back down.
type gatedMLP struct {
	fc1 linear
	fc2 linear

	hidden int
	buf    []float32
	act    []float32
}

func newGatedMLP(dModel, hidden int) *gatedMLP {
	return &gatedMLP{
		fc1:    newLinear(2*hidden, dModel, false),
		fc2:    newLinear(dModel, hidden, false),
		hidden: hidden,
		buf:    make([]float32, 2*hidden),
		act:    make([]float32, hidden),
	}
}

func (m *gatedMLP) forward(out, x []float32) {
	m.fc1.forward(m.buf, x)
	y := m.buf[:m.hidden]
	gate := m.buf[m.hidden:]
	for i := range m.act {
		m.act[i] = y[i] * tensor.Silu(gate[i])
	}
	m.fc2.forward(out, m.act)
}
