package model

import "github.com/prometheuslm/prometheus/internal/tensor"

// linear is a dense projection with row-major weight [out, in].
type linear struct {
	w tensor.Mat
	b []float32 // nil when the projection has no bias
}

func newLinear(out, in int, bias bool) linear {
	l := linear{w: tensor.NewMat(out, in)}
	if bias {
		l.b = make([]float32, out)
	}
	return l
}

func (l *linear) forward(dst, x []float32) {
	tensor.MatVec(dst, &l.w, x)
	if l.b != nil {
		for i := range dst {
			dst[i] += l.b[i]
		}
	}
}
