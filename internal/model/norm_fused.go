package model

import "math"

func init() {
	fusedAddNormFn = fusedAddNorm
}

// fusedAddNorm folds the residual add into the normalization pass:
// residual += hidden, dst = norm(residual). When resF64 is non-nil the
// residual stream is accumulated in float64 and residual holds the
// rounded copy.
func fusedAddNorm(dst, hidden, residual []float32, resF64 []float64, n *normLayer) {
	dim := len(residual)

	var mean, meanSq float64
	if resF64 != nil {
		for i := 0; i < dim; i++ {
			v := resF64[i] + float64(hidden[i])
			resF64[i] = v
			residual[i] = float32(v)
			mean += v
			meanSq += v * v
		}
	} else {
		for i := 0; i < dim; i++ {
			v := residual[i] + hidden[i]
			residual[i] = v
			mean += float64(v)
			meanSq += float64(v) * float64(v)
		}
	}
	mean /= float64(dim)
	meanSq /= float64(dim)

	if n.rms {
		inv := float32(1 / math.Sqrt(meanSq+float64(n.eps)))
		for i := 0; i < dim; i++ {
			dst[i] = residual[i] * inv * n.weight[i]
		}
		return
	}
	variance := meanSq - mean*mean
	if variance < 0 {
		variance = 0
	}
	inv := float32(1 / math.Sqrt(variance+float64(n.eps)))
	m := float32(mean)
	for i := 0; i < dim; i++ {
		dst[i] = (residual[i]-m)*inv*n.weight[i] + n.bias[i]
	}
}
