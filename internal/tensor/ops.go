package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Scale multiplies every element of x by s.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// RMSNorm performs root mean square normalization.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// LayerNorm performs standard layer normalization with learned scale and
// shift. bias may be nil.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v
	}
	mean := sum / float32(len(src))
	var varsum float32
	for _, v := range src {
		d := v - mean
		varsum += d * d
	}
	scale := float32(1.0) / float32(math.Sqrt(float64(varsum/float32(len(src))+eps)))
	for i := range src {
		dst[i] = (src[i] - mean) * scale * weight[i]
		if bias != nil {
			dst[i] += bias[i]
		}
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Softplus computes log(1 + exp(x)) with overflow protection for large x.
func Softplus(x float32) float32 {
	if x > 20 {
		return x
	}
	return float32(math.Log1p(math.Exp(float64(x))))
}

// ApplyRoPE applies rotary positional embeddings to x in place.
// rotaryDim must be even and no larger than headDim; dimensions past
// rotaryDim are left untouched.
func ApplyRoPE(x []float32, nHead, headDim, rotaryDim, pos int, theta float64) {
	if rotaryDim%2 != 0 {
		panic("rotaryDim must be even for RoPE")
	}
	if rotaryDim > headDim {
		rotaryDim = headDim
	}
	half := rotaryDim / 2
	for h := 0; h < nHead; h++ {
		base := h * headDim
		for i := 0; i < half; i++ {
			freq := 1.0 / math.Pow(theta, float64(2*i)/float64(rotaryDim))
			angle := float64(pos) * freq
			c := float32(math.Cos(angle))
			s := float32(math.Sin(angle))
			i0 := base + 2*i
			i1 := i0 + 1
			x0 := x[i0]
			x1 := x[i1]
			x[i0] = x0*c - x1*s
			x[i1] = x0*s + x1*c
		}
	}
}
