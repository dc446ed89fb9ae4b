package tensor

// Tensor is a dense rank-N float32 tensor in row-major layout. It is used
// for batched activations (batch, seq, dim); weight matrices stay Mat.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-initialised tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("negative dimension for tensor")
		}
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Shape: s,
		Data:  make([]float32, n),
	}
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// At3 returns a view of the innermost vector of a rank-3 tensor at (i, j).
func (t *Tensor) At3(i, j int) []float32 {
	if len(t.Shape) != 3 {
		panic("At3 requires a rank-3 tensor")
	}
	d := t.Shape[2]
	off := (i*t.Shape[1] + j) * d
	return t.Data[off : off+d]
}
