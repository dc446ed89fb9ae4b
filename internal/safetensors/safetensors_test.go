package safetensors

import (
	"math"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.safetensors")
	tensors := []WriteTensor{
		{Name: "embedding.weight", Shape: []int{4, 3}, Data: []float32{
			0.1, -0.2, 0.3,
			1.5, -1.5, 0,
			2, 4, 8,
			-0.001, 0.001, 42,
		}},
		{Name: "norm_f.weight", Shape: []int{3}, Data: []float32{1, 1, 1}},
	}
	if err := Write(path, tensors); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := len(f.Tensors); got != 2 {
		t.Fatalf("expected 2 tensors, got %d", got)
	}
	for _, want := range tensors {
		data, info, err := f.ReadTensorF32(want.Name)
		if err != nil {
			t.Fatalf("ReadTensorF32(%s): %v", want.Name, err)
		}
		if info.DType != "F32" {
			t.Errorf("%s: dtype = %s, want F32", want.Name, info.DType)
		}
		if len(info.Shape) != len(want.Shape) {
			t.Fatalf("%s: shape rank = %d, want %d", want.Name, len(info.Shape), len(want.Shape))
		}
		for i, d := range want.Shape {
			if info.Shape[i] != d {
				t.Errorf("%s: shape[%d] = %d, want %d", want.Name, i, info.Shape[i], d)
			}
		}
		for i, v := range want.Data {
			if data[i] != v {
				t.Errorf("%s: data[%d] = %v, want %v", want.Name, i, data[i], v)
			}
		}
	}
}

func TestWriteShapeMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err := Write(path, []WriteTensor{
		{Name: "w", Shape: []int{2, 2}, Data: []float32{1, 2, 3}},
	})
	if err == nil {
		t.Fatal("expected error for shape/data mismatch")
	}
}

func TestReadTensorNotFound(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "one.safetensors")
	if err := Write(path, []WriteTensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := f.ReadTensorF32("missing"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestFP16Conversion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0xBC00, -1},
		{0x4000, 2},
		{0x3800, 0.5},
		{0x0001, float32(math.Pow(2, -24))}, // smallest subnormal
	}
	for _, c := range cases {
		if got := fp16ToFloat32(c.bits); got != c.want {
			t.Errorf("fp16ToFloat32(%#04x) = %v, want %v", c.bits, got, c.want)
		}
	}
}

func TestBF16Conversion(t *testing.T) {
	t.Parallel()

	if got := bf16ToF32(0x3F80); got != 1 {
		t.Errorf("bf16ToF32(0x3F80) = %v, want 1", got)
	}
	if got := bf16ToF32(0xC000); got != -2 {
		t.Errorf("bf16ToF32(0xC000) = %v, want -2", got)
	}
}
