package quant

import (
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/qcal/internal/tensor"
)

func TestParseQType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want QType
	}{
		{"qint8", QInt8},
		{"QINT4", QInt4},
		{"qfloat8", QFloat8E4M3},
		{"qfloat8_e5m2", QFloat8E5M2},
	}
	for _, tt := range tests {
		got, err := ParseQType(tt.in)
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseQType("qint3"); !errors.Is(err, ErrUnknownQType) {
		t.Fatalf("expected ErrUnknownQType, got %v", err)
	}
}

func TestAbsmaxScalePerTensor(t *testing.T) {
	t.Parallel()
	x := tensor.MustNew([]int{2, 2}, []float32{1, -254, 3, 100})
	s, err := AbsmaxScale(x, QInt8, nil)
	if err != nil {
		t.Fatalf("absmax: %v", err)
	}
	if s.Rank() != 0 {
		t.Fatalf("expected scalar scale, got shape %v", s.Shape())
	}
	if v, _ := s.Item(); v != 2 {
		t.Fatalf("got %v, want 2", v)
	}
}

func TestAbsmaxScalePerAxis(t *testing.T) {
	t.Parallel()
	x := tensor.MustNew([]int{2, 3}, []float32{7, -14, 0, -7, 7, 21})
	axis := -1
	s, err := AbsmaxScale(x, QInt4, &axis)
	if err != nil {
		t.Fatalf("absmax: %v", err)
	}
	if !slices.Equal(s.Shape(), []int{1, 3}) || !slices.Equal(s.Data(), []float32{1, 2, 3}) {
		t.Fatalf("got %v", s)
	}

	bad := 1
	if _, err := AbsmaxScale(x, QInt8, &bad); !errors.Is(err, ErrUnsupportedAxis) {
		t.Fatalf("expected ErrUnsupportedAxis, got %v", err)
	}
}

func TestQuantizeRoundsAndClamps(t *testing.T) {
	t.Parallel()
	x := tensor.Vector(1.4, -2.6, 1000, -1000)
	q, err := Quantize(x, QInt8, tensor.Scalar(1))
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if want := []float32{1, -3, 127, -128}; !slices.Equal(q.Values().Data(), want) {
		t.Fatalf("got %v, want %v", q.Values().Data(), want)
	}

	f, err := Quantize(tensor.Vector(1.5, 1e6), QFloat8E4M3, tensor.Scalar(1))
	if err != nil {
		t.Fatalf("quantize f8: %v", err)
	}
	if want := []float32{1.5, 448}; !slices.Equal(f.Values().Data(), want) {
		t.Fatalf("got %v, want %v", f.Values().Data(), want)
	}
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	t.Parallel()
	x := tensor.MustNew([]int{2, 2}, []float32{2, -4, 6, 8})
	scale := tensor.MustNew([]int{1, 2}, []float32{2, 4})
	q, err := Quantize(x, QInt8, scale)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if got := q.Dequantize(); !got.Equal(x) {
		t.Fatalf("got %v, want %v", got, x)
	}
	var _ Quantized = q
}

func TestNewQTensorRejectsGrowingScale(t *testing.T) {
	t.Parallel()
	_, err := NewQTensor(QInt8, tensor.Vector(1, 2), tensor.MustNew([]int{3, 1}, []float32{1, 1, 1}))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
