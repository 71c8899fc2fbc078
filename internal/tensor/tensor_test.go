package tensor

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestNewRejectsLengthMismatch(t *testing.T) {
	t.Parallel()
	_, err := New([]int{2, 3}, make([]float32, 5))
	if !errors.Is(err, ErrDataLength) {
		t.Fatalf("expected ErrDataLength, got %v", err)
	}
}

func TestScalarIsRankZero(t *testing.T) {
	t.Parallel()
	s := Scalar(3)
	if s.Rank() != 0 || s.Len() != 1 {
		t.Fatalf("scalar rank=%d len=%d", s.Rank(), s.Len())
	}
	v, err := s.Item()
	if err != nil || v != 3 {
		t.Fatalf("item: got %v, %v", v, err)
	}
}

func TestBroadcastShape(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b    []int
		want    []int
		wantErr bool
	}{
		{a: nil, b: []int{1, 3}, want: []int{1, 3}},
		{a: []int{2, 1}, b: []int{1, 3}, want: []int{2, 3}},
		{a: []int{4, 3}, b: []int{3}, want: []int{4, 3}},
		{a: []int{2, 3}, b: []int{4}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := BroadcastShape(tt.a, tt.b)
		if tt.wantErr {
			if !errors.Is(err, ErrShapeMismatch) {
				t.Fatalf("%v x %v: expected ErrShapeMismatch, got %v", tt.a, tt.b, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%v x %v: %v", tt.a, tt.b, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("%v x %v: got %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAddBroadcastsScalarAndRow(t *testing.T) {
	t.Parallel()
	a := MustNew([]int{2, 1}, []float32{1, 2})
	b := MustNew([]int{1, 3}, []float32{10, 20, 30})
	got, err := Add(a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	want := []float32{11, 21, 31, 12, 22, 32}
	if !slices.Equal(got.Data(), want) || !slices.Equal(got.Shape(), []int{2, 3}) {
		t.Fatalf("got %v, want %v", got, want)
	}

	s, err := Mul(Scalar(2), b)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if !slices.Equal(s.Data(), []float32{20, 40, 60}) {
		t.Fatalf("scalar mul: got %v", s.Data())
	}
}

func TestLerp(t *testing.T) {
	t.Parallel()
	got, err := Lerp(Scalar(2), Scalar(4), 0.9)
	if err != nil {
		t.Fatalf("lerp: %v", err)
	}
	v, _ := got.Item()
	if v != float32(2.2) {
		t.Fatalf("got %v, want 2.2", v)
	}
}

func TestAbsMaxAlong(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{2, 3}, []float32{1, -5, 2, -3, 4, 0.5})

	last, err := AbsMaxAlong(x, -1)
	if err != nil {
		t.Fatalf("axis -1: %v", err)
	}
	if !slices.Equal(last.Shape(), []int{1, 3}) || !slices.Equal(last.Data(), []float32{3, 5, 2}) {
		t.Fatalf("axis -1: got %v", last)
	}

	first, err := AbsMaxAlong(x, 0)
	if err != nil {
		t.Fatalf("axis 0: %v", err)
	}
	if !slices.Equal(first.Shape(), []int{2, 1}) || !slices.Equal(first.Data(), []float32{5, 4}) {
		t.Fatalf("axis 0: got %v", first)
	}

	if _, err := AbsMaxAlong(x, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected axis error, got %v", err)
	}
}

func TestLinearMatchesNaive(t *testing.T) {
	t.Parallel()
	x := Zeros(3, 5)
	w := Zeros(4, 5)
	b := Zeros(4)
	FillRand(x, 1)
	FillRand(w, 2)
	FillRand(b, 3)

	got, err := Linear(x, w, b)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	for r := range 3 {
		for o := range 4 {
			var ref float32
			for i := range 5 {
				ref += x.Data()[r*5+i] * w.Data()[o*5+i]
			}
			ref += b.Data()[o]
			if d := math.Abs(float64(got.Data()[r*4+o] - ref)); d > 1e-5 {
				t.Fatalf("mismatch at (%d,%d): got %f, want %f", r, o, got.Data()[r*4+o], ref)
			}
		}
	}

	if _, err := Linear(Zeros(2, 3), w, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestFillRandDeterministic(t *testing.T) {
	t.Parallel()
	a, b := Zeros(8), Zeros(8)
	FillRand(a, 42)
	FillRand(b, 42)
	if !a.Equal(b) {
		t.Fatal("same seed produced different values")
	}
}
