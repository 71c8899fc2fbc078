package safetensors

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qcal/internal/tensor"
)

// writeRaw builds a safetensors file from a header map and a data blob.
func writeRaw(t *testing.T, header map[string]any, data []byte) string {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = append(buf, data...)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestWriteFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	w := tensor.MustNew([]int{2, 3}, []float32{1, -2, 3.5, 0, 7, -0.25})
	b := tensor.Vector(0.5, -0.5)
	if err := WriteFile(path, map[string]*tensor.Tensor{"fc.weight": w, "fc.bias": b}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := f.Names(); !slices.Equal(got, []string{"fc.bias", "fc.weight"}) {
		t.Fatalf("names: %v", got)
	}
	for name, want := range map[string]*tensor.Tensor{"fc.weight": w, "fc.bias": b} {
		got, err := f.Tensor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestTensorHalfPrecision(t *testing.T) {
	t.Parallel()
	// 1.0 and -2.0 in BF16 and F16.
	bf16 := []byte{0x80, 0x3F, 0x00, 0xC0}
	f16 := []byte{0x00, 0x3C, 0x00, 0xC0}
	path := writeRaw(t, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"a":            map[string]any{"dtype": "BF16", "shape": []int{2}, "data_offsets": []int64{0, 4}},
		"b":            map[string]any{"dtype": "F16", "shape": []int{2}, "data_offsets": []int64{4, 8}},
	}, append(bf16, f16...))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(f.Tensors) != 2 {
		t.Fatalf("metadata should be skipped, got %d tensors", len(f.Tensors))
	}
	for _, name := range []string{"a", "b"} {
		got, err := f.Tensor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !slices.Equal(got.Data(), []float32{1, -2}) {
			t.Fatalf("%s: got %v", name, got.Data())
		}
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	if _, err := Open(filepath.Join(t.TempDir(), "missing.safetensors")); err == nil {
		t.Fatal("expected error for missing file")
	}

	short := filepath.Join(t.TempDir(), "short.safetensors")
	if err := os.WriteFile(short, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(short); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated: expected ErrCorrupt, got %v", err)
	}

	bad := writeRaw(t, map[string]any{
		"w": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": []int64{4, 0}},
	}, make([]byte, 4))
	if _, err := Open(bad); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("inverted offsets: expected ErrCorrupt, got %v", err)
	}
}

func TestTensorErrors(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, map[string]any{
		"i": map[string]any{"dtype": "I32", "shape": []int{1}, "data_offsets": []int64{0, 4}},
		"s": map[string]any{"dtype": "F32", "shape": []int{2}, "data_offsets": []int64{4, 8}},
	}, make([]byte, 8))
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Tensor("missing"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
	if _, err := f.Tensor("i"); !errors.Is(err, ErrUnsupportedDType) {
		t.Fatalf("expected ErrUnsupportedDType, got %v", err)
	}
	if _, err := f.Tensor("s"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("size mismatch: expected ErrCorrupt, got %v", err)
	}
}

func TestFp16Subnormal(t *testing.T) {
	t.Parallel()
	// Smallest positive subnormal: 2^-24.
	if got := fp16ToF32(0x0001); got != 1.0/(1<<24) {
		t.Fatalf("got %g", got)
	}
}

func TestOpenMapsAndFallsBackToReadAt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "w.safetensors")
	want := tensor.MustNew([]int{2, 2}, []float32{1, 2, -3, 4})
	if err := WriteFile(path, map[string]*tensor.Tensor{"w": want}); err != nil {
		t.Fatalf("write: %v", err)
	}

	mapped, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !mapped.Mapped() {
		t.Fatal("expected the file to be memory mapped")
	}
	got, err := mapped.Tensor("w")
	if err != nil || !got.Equal(want) {
		t.Fatalf("mapped read: got %v, %v", got, err)
	}
	if err := mapped.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mapped.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got, err := mapped.Tensor("w"); err != nil || !got.Equal(want) {
		t.Fatalf("read after close: got %v, %v", got, err)
	}

	noMmap := func(int, int) ([]byte, error) { return nil, errors.ErrUnsupported }
	plain, err := open(path, noMmap)
	if err != nil {
		t.Fatalf("open without mmap: %v", err)
	}
	if plain.Mapped() {
		t.Fatal("fallback file reports a mapping")
	}
	if got, err := plain.Tensor("w"); err != nil || !got.Equal(want) {
		t.Fatalf("ReadAt read: got %v, %v", got, err)
	}
}

func TestOpenRejectsDataPastEnd(t *testing.T) {
	t.Parallel()
	path := writeRaw(t, map[string]any{
		"w": map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 16}},
	}, make([]byte, 8))
	if _, err := Open(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
