package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.json")
	body := `{"batches":[{"shape":[2,2],"data":[1,2,3,4]},{"shape":[2],"data":[5,6]}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ds, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("len=%d", ds.Len())
	}
	if !slices.Equal(ds.Batches[0].Shape(), []int{2, 2}) || !slices.Equal(ds.Batches[1].Data(), []float32{5, 6}) {
		t.Fatalf("unexpected batches: %v %v", ds.Batches[0], ds.Batches[1])
	}
	n, err := ds.Features()
	if err != nil || n != 2 {
		t.Fatalf("features: %d, %v", n, err)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"malformed":     `{"batches":[`,
		"empty":         `{"batches":[]}`,
		"no shape":      `{"batches":[{"data":[1]}]}`,
		"length":        `{"batches":[{"shape":[2,2],"data":[1,2,3]}]}`,
		"unknown field": `{"batches":[],"labels":[1]}`,
		"zero elements": `{"batches":[{"shape":[0,2],"data":[]}]}`,
	}
	for name, body := range tests {
		if _, err := Parse([]byte(body)); !errors.Is(err, ErrInvalidDataset) {
			t.Fatalf("%s: expected ErrInvalidDataset, got %v", name, err)
		}
	}
}

func TestFeaturesMismatch(t *testing.T) {
	t.Parallel()
	ds, err := Parse([]byte(`{"batches":[{"shape":[1,2],"data":[1,2]},{"shape":[1,3],"data":[1,2,3]}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ds.Features(); !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset, got %v", err)
	}
}

func TestRandomEncodeRoundTrip(t *testing.T) {
	t.Parallel()
	ds := Random(3, 2, 4, 11)
	var buf bytes.Buffer
	if err := ds.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range ds.Batches {
		if !got.Batches[i].Equal(ds.Batches[i]) {
			t.Fatalf("batch %d differs", i)
		}
	}
	if Random(3, 2, 4, 11).Batches[2].Equal(Random(3, 2, 4, 12).Batches[2]) {
		t.Fatal("different seeds produced equal batches")
	}
}
