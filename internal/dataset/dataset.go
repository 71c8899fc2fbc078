// Package dataset loads calibration batches from JSON files.
package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qcal/internal/tensor"
)

var ErrInvalidDataset = errors.New("dataset: invalid dataset")

// Batch is the wire form of one input tensor.
type Batch struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type fileJSON struct {
	Batches []Batch `json:"batches"`
}

// Dataset is an ordered list of input batches.
type Dataset struct {
	Batches []*tensor.Tensor
}

func (d *Dataset) Len() int { return len(d.Batches) }

// Load reads a dataset file of the form
//
//	{"batches": [{"shape": [2, 4], "data": [...]}, ...]}
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Dataset, error) {
	var raw fileJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return New(raw.Batches)
}

// New validates batches and converts them to tensors.
func New(batches []Batch) (*Dataset, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("%w: no batches", ErrInvalidDataset)
	}
	ds := &Dataset{Batches: make([]*tensor.Tensor, 0, len(batches))}
	for i, b := range batches {
		if len(b.Shape) == 0 {
			return nil, fmt.Errorf("%w: batch %d has no shape", ErrInvalidDataset, i)
		}
		t, err := tensor.New(b.Shape, b.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d: %v", ErrInvalidDataset, i, err)
		}
		if t.Len() == 0 {
			return nil, fmt.Errorf("%w: batch %d has no elements", ErrInvalidDataset, i)
		}
		ds.Batches = append(ds.Batches, t)
	}
	return ds, nil
}

func Parse(data []byte) (*Dataset, error) {
	return Decode(bytes.NewReader(data))
}

// Features returns the size of the last dimension shared by every batch, or
// an error when batches disagree.
func (d *Dataset) Features() (int, error) {
	features := -1
	for i, b := range d.Batches {
		shape := b.Shape()
		n := shape[len(shape)-1]
		if features >= 0 && n != features {
			return 0, fmt.Errorf("%w: batch %d has %d features, want %d", ErrInvalidDataset, i, n, features)
		}
		features = n
	}
	return features, nil
}

// Encode writes d in the format read by Decode.
func (d *Dataset) Encode(w io.Writer) error {
	raw := fileJSON{Batches: make([]Batch, len(d.Batches))}
	for i, b := range d.Batches {
		raw.Batches[i] = Batch{Shape: b.Shape(), Data: b.Data()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

// Random returns n seeded batches of shape [rows, features].
func Random(n, rows, features int, seed int64) *Dataset {
	ds := &Dataset{Batches: make([]*tensor.Tensor, n)}
	for i := range n {
		t := tensor.Zeros(rows, features)
		tensor.FillRand(t, seed+int64(i))
		ds.Batches[i] = t
	}
	return ds
}
