// Package report summarises the scales produced by a calibration run.
package report

import (
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/qcal/internal/calibrate"
	"github.com/samcharles93/qcal/internal/model"
	"github.com/samcharles93/qcal/internal/tensor"
)

// Scale is a JSON view of a scale tensor.
type Scale struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func scaleOf(t *tensor.Tensor) *Scale {
	if t == nil {
		return nil
	}
	shape := t.Shape()
	if shape == nil {
		shape = []int{}
	}
	return &Scale{Shape: shape, Data: t.Data()}
}

type Module struct {
	Name         string `json:"name"`
	QType        string `json:"qtype,omitempty"`
	Axis         *int   `json:"axis,omitempty"`
	InputScale   *Scale `json:"input_scale"`
	OutputScale  *Scale `json:"output_scale"`
	Observations int    `json:"observations"`
}

type Report struct {
	RunID      string    `json:"run_id"`
	Model      string    `json:"model"`
	Momentum   float32   `json:"momentum"`
	Batches    int       `json:"batches"`
	Passes     int       `json:"passes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Modules    []Module  `json:"modules"`
}

// Run describes a finished calibration run.
type Run struct {
	Model       *model.Model
	Calibration *calibrate.Calibration
	Batches     int
	Passes      int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Collect snapshots every quantized module of the run's model. Observation
// counts come from the calibration's most recent scope.
func Collect(r Run) *Report {
	rep := &Report{
		RunID:      uuid.NewString(),
		Model:      r.Model.Spec.Name,
		Batches:    r.Batches,
		Passes:     r.Passes,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Modules:    Snapshot(r.Model),
	}
	if r.Calibration != nil {
		rep.Momentum = r.Calibration.Momentum()
		for i, nm := range r.Model.QuantizedModules() {
			rep.Modules[i].Observations = r.Calibration.Observed(nm.Module)
		}
	}
	return rep
}

// Snapshot returns the current scales of every quantized module.
func Snapshot(m *model.Model) []Module {
	named := m.QuantizedModules()
	out := make([]Module, 0, len(named))
	for _, nm := range named {
		mod := Module{
			Name:        nm.Path,
			InputScale:  scaleOf(nm.Module.InputScale()),
			OutputScale: scaleOf(nm.Module.OutputScale()),
		}
		if act := nm.Module.Activations(); act != nil {
			mod.QType = act.QType.Name
			mod.Axis = act.Axis
		}
		out = append(out, mod)
	}
	return out
}

func (r *Report) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Decode reads a report written by Encode.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
