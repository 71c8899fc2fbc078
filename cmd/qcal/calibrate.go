package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qcal/internal/calibrate"
	"github.com/samcharles93/qcal/internal/dataset"
	"github.com/samcharles93/qcal/internal/logger"
	"github.com/samcharles93/qcal/internal/model"
	"github.com/samcharles93/qcal/internal/report"
	"github.com/samcharles93/qcal/internal/safetensors"
	"github.com/samcharles93/qcal/internal/tensor"
)

func calibrateCmd() *cli.Command {
	var (
		dataPath  string
		passes    int64
		outPath   string
		scalesOut string
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Run calibration batches through a model and report activation scales",
		Flags: append(append(commonModelFlags(), calibrationFlags()...),
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "path to calibration batches (.json)",
				Required:    true,
				Destination: &dataPath,
			},
			&cli.Int64Flag{
				Name:        "passes",
				Usage:       "number of sweeps over the batches",
				Value:       1,
				Destination: &passes,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the JSON report here instead of stdout",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "scales-out",
				Usage:       "write calibrated scales to a .safetensors file",
				Destination: &scalesOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyCalibrationConfig(cmd, LoadConfig(), &passes)

			m, err := model.Load(modelPath)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			ds, err := dataset.Load(dataPath)
			if err != nil {
				return fmt.Errorf("load data: %w", err)
			}
			cal, err := calibrate.New(
				calibrate.WithMomentum(float32(momentum)),
				calibrate.WithLogger(log),
				calibrate.WithCallTrace(int(traceLimit)),
			)
			if err != nil {
				return err
			}

			log.Info("calibrating",
				"model", m.Spec.Name,
				"quantized_modules", len(m.QuantizedModules()),
				"batches", ds.Len(),
				"passes", passes,
			)
			started := time.Now()
			if err := cal.Calibrate(ctx, m.Root, ds.Batches, int(passes)); err != nil {
				return err
			}
			if traceLimit > 0 {
				log.Debug("dispatched functions", "calls", cal.Trace())
			}

			rep := report.Collect(report.Run{
				Model:       m,
				Calibration: cal,
				Batches:     ds.Len(),
				Passes:      int(passes),
				StartedAt:   started,
				FinishedAt:  time.Now(),
			})
			if scalesOut != "" {
				if err := writeScales(scalesOut, m); err != nil {
					return fmt.Errorf("write scales: %w", err)
				}
				log.Info("scales written", "path", scalesOut)
			}
			return writeReport(outPath, rep, os.Stdout)
		},
	}
}

// writeScales stores "<path>.input_scale" and "<path>.output_scale" for every
// quantized module.
func writeScales(path string, m *model.Model) error {
	tensors := make(map[string]*tensor.Tensor)
	for _, nm := range m.QuantizedModules() {
		tensors[nm.Path+".input_scale"] = nm.Module.InputScale()
		tensors[nm.Path+".output_scale"] = nm.Module.OutputScale()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return safetensors.WriteFile(path, tensors)
}

func writeReport(path string, rep *report.Report, stdout io.Writer) (err error) {
	if path == "" {
		return rep.Encode(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return rep.Encode(f)
}
