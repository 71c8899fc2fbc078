package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qcal/internal/dataset"
	"github.com/samcharles93/qcal/internal/logger"
)

func datasetCmd() *cli.Command {
	var (
		outPath  string
		batches  int64
		rows     int64
		features int64
		seed     int64
	)

	return &cli.Command{
		Name:  "dataset",
		Usage: "Generate a seeded random calibration dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path (.json)",
				Required:    true,
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "batches",
				Usage:       "number of batches",
				Value:       8,
				Destination: &batches,
			},
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "rows per batch",
				Value:       4,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "features",
				Usage:       "features per row",
				Required:    true,
				Destination: &features,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed",
				Value:       1,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			if batches <= 0 || rows <= 0 || features <= 0 {
				return fmt.Errorf("dataset dimensions must be positive: %dx%dx%d", batches, rows, features)
			}
			ds := dataset.Random(int(batches), int(rows), int(features), seed)
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, f.Close())
			}()
			if err := ds.Encode(f); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("dataset written", "path", outPath, "batches", batches)
			return nil
		},
	}
}
