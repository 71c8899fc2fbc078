package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qcal/internal/model"
	"github.com/samcharles93/qcal/internal/nn"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "List the modules of a model and their quantization settings",
		Flags: commonModelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := model.Load(modelPath)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			return printModules(os.Stdout, m)
		},
	}
}

func printModules(w io.Writer, m *model.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tTYPE\tSHAPE\tACTIVATIONS")
	err := nn.Walk(m.Root, func(path string, mod nn.Module) error {
		var kind, shape, act string
		switch v := mod.(type) {
		case *nn.QLinear:
			kind = "qlinear"
			s := v.QWeight().Shape()
			shape = fmt.Sprintf("%dx%d", s[1], s[0])
			act = "none"
			if cfg := v.Activations(); cfg != nil {
				act = cfg.QType.Name
				if cfg.Axis != nil {
					act += fmt.Sprintf(" axis=%d", *cfg.Axis)
				}
			}
		case *nn.Linear:
			kind = "linear"
			shape = fmt.Sprintf("%dx%d", v.InFeatures(), v.OutFeatures())
		case *nn.ReLU:
			kind = "relu"
		case *nn.Sequential:
			kind = "sequential"
		default:
			kind = strings.TrimPrefix(fmt.Sprintf("%T", mod), "*")
		}
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", path, kind, orDash(shape), orDash(act))
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
