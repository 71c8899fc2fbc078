package main

import "github.com/urfave/cli/v3"

var (
	modelPath  string
	momentum   float64
	traceLimit int64
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model .yaml description",
			Required:    true,
			Destination: &modelPath,
		},
	}
}

func calibrationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "momentum",
			Usage:       "output scale momentum in (0, 1]",
			Value:       0.9,
			Destination: &momentum,
		},
		&cli.Int64Flag{
			Name:        "trace",
			Usage:       "record up to N dispatched function calls (0 disables)",
			Destination: &traceLimit,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
