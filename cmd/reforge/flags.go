package main

import "github.com/urfave/cli/v3"

var (
	logLevel  string
	logFormat string

	numHeads   int64
	hiddenSize int64

	noFission    bool
	noBiasGelu   bool
	noAttention  bool
	noProjection bool
)

func commonLogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, text, json, pretty)",
			Value:       "auto",
			Destination: &logFormat,
		},
	}
}

func commonPassFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "num-heads",
			Usage:       "attention head count hint, used when detection fails",
			Destination: &numHeads,
		},
		&cli.Int64Flag{
			Name:        "hidden-size",
			Usage:       "hidden size hint, used when detection fails",
			Destination: &hiddenSize,
		},
		&cli.BoolFlag{
			Name:        "no-fission",
			Usage:       "disable transformer block fission",
			Destination: &noFission,
		},
		&cli.BoolFlag{
			Name:        "no-bias-gelu",
			Usage:       "disable bias-gelu fusion",
			Destination: &noBiasGelu,
		},
		&cli.BoolFlag{
			Name:        "no-attention",
			Usage:       "disable attention fusion",
			Destination: &noAttention,
		},
		&cli.BoolFlag{
			Name:        "no-projection",
			Usage:       "disable projection fusion",
			Destination: &noProjection,
		},
	}
}
