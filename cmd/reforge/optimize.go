package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/calebsw/reforge/internal/fusion"
	"github.com/calebsw/reforge/internal/graph"
)

func optimizeCmd() *cli.Command {
	var (
		inputPath  string
		outputPath string
		force      bool
	)

	return &cli.Command{
		Name:  "optimize",
		Usage: "Apply fusion passes to a graph and write the result",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to input graph JSON",
				Required:    true,
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path to output graph JSON",
				Required:    true,
				Destination: &outputPath,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "write the output even when no pass applied",
				Destination: &force,
			},
		}, commonPassFlags()...), commonLogFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, loadConfig())
			log := newLogger()

			g, err := loadGraph(inputPath)
			if err != nil {
				return err
			}

			before := len(g.Nodes)
			changed, err := fusion.Optimize(g, passOptions(), log)
			if err != nil {
				return err
			}
			log.Info("optimization finished",
				"changed", changed,
				"nodes_before", before,
				"nodes_after", len(g.Nodes),
			)

			if !changed && !force {
				fmt.Println("graph unchanged, output not written")
				return nil
			}
			if err := g.Validate(); err != nil {
				return err
			}
			return saveGraph(outputPath, g)
		},
	}
}

func passOptions() fusion.Options {
	opts := fusion.DefaultOptions()
	opts.EnableFission = !noFission
	opts.EnableBiasGelu = !noBiasGelu
	opts.EnableAttention = !noAttention
	opts.EnableProjection = !noProjection
	opts.NumHeads = int(numHeads)
	opts.HiddenSize = int(hiddenSize)
	return opts
}

func loadGraph(path string) (*graph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	g, err := graph.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func saveGraph(path string, g *graph.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return graph.Encode(f, g)
}
