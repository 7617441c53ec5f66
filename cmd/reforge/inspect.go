package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	var inputPath string

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a summary of a graph: operator histogram and I/O",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to graph JSON",
				Required:    true,
				Destination: &inputPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, err := loadGraph(inputPath)
			if err != nil {
				return err
			}

			fmt.Printf("graph:        %s\n", g.Name)
			fmt.Printf("opset:        %d\n", g.OpsetVersion)
			fmt.Printf("nodes:        %d\n", len(g.Nodes))
			fmt.Printf("initializers: %d\n", len(g.Initializers))
			fmt.Printf("inputs:       %s\n", strings.Join(g.Inputs, ", "))
			fmt.Printf("outputs:      %s\n", strings.Join(g.Outputs, ", "))

			counts := g.OpCounts()
			ops := make([]string, 0, len(counts))
			for op := range counts {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			fmt.Println("operators:")
			for _, op := range ops {
				fmt.Printf("  %-28s %d\n", op, counts[op])
			}
			return nil
		},
	}
}
