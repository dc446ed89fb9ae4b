package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/prometheuslm/prometheus/internal/embed"
)

func embedCmd() *cli.Command {
	var (
		kind string
		dim  int64
		seed int64
	)
	return &cli.Command{
		Name:      "embed",
		Usage:     "Embed texts or genomic sequences into a dense tensor",
		ArgsUsage: "INPUT [INPUT...]",
		Flags: append(loggingFlags(), tokenizerFlag(),
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "input kind (text, genomic)",
				Value:       "genomic",
				Destination: &kind,
			},
			&cli.Int64Flag{
				Name:        "dim",
				Usage:       "embedding dimension",
				Value:       256,
				Destination: &dim,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "embedding table seed",
				Value:       42,
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEmbedConfig(cmd, LoadConfig(), &dim, &seed)
			inputs := cmd.Args().Slice()
			if len(inputs) == 0 {
				return fmt.Errorf("no inputs given")
			}

			switch kind {
			case "text":
				e, err := embed.NewTextEmbedder("", int(dim), uint64(seed))
				if err != nil {
					return err
				}
				out, err := e.EmbedText(inputs)
				if err != nil {
					return err
				}
				fmt.Printf("shape: %v\n", out.Shape)
			case "genomic":
				g, err := loadTokenizer()
				if err != nil {
					return err
				}
				e, err := embed.NewGenomeEmbedder(g, int(dim), uint64(seed))
				if err != nil {
					return err
				}
				out, err := e.EmbedGenomic(inputs)
				if err != nil {
					return err
				}
				fmt.Printf("shape: %v\n", out.Shape)
			default:
				return fmt.Errorf("kind must be text or genomic, got %q", kind)
			}
			return nil
		},
	}
}
