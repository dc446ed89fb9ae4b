package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/prometheuslm/prometheus/internal/model"
)

func modelCmd() *cli.Command {
	return &cli.Command{
		Name:  "model",
		Usage: "Initialize and inspect model checkpoints",
		Commands: []*cli.Command{
			modelInitCmd(),
			modelInspectCmd(),
		},
	}
}

func modelInitCmd() *cli.Command {
	var (
		configFile string
		outDir     string
		seed       int64
	)
	return &cli.Command{
		Name:  "init",
		Usage: "Create a freshly initialized checkpoint",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "config",
				Usage:       "config.json to build from (defaults to the reference hyperparameters)",
				Destination: &configFile,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output checkpoint directory",
				Required:    true,
				Destination: &outDir,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "init seed",
				Value:       42,
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()

			cfg := model.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = model.LoadConfig(configFile)
				if err != nil {
					return err
				}
			}
			m, err := model.New(cfg)
			if err != nil {
				return err
			}
			m.InitWeights(uint64(seed))
			if err := m.SavePretrained(outDir); err != nil {
				return err
			}
			log.Info("checkpoint written",
				"dir", outDir,
				"parameters", m.NumParameters(),
				"n_layer", m.Cfg.NLayer,
				"d_model", m.Cfg.DModel)
			return nil
		},
	}
}

func modelInspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print checkpoint configuration and tensor names",
		Flags: append(loggingFlags(), modelDirFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			if modelDir == "" {
				return fmt.Errorf("no model directory: pass --model-dir or set model_dir in the config file")
			}
			m, err := model.FromPretrained(modelDir)
			if err != nil {
				return err
			}
			fmt.Printf("d_model:       %d\n", m.Cfg.DModel)
			fmt.Printf("n_layer:       %d\n", m.Cfg.NLayer)
			fmt.Printf("vocab_size:    %d (padded %d)\n", m.Cfg.VocabSize, m.Cfg.PaddedVocabSize())
			fmt.Printf("ssm layer:     %s\n", orDefault(m.Cfg.SSMCfg.Layer, "Mamba1"))
			fmt.Printf("attn layers:   %v\n", m.Cfg.AttnLayerIdx)
			fmt.Printf("tied lm_head:  %v\n", m.Tied())
			fmt.Printf("parameters:    %d\n", m.NumParameters())
			fmt.Println("tensors:")
			for _, name := range m.ParamNames() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
