package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/prometheuslm/prometheus/internal/api"
	"github.com/prometheuslm/prometheus/internal/embed"
	"github.com/prometheuslm/prometheus/internal/model"
	"github.com/prometheuslm/prometheus/internal/tokenizer"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		embedDim    int64
		seed        int64
		rateLimit   float64
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve tokenization, embedding and forward passes over HTTP",
		Flags: append(append(loggingFlags(), tokenizerFlag(), modelDirFlag()),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "embed-dim",
				Aliases:     []string{"dim"},
				Usage:       "embedding dimension for /v1/embed",
				Value:       256,
				Destination: &embedDim,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "embedding table seed",
				Value:       42,
				Destination: &seed,
			},
			&cli.FloatFlag{
				Name:        "rate-limit",
				Usage:       "sustained requests per second (0 disables)",
				Value:       50,
				Destination: &rateLimit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr)
			log := buildLogger()

			var (
				genome    api.GenomeTokenizer
				forwarder api.Forwarder
				textEmb   api.TextEmbedder
				genomeEmb api.GenomeEmbedder
			)
			if tokenizerPath != "" {
				g, err := tokenizer.LoadGenome(tokenizerPath)
				if err != nil {
					return err
				}
				genome = g
				ge, err := embed.NewGenomeEmbedder(g, int(embedDim), uint64(seed))
				if err != nil {
					return err
				}
				genomeEmb = ge
				log.Info("tokenizer loaded", "path", tokenizerPath, "vocab_size", g.VocabSize())
			}
			if te, err := embed.NewTextEmbedder("", int(embedDim), uint64(seed)); err == nil {
				textEmb = te
			} else {
				log.Warn("text embedder unavailable", "error", err)
			}
			if modelDir != "" {
				m, err := model.FromPretrained(modelDir)
				if err != nil {
					return err
				}
				forwarder = m
				log.Info("model loaded",
					"dir", modelDir,
					"n_layer", m.Cfg.NLayer,
					"parameters", m.NumParameters())
			}

			server := api.NewServer(genome, forwarder, textEmb, genomeEmb)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.RequestID(log))
			if rateLimit > 0 {
				e.Use(api.RateLimit(rateLimit, int(rateLimit)*2))
			}
			server.Register(e)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
