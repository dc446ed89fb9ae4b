package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/prometheuslm/prometheus/internal/logger"
)

var (
	tokenizerPath string
	modelDir      string
	logLevel      string
	logFormat     string
	debug         bool
)

func tokenizerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "tokenizer",
		Aliases:     []string{"t"},
		Usage:       "path to a trained tokenizer.json",
		Destination: &tokenizerPath,
	}
}

func modelDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "model-dir",
		Aliases:     []string{"m"},
		Usage:       "directory holding config.json and model.safetensors",
		Destination: &modelDir,
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

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
