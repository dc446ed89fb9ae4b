package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/prometheuslm/prometheus/internal/tokenizer"
)

func tokenizerCmd() *cli.Command {
	return &cli.Command{
		Name:  "tokenizer",
		Usage: "Train and use the genomic BPE tokenizer",
		Commands: []*cli.Command{
			tokenizerTrainCmd(),
			tokenizerEncodeCmd(),
			tokenizerDecodeCmd(),
		},
	}
}

func tokenizerTrainCmd() *cli.Command {
	var (
		corpusPath string
		outPath    string
		vocabSize  int64
	)
	return &cli.Command{
		Name:  "train",
		Usage: "Train a BPE vocabulary from a corpus of sequences (one per line)",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "path to the training corpus",
				Required:    true,
				Destination: &corpusPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output tokenizer.json path",
				Value:       "tokenizer.json",
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "vocab-size",
				Usage:       "vocabulary size including special tokens",
				Value:       4096,
				Destination: &vocabSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()

			sequences, err := readCorpus(corpusPath)
			if err != nil {
				return err
			}
			log.Info("training tokenizer",
				"corpus", corpusPath,
				"sequences", len(sequences),
				"vocab_size", vocabSize)

			g, err := tokenizer.TrainGenome(sequences, int(vocabSize))
			if err != nil {
				return err
			}
			if err := g.Save(outPath); err != nil {
				return err
			}
			log.Info("tokenizer saved", "path", outPath, "vocab_size", g.VocabSize())
			return nil
		},
	}
}

// readCorpus loads one sequence per line, showing progress for large
// corpora.
func readCorpus(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription("Reading corpus"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var sequences []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		_ = bar.Add(len(sc.Bytes()) + 1)
		if line == "" {
			continue
		}
		sequences = append(sequences, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	_ = bar.Finish()
	fmt.Println()
	if len(sequences) == 0 {
		return nil, fmt.Errorf("corpus %s contains no sequences", path)
	}
	return sequences, nil
}

func tokenizerEncodeCmd() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode sequences to token ids",
		ArgsUsage: "SEQUENCE [SEQUENCE...]",
		Flags:     append(loggingFlags(), tokenizerFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			g, err := loadTokenizer()
			if err != nil {
				return err
			}
			seqs := cmd.Args().Slice()
			if len(seqs) == 0 {
				return fmt.Errorf("no sequences given")
			}
			batch, err := g.TokenizeBatch(seqs)
			if err != nil {
				return err
			}
			for i, enc := range batch {
				fmt.Printf("%s\t%v\t%v\n", seqs[i], enc.Tokens, enc.IDs)
			}
			return nil
		},
	}
}

func tokenizerDecodeCmd() *cli.Command {
	var keepSpecial bool
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode token ids back to a sequence",
		ArgsUsage: "ID [ID...]",
		Flags: append(loggingFlags(), tokenizerFlag(),
			&cli.BoolFlag{
				Name:        "keep-special",
				Usage:       "keep special tokens in the output",
				Destination: &keepSpecial,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyCommonConfig(cmd, LoadConfig())
			g, err := loadTokenizer()
			if err != nil {
				return err
			}
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("no token ids given")
			}
			ids := make([]int, len(args))
			for i, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("invalid token id %q: %w", a, err)
				}
				ids[i] = id
			}
			seq, err := g.Detokenize(ids, !keepSpecial)
			if err != nil {
				return err
			}
			fmt.Println(seq)
			return nil
		},
	}
}

func loadTokenizer() (*tokenizer.Genome, error) {
	if tokenizerPath == "" {
		return nil, fmt.Errorf("no tokenizer path: pass --tokenizer or set tokenizer_path in the config file")
	}
	return tokenizer.LoadGenome(tokenizerPath)
}
