package api

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/prometheuslm/prometheus/internal/logger"
	"github.com/prometheuslm/prometheus/internal/model"
	"github.com/prometheuslm/prometheus/internal/tensor"
	"github.com/prometheuslm/prometheus/internal/tokenizer"
	"github.com/prometheuslm/prometheus/internal/version"
)

// GenomeTokenizer is the tokenizer surface the server needs.
type GenomeTokenizer interface {
	TokenizeBatch(sequences []string) ([]tokenizer.Encoding, error)
	DetokenizeBatch(batch [][]int, skipSpecial bool) ([]string, error)
	VocabSize() int
}

// Forwarder runs batches of token ids through a model.
type Forwarder interface {
	Forward(ids [][]int, numLastTokens int, cache *model.InferenceCache) (*tensor.Tensor, error)
}

// TextEmbedder and GenomeEmbedder mirror internal/embed.
type TextEmbedder interface {
	EmbedText(texts []string) (*tensor.Tensor, error)
}

type GenomeEmbedder interface {
	EmbedGenomic(seqs []string) (*tensor.Tensor, error)
}

// Server exposes tokenization, embedding and model forward over HTTP.
// A single mutex serializes model access: the model's scratch buffers
// are not safe for concurrent forwards.
type Server struct {
	genome    GenomeTokenizer
	forwarder Forwarder
	textEmb   TextEmbedder
	genomeEmb GenomeEmbedder

	mu sync.Mutex
}

func NewServer(genome GenomeTokenizer, forwarder Forwarder, textEmb TextEmbedder, genomeEmb GenomeEmbedder) *Server {
	return &Server{
		genome:    genome,
		forwarder: forwarder,
		textEmb:   textEmb,
		genomeEmb: genomeEmb,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/tokenize", s.handleTokenize)
	e.POST("/v1/detokenize", s.handleDetokenize)
	e.POST("/v1/embed", s.handleEmbed)
	e.POST("/v1/forward", s.handleForward)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleTokenize(c *echo.Context) error {
	if s.genome == nil {
		return writeUnavailable(c, "no genome tokenizer loaded")
	}
	req, err := decodeJSON[TokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Sequences) == 0 {
		return writeBadRequest(c, "sequences must not be empty")
	}
	encs, err := s.genome.TokenizeBatch(req.Sequences)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	tokens := make([][]string, len(encs))
	ids := make([][]int, len(encs))
	for i, enc := range encs {
		tokens[i] = enc.Tokens
		ids[i] = enc.IDs
	}
	return c.JSON(http.StatusOK, TokenizeResponse{
		Tokens:    tokens,
		IDs:       ids,
		VocabSize: s.genome.VocabSize(),
	})
}

func (s *Server) handleDetokenize(c *echo.Context) error {
	if s.genome == nil {
		return writeUnavailable(c, "no genome tokenizer loaded")
	}
	req, err := decodeJSON[DetokenizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.IDs) == 0 {
		return writeBadRequest(c, "ids must not be empty")
	}
	seqs, err := s.genome.DetokenizeBatch(req.IDs, req.SkipSpecial)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, DetokenizeResponse{Sequences: seqs})
}

func (s *Server) handleEmbed(c *echo.Context) error {
	req, err := decodeJSON[EmbedRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Inputs) == 0 {
		return writeBadRequest(c, "inputs must not be empty")
	}

	var out *tensor.Tensor
	switch req.Kind {
	case "text":
		if s.textEmb == nil {
			return writeUnavailable(c, "no text embedder loaded")
		}
		out, err = s.textEmb.EmbedText(req.Inputs)
	case "genomic":
		if s.genomeEmb == nil {
			return writeUnavailable(c, "no genome embedder loaded")
		}
		out, err = s.genomeEmb.EmbedGenomic(req.Inputs)
	default:
		return writeBadRequest(c, fmt.Sprintf("kind must be text or genomic, got %q", req.Kind))
	}
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, EmbedResponse{Shape: out.Shape, Data: out.Data})
}

func (s *Server) handleForward(c *echo.Context) error {
	if s.forwarder == nil {
		return writeUnavailable(c, "no model loaded")
	}
	req, err := decodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.IDs) == 0 {
		return writeBadRequest(c, "ids must not be empty")
	}

	s.mu.Lock()
	logits, err := s.forwarder.Forward(req.IDs, req.NumLastTokens, nil)
	s.mu.Unlock()
	if err != nil {
		logger.FromContext(c.Request().Context()).Warn("forward failed", "error", err)
		return writeBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, ForwardResponse{Shape: logits.Shape, Logits: logits.Data})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
	})
}

func decodeJSON[T any](r io.Reader) (*T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return nil, badRequestf("decode request: %v", err)
	}
	return &v, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeUnavailable(c *echo.Context, msg string) error {
	return writeError(c, http.StatusServiceUnavailable, "unavailable_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}
