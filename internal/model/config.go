package model

import (
	"fmt"
	"math"
	"os"

	json "github.com/goccy/go-json"
)

// MixerKind selects the sequence mixer used by a layer.
type MixerKind int

const (
	MixerMamba1 MixerKind = iota
	MixerMamba2
	MixerAttention
)

func (k MixerKind) String() string {
	switch k {
	case MixerMamba1:
		return "Mamba1"
	case MixerMamba2:
		return "Mamba2"
	case MixerAttention:
		return "Attention"
	default:
		return fmt.Sprintf("MixerKind(%d)", int(k))
	}
}

// SSMConfig holds the state-space mixer hyperparameters shared by both
// Mamba variants. Zero values fall back to defaults at Validate time.
type SSMConfig struct {
	Layer   string `json:"layer,omitempty"`
	DState  int    `json:"d_state,omitempty"`
	DConv   int    `json:"d_conv,omitempty"`
	Expand  int    `json:"expand,omitempty"`
	DtRank  int    `json:"dt_rank,omitempty"`
	HeadDim int    `json:"headdim,omitempty"`
	NGroups int    `json:"ngroups,omitempty"`

	DtMin       float64 `json:"dt_min,omitempty"`
	DtMax       float64 `json:"dt_max,omitempty"`
	DtInitFloor float64 `json:"dt_init_floor,omitempty"`
}

// AttnConfig holds the hyperparameters for attention layers.
type AttnConfig struct {
	NumHeads      int     `json:"num_heads"`
	NumHeadsKV    int     `json:"num_heads_kv,omitempty"`
	HeadDim       int     `json:"head_dim,omitempty"`
	RotaryEmbDim  int     `json:"rotary_emb_dim,omitempty"`
	RotaryEmbBase float64 `json:"rotary_emb_base,omitempty"`
	QKVProjBias   bool    `json:"qkv_proj_bias,omitempty"`
	OutProjBias   bool    `json:"out_proj_bias,omitempty"`
}

// Config describes a full model. The JSON field names match the
// config.json convention used by published Mamba checkpoints.
type Config struct {
	DModel                 int        `json:"d_model"`
	DIntermediate          int        `json:"d_intermediate"`
	NLayer                 int        `json:"n_layer"`
	VocabSize              int        `json:"vocab_size"`
	SSMCfg                 SSMConfig  `json:"ssm_cfg"`
	AttnLayerIdx           []int      `json:"attn_layer_idx,omitempty"`
	AttnCfg                AttnConfig `json:"attn_cfg,omitempty"`
	RMSNorm                bool       `json:"rms_norm"`
	ResidualInFP32         bool       `json:"residual_in_fp32"`
	FusedAddNorm           bool       `json:"fused_add_norm"`
	NormEpsilon            float64    `json:"norm_epsilon,omitempty"`
	PadVocabSizeMultiple   int        `json:"pad_vocab_size_multiple"`
	TieEmbeddings          bool       `json:"tie_embeddings"`
	InitializerRange       float64    `json:"initializer_range,omitempty"`
	RescalePrenormResidual bool       `json:"rescale_prenorm_residual,omitempty"`
}

// DefaultConfig returns the hyperparameters of the mamba-2.8b reference
// checkpoint.
func DefaultConfig() Config {
	return Config{
		DModel:                 2560,
		DIntermediate:          0,
		NLayer:                 64,
		VocabSize:              50277,
		RMSNorm:                true,
		ResidualInFP32:         true,
		FusedAddNorm:           true,
		NormEpsilon:            1e-5,
		PadVocabSizeMultiple:   8,
		TieEmbeddings:          true,
		InitializerRange:       0.02,
		RescalePrenormResidual: true,
	}
}

func parseSSMLayer(s string) (MixerKind, error) {
	switch s {
	case "", "Mamba1":
		return MixerMamba1, nil
	case "Mamba2":
		return MixerMamba2, nil
	default:
		return 0, fmt.Errorf("invalid ssm_cfg.layer %q: must be Mamba1 or Mamba2", s)
	}
}

// MixerKindForLayer reports which mixer layer i uses under this config.
func (c *Config) MixerKindForLayer(i int) (MixerKind, error) {
	for _, idx := range c.AttnLayerIdx {
		if idx == i {
			return MixerAttention, nil
		}
	}
	return parseSSMLayer(c.SSMCfg.Layer)
}

// PaddedVocabSize returns the vocabulary size rounded up to the
// configured multiple.
func (c *Config) PaddedVocabSize() int {
	v := c.VocabSize
	m := c.PadVocabSizeMultiple
	if m > 1 && v%m != 0 {
		v += m - v%m
	}
	return v
}

// Validate fills defaults and rejects configurations the runtime
// cannot build.
func (c *Config) Validate() error {
	if c.DModel <= 0 {
		return fmt.Errorf("d_model must be positive, got %d", c.DModel)
	}
	if c.NLayer <= 0 {
		return fmt.Errorf("n_layer must be positive, got %d", c.NLayer)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.DIntermediate < 0 {
		return fmt.Errorf("d_intermediate must be non-negative, got %d", c.DIntermediate)
	}
	if c.NormEpsilon == 0 {
		c.NormEpsilon = 1e-5
	}
	if c.PadVocabSizeMultiple == 0 {
		c.PadVocabSizeMultiple = 1
	}
	if c.InitializerRange == 0 {
		c.InitializerRange = 0.02
	}

	kind, err := parseSSMLayer(c.SSMCfg.Layer)
	if err != nil {
		return err
	}
	s := &c.SSMCfg
	if s.DState == 0 {
		if kind == MixerMamba2 {
			s.DState = 128
		} else {
			s.DState = 16
		}
	}
	if s.DConv == 0 {
		s.DConv = 4
	}
	if s.Expand == 0 {
		s.Expand = 2
	}
	if s.DtRank == 0 {
		s.DtRank = int(math.Ceil(float64(c.DModel) / 16))
	}
	if s.HeadDim == 0 {
		s.HeadDim = 64
	}
	if s.NGroups == 0 {
		s.NGroups = 1
	}
	if s.DtMin == 0 {
		s.DtMin = 0.001
	}
	if s.DtMax == 0 {
		s.DtMax = 0.1
	}
	if s.DtInitFloor == 0 {
		s.DtInitFloor = 1e-4
	}
	if kind == MixerMamba2 {
		dInner := s.Expand * c.DModel
		if dInner%s.HeadDim != 0 {
			return fmt.Errorf("expand*d_model (%d) must be divisible by headdim (%d)", dInner, s.HeadDim)
		}
	}

	for _, idx := range c.AttnLayerIdx {
		if idx < 0 || idx >= c.NLayer {
			return fmt.Errorf("attn_layer_idx %d out of range [0, %d)", idx, c.NLayer)
		}
	}
	if len(c.AttnLayerIdx) > 0 {
		a := &c.AttnCfg
		if a.NumHeads <= 0 {
			return fmt.Errorf("attn_cfg.num_heads must be positive when attn_layer_idx is set")
		}
		if a.HeadDim == 0 {
			if c.DModel%a.NumHeads != 0 {
				return fmt.Errorf("d_model (%d) not divisible by num_heads (%d)", c.DModel, a.NumHeads)
			}
			a.HeadDim = c.DModel / a.NumHeads
		}
		if a.NumHeadsKV == 0 {
			a.NumHeadsKV = a.NumHeads
		}
		if a.NumHeads%a.NumHeadsKV != 0 {
			return fmt.Errorf("num_heads (%d) not divisible by num_heads_kv (%d)", a.NumHeads, a.NumHeadsKV)
		}
		if a.RotaryEmbDim < 0 || a.RotaryEmbDim > a.HeadDim {
			return fmt.Errorf("rotary_emb_dim %d out of range [0, %d]", a.RotaryEmbDim, a.HeadDim)
		}
		if a.RotaryEmbDim%2 != 0 {
			return fmt.Errorf("rotary_emb_dim must be even, got %d", a.RotaryEmbDim)
		}
		if a.RotaryEmbBase == 0 {
			a.RotaryEmbBase = 10000
		}
	}
	return nil
}

// LoadConfig reads and validates a config.json.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as indented JSON.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
