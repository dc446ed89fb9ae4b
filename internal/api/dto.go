package api

// TokenizeRequest encodes one or more genomic sequences.
type TokenizeRequest struct {
	Sequences []string `json:"sequences"`
}

type TokenizeResponse struct {
	Tokens    [][]string `json:"tokens"`
	IDs       [][]int    `json:"ids"`
	VocabSize int        `json:"vocab_size"`
}

// DetokenizeRequest reverses Tokenize. SkipSpecial drops the framing
// and padding tokens from the output.
type DetokenizeRequest struct {
	IDs         [][]int `json:"ids"`
	SkipSpecial bool    `json:"skip_special"`
}

type DetokenizeResponse struct {
	Sequences []string `json:"sequences"`
}

// EmbedRequest embeds either natural-language texts or genomic
// sequences, selected by Kind ("text" or "genomic").
type EmbedRequest struct {
	Kind   string   `json:"kind"`
	Inputs []string `json:"inputs"`
}

type EmbedResponse struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ForwardRequest runs token ids through the model. NumLastTokens <= 0
// returns logits for every position.
type ForwardRequest struct {
	IDs           [][]int `json:"ids"`
	NumLastTokens int     `json:"num_last_tokens"`
}

type ForwardResponse struct {
	Shape  []int     `json:"shape"`
	Logits []float32 `json:"logits"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
