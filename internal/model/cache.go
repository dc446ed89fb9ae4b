package model

// InferenceCache holds the per-layer recurrent state for incremental
// decoding. SeqlenOffset is the absolute position of the next token
// fed through Forward with this cache.
type InferenceCache struct {
	SeqlenOffset int
	MaxBatch     int
	MaxSeqlen    int

	layers []mixerState
}

// Reset clears all recurrent state so the cache can serve a fresh
// batch of sequences.
func (c *InferenceCache) Reset() {
	c.SeqlenOffset = 0
	for _, st := range c.layers {
		st.reset()
	}
}
