package model

import "golang.org/x/exp/rand"

// mixer is a sequence mixer stepped one token at a time. Recurrent
// state lives in a mixerState so the same weights can serve several
// concurrent sequences.
type mixer interface {
	// step processes one d_model input vector for batch row b at
	// absolute position pos, writing a d_model output. out may alias
	// x: implementations read x fully before writing out.
	step(st mixerState, b, pos int, out, x []float32)

	// newState allocates recurrent state for batch sequences of at
	// most maxSeqlen tokens.
	newState(batch, maxSeqlen int) mixerState

	// initParams applies the mixer's construction-time weight init.
	initParams(rng *rand.Rand)

	// params enumerates the mixer's weights for checkpoint I/O.
	params(prefix string) []Param
}

type mixerState interface {
	reset()
}

// Param is one named weight tensor. NoReinit marks parameters whose
// construction-time init must survive the global re-init pass.
type Param struct {
	Name     string
	Shape    []int
	Data     []float32
	NoReinit bool
}
