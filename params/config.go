package params

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Validate for inconsistent hyperparameters.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the hyperparameters of one run. It is passed by value into every
// constructor and never mutated afterwards.
type Config struct {
	// Core transformer parameters
	VocabSize int // |V|, filled from the vocabulary
	BlockSize int // max context length
	NEmbd     int // embedding width
	NHead     int // attention heads, head size = NEmbd/NHead
	NLayer    int // number of blocks
	Dropout   float64

	// Training
	BatchSize    int
	MaxIters     int
	EvalIters    int // batches per split when estimating loss
	EvalInterval int // estimate every N iterations (0 = EvalIters)
	LearningRate float64

	// Optimization/training wheel parameters
	WarmupSteps int     // linear warmup steps (0 = none)
	DecaySteps  int     // cosine decay steps after warmup (0 = none)
	AdamBeta1   float64 // default 0.9
	AdamBeta2   float64 // default 0.999
	AdamEps     float64 // default 1e-8
	WeightDecay float64 // AdamW decoupled decay on weight matrices
	GradClip    float64 // <=0 disables

	Seed  uint64
	Debug bool // enable debug logs
}

// Arch is the part of a Config that is baked into parameter shapes.
type Arch struct {
	VocabSize int
	BlockSize int
	NEmbd     int
	NHead     int
	NLayer    int
}

// Default is the full-size configuration used for real training runs.
func Default() Config {
	return Config{
		BlockSize:    256,
		NEmbd:        384,
		NHead:        8,
		NLayer:       8,
		Dropout:      0.2,
		BatchSize:    64,
		MaxIters:     5000,
		EvalIters:    500,
		LearningRate: 3e-4,
		AdamBeta1:    0.9,
		AdamBeta2:    0.999,
		AdamEps:      1e-8,
		WeightDecay:  0.01,
		Seed:         1337,
	}
}

// Small is a tiny preset for tests and smoke runs.
func Small() Config {
	c := Default()
	c.BlockSize = 8
	c.NEmbd = 16
	c.NHead = 2
	c.NLayer = 2
	c.Dropout = 0
	c.BatchSize = 4
	c.MaxIters = 200
	c.EvalIters = 10
	c.LearningRate = 1e-2
	c.WeightDecay = 0
	return c
}

// WithVocab returns a copy of c with VocabSize set.
func (c Config) WithVocab(size int) Config {
	c.VocabSize = size
	return c
}

// Arch extracts the structural part of the config.
func (c Config) Arch() Arch {
	return Arch{
		VocabSize: c.VocabSize,
		BlockSize: c.BlockSize,
		NEmbd:     c.NEmbd,
		NHead:     c.NHead,
		NLayer:    c.NLayer,
	}
}

// HeadSize returns the width of one attention head.
func (c Config) HeadSize() int {
	return c.NEmbd / c.NHead
}

// Interval returns how often losses are estimated.
func (c Config) Interval() int {
	if c.EvalInterval > 0 {
		return c.EvalInterval
	}
	return c.EvalIters
}

// Validate checks that the configuration is usable for building a model.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("%w: vocab_size must be positive, got %d", ErrInvalidConfig, c.VocabSize)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: block_size must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	case c.NEmbd <= 0 || c.NHead <= 0:
		return fmt.Errorf("%w: n_embd (%d) and n_head (%d) must be positive", ErrInvalidConfig, c.NEmbd, c.NHead)
	case c.NEmbd%c.NHead != 0:
		return fmt.Errorf("%w: n_embd (%d) must be divisible by n_head (%d)", ErrInvalidConfig, c.NEmbd, c.NHead)
	case c.NLayer <= 0:
		return fmt.Errorf("%w: n_layer must be positive, got %d", ErrInvalidConfig, c.NLayer)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Dropout)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// ValidateTraining additionally checks the fields only the training loop reads.
func (c Config) ValidateTraining() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MaxIters < 0 || c.EvalIters <= 0 {
		return fmt.Errorf("%w: max_iters (%d) must be >= 0 and eval_iters (%d) > 0",
			ErrInvalidConfig, c.MaxIters, c.EvalIters)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	return nil
}
