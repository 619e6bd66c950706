package params

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := Small().WithVocab(10).Validate(); err != nil {
		t.Fatalf("small preset invalid: %v", err)
	}
	if err := Default().WithVocab(65).ValidateTraining(); err != nil {
		t.Fatalf("default preset invalid: %v", err)
	}

	bad := map[string]func(*Config){
		"no vocab":      func(c *Config) { c.VocabSize = 0 },
		"indivisible":   func(c *Config) { c.NHead = 3 },
		"dropout one":   func(c *Config) { c.Dropout = 1 },
		"zero layers":   func(c *Config) { c.NLayer = 0 },
		"zero batch":    func(c *Config) { c.BatchSize = 0 },
		"zero blocklen": func(c *Config) { c.BlockSize = 0 },
	}
	for name, mutate := range bad {
		c := Small().WithVocab(10)
		mutate(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: got %v, want ErrInvalidConfig", name, err)
		}
	}

	c := Small().WithVocab(10)
	c.EvalIters = 0
	if err := c.ValidateTraining(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("eval_iters 0: got %v", err)
	}
}

func TestIntervalFallsBackToEvalIters(t *testing.T) {
	c := Default()
	if c.Interval() != c.EvalIters {
		t.Fatalf("interval = %d, want %d", c.Interval(), c.EvalIters)
	}
	c.EvalInterval = 7
	if c.Interval() != 7 {
		t.Fatalf("interval = %d, want 7", c.Interval())
	}
}

func TestArchIgnoresTrainingFields(t *testing.T) {
	a := Small().WithVocab(5)
	b := a
	b.LearningRate, b.MaxIters, b.Dropout = 1, 1, 0.5
	if a.Arch() != b.Arch() {
		t.Fatal("training-only fields changed the architecture")
	}
	b.NLayer++
	if a.Arch() == b.Arch() {
		t.Fatal("layer count not part of the architecture")
	}
}
