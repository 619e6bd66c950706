package transformer

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/manningwu07/chargpt/utils"
)

var (
	// ErrEmptyContext is returned when generation is asked to extend an empty sequence.
	ErrEmptyContext = errors.New("generation needs a non-empty context")
	// ErrTokenCount is returned for a negative number of tokens to generate.
	ErrTokenCount = errors.New("max new tokens must not be negative")
)

// Generate extends every context by maxNewTokens tokens. Each step crops the
// running sequences to the last BlockSize tokens, runs a forward pass, and
// samples the next token from the softmax over the final position's logits.
// The whole window is recomputed at every step.
func (m *Model) Generate(contexts [][]int, maxNewTokens int, rng *rand.Rand) ([][]int, error) {
	if maxNewTokens < 0 {
		return nil, fmt.Errorf("%w: %d", ErrTokenCount, maxNewTokens)
	}
	if len(contexts) == 0 {
		return nil, ErrEmptyContext
	}
	L := len(contexts[0])
	seqs := make([][]int, len(contexts))
	for b, ctx := range contexts {
		if len(ctx) == 0 {
			return nil, ErrEmptyContext
		}
		if len(ctx) != L {
			return nil, fmt.Errorf("generate: context %d has length %d, want %d", b, len(ctx), L)
		}
		seqs[b] = make([]int, L, L+maxNewTokens)
		copy(seqs[b], ctx)
	}

	cond := make([][]int, len(seqs))
	err := m.NoGrad(func() error {
		for step := 0; step < maxNewTokens; step++ {
			for b, seq := range seqs {
				cond[b] = seq[max(0, len(seq)-m.Config.BlockSize):]
			}
			out, err := m.Forward(cond, nil)
			if err != nil {
				return fmt.Errorf("generate step %d: %w", step, err)
			}
			for b, logits := range out.Logits {
				_, T := logits.Dims()
				probs := utils.Softmax(utils.Col(logits, T-1))
				seqs[b] = append(seqs[b], utils.SampleFromProbs(probs, rng))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seqs, nil
}

// GenerateOne is Generate for a single context.
func (m *Model) GenerateOne(context []int, maxNewTokens int, rng *rand.Rand) ([]int, error) {
	out, err := m.Generate([][]int{context}, maxNewTokens, rng)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
