package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/optimizations"
	"github.com/manningwu07/chargpt/utils"
)

// FeedForward is the position-wise C -> 4C -> ReLU -> C sublayer. Each column
// (time step) is transformed independently.
type FeedForward struct {
	Inputs, Hiddens int
	Up              *Linear // (4C x C)
	Down            *Linear // (C x 4C)
	Drop            Dropout
}

// cache for backprop
type ffCache struct {
	X, hiddenPreAct, hiddenOutputs *mat.Dense
	mask                           *mat.Dense
}

func NewFeedForward(name string, nEmbd int, dropout float64, rng *rand.Rand) *FeedForward {
	hidden := 4 * nEmbd
	return &FeedForward{
		Inputs:  nEmbd,
		Hiddens: hidden,
		Up:      NewLinear(name+".up", nEmbd, hidden, true, rng),
		Down:    NewLinear(name+".down", hidden, nEmbd, true, rng),
		Drop:    Dropout{P: dropout},
	}
}

func (ff *FeedForward) Forward(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *ffCache) {
	c := &ffCache{X: X}
	c.hiddenPreAct = ff.Up.Forward(X)            // (h x T)
	c.hiddenOutputs = utils.ReLU(c.hiddenPreAct) // (h x T)
	y := ff.Down.Forward(c.hiddenOutputs)        // (d x T)
	y, c.mask = ff.Drop.Apply(y, training, rng)
	return y, c
}

func (ff *FeedForward) Backward(c *ffCache, grad *mat.Dense) *mat.Dense {
	grad = ff.Drop.Backward(grad, c.mask)
	hiddenGradOut := ff.Down.Backward(c.hiddenOutputs, grad) // dL/d(hidden_out)
	hiddenErrors := utils.ReLUBackward(hiddenGradOut, c.hiddenPreAct)
	return ff.Up.Backward(c.X, hiddenErrors)
}

func (ff *FeedForward) Params() []*optimizations.Param {
	return append(ff.Up.Params(), ff.Down.Params()...)
}
