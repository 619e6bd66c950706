package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/utils"
)

// Dropout zeroes activations with probability P during training and rescales
// the survivors by 1/(1-P). Outside training it is the identity.
type Dropout struct {
	P float64
}

// Apply returns the dropped activations and the scaled keep-mask (nil when
// dropout was not applied).
func (d Dropout) Apply(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	if !training || d.P == 0 {
		return X, nil
	}
	r, c := X.Dims()
	keep := 1 / (1 - d.P)
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() >= d.P {
				mask.Set(i, j, keep)
			}
		}
	}
	return utils.Multiply(X, mask), mask
}

func (d Dropout) Backward(dY, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return dY
	}
	return utils.Multiply(dY, mask)
}
