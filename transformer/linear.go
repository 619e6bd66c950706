package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/optimizations"
	"github.com/manningwu07/chargpt/utils"
)

const (
	linearInitStd = 0.02
	embedInitStd  = 0.2
)

// Linear computes W*X + b on column-major activations (in x T) -> (out x T).
type Linear struct {
	In, Out int
	W       *optimizations.Param // (out x in)
	B       *optimizations.Param // (out x 1), nil when bias-free
}

func NewLinear(name string, in, out int, bias bool, rng *rand.Rand) *Linear {
	w := mat.NewDense(out, in, nil)
	if rng != nil {
		w = mat.NewDense(out, in, utils.NormalArray(out*in, linearInitStd, rng))
	}
	l := &Linear{
		In:  in,
		Out: out,
		W:   optimizations.NewParam(name+".weight", w, true),
	}
	if bias {
		l.B = optimizations.NewParam(name+".bias", mat.NewDense(out, 1, nil), false)
	}
	return l
}

func (l *Linear) Forward(X *mat.Dense) *mat.Dense {
	y := utils.Dot(l.W.W, X)
	if l.B != nil {
		y = utils.AddBias(y, l.B.W)
	}
	return y
}

// Backward accumulates dW/db for the input X that produced dY and returns dX.
func (l *Linear) Backward(X, dY *mat.Dense) *mat.Dense {
	var dW mat.Dense
	dW.Mul(dY, X.T())
	l.W.G.Add(l.W.G, &dW)
	if l.B != nil {
		l.B.G.Add(l.B.G, utils.SumCols(dY))
	}
	return utils.Dot(l.W.W.T(), dY)
}

func (l *Linear) Params() []*optimizations.Param {
	if l.B == nil {
		return []*optimizations.Param{l.W}
	}
	return []*optimizations.Param{l.W, l.B}
}
