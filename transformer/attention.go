package transformer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/optimizations"
	"github.com/manningwu07/chargpt/utils"
)

// Head is one causal self-attention head with bias-free Q/K/V projections.
type Head struct {
	HeadSize int
	Key      *Linear // (hs x C)
	Query    *Linear // (hs x C)
	Value    *Linear // (hs x C)
	Drop     Dropout
}

// cache for backprop
type headCache struct {
	X       *mat.Dense // (C x T)
	Q, K, V *mat.Dense // (hs x T)
	A       *mat.Dense // (T x T) softmax weights
	ADrop   *mat.Dense // (T x T) after dropout
	mask    *mat.Dense
}

func NewHead(name string, nEmbd, headSize int, dropout float64, rng *rand.Rand) *Head {
	return &Head{
		HeadSize: headSize,
		Key:      NewLinear(name+".key", nEmbd, headSize, false, rng),
		Query:    NewLinear(name+".query", nEmbd, headSize, false, rng),
		Value:    NewLinear(name+".value", nEmbd, headSize, false, rng),
		Drop:     Dropout{P: dropout},
	}
}

// Forward: X (C x T) -> (hs x T).
func (h *Head) Forward(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *headCache) {
	c := &headCache{X: X}
	c.K = h.Key.Forward(X)
	c.Q = h.Query.Forward(X)
	c.V = h.Value.Forward(X)

	// S[i,j] = q_i . k_j / sqrt(hs); row i is the query position
	scores := utils.Dot(c.Q.T(), c.K)
	scores.Scale(1.0/math.Sqrt(float64(h.HeadSize)), scores)
	c.A = utils.CausalRowSoftmax(scores)
	c.ADrop, c.mask = h.Drop.Apply(c.A, training, rng)

	// O = V * A^T
	return utils.Dot(c.V, c.ADrop.T()), c
}

// Weights returns the post-softmax attention matrix (T x T) for X with
// dropout disabled.
func (h *Head) Weights(X *mat.Dense) *mat.Dense {
	_, c := h.Forward(X, false, nil)
	return c.A
}

func (h *Head) Backward(c *headCache, dO *mat.Dense) *mat.Dense {
	// O = V * A^T
	dV := utils.Dot(dO, c.ADrop)     // (hs x T)
	dADrop := utils.Dot(dO.T(), c.V) // (T x T)
	dA := h.Drop.Backward(dADrop, c.mask)

	// A = causal softmax_row(S)
	dS := utils.SoftmaxBackward(dA, c.A)

	// S = Q^T K / sqrt(hs)
	rescale := 1.0 / math.Sqrt(float64(h.HeadSize))
	dQ := utils.Scale(rescale, utils.Dot(c.K, dS.T())) // (hs x T)
	dK := utils.Scale(rescale, utils.Dot(c.Q, dS))     // (hs x T)

	dX := h.Query.Backward(c.X, dQ)
	dX.Add(dX, h.Key.Backward(c.X, dK))
	dX.Add(dX, h.Value.Backward(c.X, dV))
	return dX
}

func (h *Head) Params() []*optimizations.Param {
	ps := h.Key.Params()
	ps = append(ps, h.Query.Params()...)
	return append(ps, h.Value.Params()...)
}

// MultiHeadAttention runs its heads over the same input, concatenates their
// outputs in head order along the channel axis and projects back to C.
type MultiHeadAttention struct {
	NumHeads int
	HeadSize int
	Heads    []*Head
	Proj     *Linear // (C x H*hs)
	Drop     Dropout
}

type mhaCache struct {
	heads []*headCache
	cat   *mat.Dense // (H*hs x T)
	mask  *mat.Dense
}

// NewMultiHeadAttention builds numHeads heads of width headSize whose
// concatenation is projected back to nEmbd.
func NewMultiHeadAttention(name string, nEmbd, numHeads, headSize int, dropout float64, rng *rand.Rand) *MultiHeadAttention {
	mha := &MultiHeadAttention{
		NumHeads: numHeads,
		HeadSize: headSize,
		Heads:    make([]*Head, numHeads),
		Drop:     Dropout{P: dropout},
	}
	for i := range numHeads {
		mha.Heads[i] = NewHead(fmt.Sprintf("%s.heads.%d", name, i), nEmbd, headSize, dropout, rng)
	}
	mha.Proj = NewLinear(name+".proj", headSize*numHeads, nEmbd, true, rng)
	return mha
}

func (m *MultiHeadAttention) Forward(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *mhaCache) {
	_, T := X.Dims()
	c := &mhaCache{
		heads: make([]*headCache, m.NumHeads),
		cat:   mat.NewDense(m.NumHeads*m.HeadSize, T, nil),
	}
	for h, head := range m.Heads {
		out, hc := head.Forward(X, training, rng)
		c.heads[h] = hc
		// concat into rows [h*hs, (h+1)*hs)
		base := h * m.HeadSize
		dst := c.cat.Slice(base, base+m.HeadSize, 0, T).(*mat.Dense)
		dst.Copy(out)
	}
	y := m.Proj.Forward(c.cat)
	y, c.mask = m.Drop.Apply(y, training, rng)
	return y, c
}

func (m *MultiHeadAttention) Backward(c *mhaCache, dY *mat.Dense) *mat.Dense {
	dY = m.Drop.Backward(dY, c.mask)
	dCat := m.Proj.Backward(c.cat, dY)
	_, T := dCat.Dims()

	var dX *mat.Dense
	for h, head := range m.Heads {
		base := h * m.HeadSize
		dO := mat.DenseCopyOf(dCat.Slice(base, base+m.HeadSize, 0, T))
		dXh := head.Backward(c.heads[h], dO)
		if dX == nil {
			dX = dXh
		} else {
			dX.Add(dX, dXh)
		}
	}
	return dX
}

func (m *MultiHeadAttention) Params() []*optimizations.Param {
	var ps []*optimizations.Param
	for _, h := range m.Heads {
		ps = append(ps, h.Params()...)
	}
	return append(ps, m.Proj.Params()...)
}
