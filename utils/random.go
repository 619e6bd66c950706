package utils

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NewRNG returns a deterministic source for the given seed. Every consumer of
// randomness (init, dropout, corpus offsets, token sampling) receives one of these
// explicitly.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NormalArray draws size values from N(0, std^2).
func NormalArray(size int, std float64, src rand.Source) []float64 {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: std,
		Src:   src,
	}

	data := make([]float64, size)
	for i := range size {
		data[i] = dist.Rand()
	}
	return data
}

// SampleFromProbs draws an index from the (not necessarily normalized)
// distribution probs.
func SampleFromProbs(probs []float64, src rand.Source) int {
	return int(distuv.NewCategorical(probs, src).Rand())
}
