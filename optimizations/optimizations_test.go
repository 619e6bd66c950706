package optimizations

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/params"
	"github.com/manningwu07/chargpt/utils"
)

func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-5 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g", name, i, j, numGrad, anaGrad)
	}
}

func TestLayerNormGradCheck(t *testing.T) {
	rng := utils.NewRNG(11)
	d, T := 6, 3
	ln := NewLayerNorm("ln", d, 1e-5)
	ln.Gamma.W.Copy(mat.NewDense(d, 1, utils.NormalArray(d, 1, rng)))
	ln.Beta.W.Copy(mat.NewDense(d, 1, utils.NormalArray(d, 1, rng)))

	X := mat.NewDense(d, T, utils.NormalArray(d*T, 1, rng))
	R := mat.NewDense(d, T, utils.NormalArray(d*T, 1, rng))

	forward := func() float64 {
		y, _ := ln.Forward(X)
		return mat.Sum(utils.Multiply(R, y))
	}
	_, c := ln.Forward(X)
	dX := ln.Backward(c, R)

	for _, ij := range [][2]int{{0, 0}, {3, 1}, {5, 2}} {
		finiteDiffCheck(t, "X", X, dX, forward, ij[0], ij[1])
	}
	for _, i := range []int{0, 2, 5} {
		finiteDiffCheck(t, "gamma", ln.Gamma.W, ln.Gamma.G, forward, i, 0)
		finiteDiffCheck(t, "beta", ln.Beta.W, ln.Beta.G, forward, i, 0)
	}
}

func TestLayerNormNormalizesColumns(t *testing.T) {
	ln := NewLayerNorm("ln", 4, 1e-5)
	X := mat.NewDense(4, 2, []float64{1, 10, 2, 20, 3, 30, 4, 40})
	y, _ := ln.Forward(X)
	for j := 0; j < 2; j++ {
		col := utils.Col(y, j)
		mean, sq := 0.0, 0.0
		for _, v := range col {
			mean += v
			sq += v * v
		}
		if math.Abs(mean) > 1e-9 || math.Abs(sq/4-1) > 1e-4 {
			t.Fatalf("column %d: mean %g, var %g", j, mean/4, sq/4)
		}
	}
}

func TestAdamWFirstStepMovesByLR(t *testing.T) {
	cfg := params.Default()
	cfg.WeightDecay = 0
	p := NewParam("w", mat.NewDense(1, 2, []float64{1, 1}), true)
	p.G.Copy(mat.NewDense(1, 2, []float64{0.5, -3}))

	opt := NewAdamW([]*Param{p}, cfg)
	opt.Step(0.1)

	// bias-corrected first step is lr * g/|g|
	if math.Abs(p.W.At(0, 0)-0.9) > 1e-6 || math.Abs(p.W.At(0, 1)-1.1) > 1e-6 {
		t.Fatalf("after one step: %v", mat.Formatted(p.W))
	}
	if opt.T != 1 {
		t.Fatalf("step counter = %d", opt.T)
	}
}

func TestAdamWDecaysWeightsOnly(t *testing.T) {
	cfg := params.Default()
	cfg.WeightDecay = 0.5
	w := NewParam("w", mat.NewDense(1, 1, []float64{2}), true)
	b := NewParam("b", mat.NewDense(1, 1, []float64{2}), false)

	opt := NewAdamW([]*Param{w, b}, cfg)
	opt.ZeroGrad()
	opt.Step(0.1)

	if got := w.W.At(0, 0); math.Abs(got-(2-0.1*0.5*2)) > 1e-12 {
		t.Fatalf("decayed weight = %g", got)
	}
	if got := b.W.At(0, 0); got != 2 {
		t.Fatalf("bias changed to %g", got)
	}
}

func TestAdamWClipsGrads(t *testing.T) {
	cfg := params.Default()
	cfg.GradClip = 1
	p := NewParam("w", mat.NewDense(1, 2, nil), false)
	p.G.Copy(mat.NewDense(1, 2, []float64{30, 40}))
	NewAdamW([]*Param{p}, cfg).Step(0.01)
	if n := utils.MatrixNorm(p.G); math.Abs(n-1) > 1e-9 {
		t.Fatalf("grad norm after clip = %g", n)
	}
}

func TestLRSchedule(t *testing.T) {
	if got := LRSchedule(5, 1, 0, 0); got != 1 {
		t.Fatalf("constant schedule = %g", got)
	}
	if got := LRSchedule(5, 1, 10, 0); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("mid-warmup = %g", got)
	}
	if got := LRSchedule(10, 1, 10, 100); math.Abs(got-1) > 1e-12 {
		t.Fatalf("end of warmup = %g", got)
	}
	if got := LRSchedule(60, 1, 10, 100); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("mid-decay = %g", got)
	}
	if got := LRSchedule(500, 1, 10, 100); math.Abs(got) > 1e-12 {
		t.Fatalf("after decay = %g", got)
	}
}
