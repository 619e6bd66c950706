package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestCausalRowSoftmaxZerosAboveDiagonal(t *testing.T) {
	rng := NewRNG(7)
	n := 5
	scores := mat.NewDense(n, n, NormalArray(n*n, 3, rng))
	A := CausalRowSoftmax(scores)
	for i := 0; i < n; i++ {
		row := A.RawRowView(i)
		for j := i + 1; j < n; j++ {
			if row[j] != 0 {
				t.Fatalf("A[%d,%d] = %g, want exactly 0", i, j, row[j])
			}
		}
		if s := floats.Sum(row); math.Abs(s-1) > 1e-12 {
			t.Fatalf("row %d sums to %g", i, s)
		}
	}
	if A.At(0, 0) != 1 {
		t.Fatalf("first row should attend only to itself, got %g", A.At(0, 0))
	}
}

func TestSoftmaxLargeInputs(t *testing.T) {
	p := Softmax([]float64{1000, 1000, -1000})
	if math.Abs(p[0]-0.5) > 1e-12 || math.Abs(p[1]-0.5) > 1e-12 || p[2] != 0 {
		t.Fatalf("softmax = %v", p)
	}
}

func TestCrossEntropySeqUniformLogits(t *testing.T) {
	V, T := 4, 3
	logits := mat.NewDense(V, T, nil)
	targets := []int{0, 3, 1}
	loss, grad := CrossEntropySeq(logits, targets, 0.5)
	if want := float64(T) * math.Log(float64(V)); math.Abs(loss-want) > 1e-12 {
		t.Fatalf("loss = %g, want %g", loss, want)
	}
	for v := 0; v < V; v++ {
		for tt := 0; tt < T; tt++ {
			want := 0.25
			if targets[tt] == v {
				want -= 1
			}
			want *= 0.5
			if math.Abs(grad.At(v, tt)-want) > 1e-12 {
				t.Fatalf("grad[%d,%d] = %g, want %g", v, tt, grad.At(v, tt), want)
			}
		}
	}
}

func TestCrossEntropySeqGradFiniteDiff(t *testing.T) {
	rng := NewRNG(3)
	V, T := 5, 4
	logits := mat.NewDense(V, T, NormalArray(V*T, 1, rng))
	targets := []int{2, 0, 4, 4}
	_, grad := CrossEntropySeq(logits, targets, 1)

	eps := 1e-5
	for _, ij := range [][2]int{{0, 0}, {2, 0}, {4, 3}, {1, 2}} {
		i, j := ij[0], ij[1]
		w0 := logits.At(i, j)
		logits.Set(i, j, w0+eps)
		lp, _ := CrossEntropySeq(logits, targets, 1)
		logits.Set(i, j, w0-eps)
		lm, _ := CrossEntropySeq(logits, targets, 1)
		logits.Set(i, j, w0)
		num := (lp - lm) / (2 * eps)
		if math.Abs(num-grad.At(i, j)) > 1e-6 {
			t.Fatalf("logits[%d,%d] grad mismatch: num=%.6g ana=%.6g", i, j, num, grad.At(i, j))
		}
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 1, []float64{3})
	b := mat.NewDense(1, 1, []float64{4})
	s := ClipGrads(1, a, b)
	if math.Abs(s-0.2) > 1e-12 {
		t.Fatalf("scale = %g, want 0.2", s)
	}
	if math.Abs(a.At(0, 0)-0.6) > 1e-12 || math.Abs(b.At(0, 0)-0.8) > 1e-12 {
		t.Fatalf("clipped grads = %g, %g", a.At(0, 0), b.At(0, 0))
	}
	if s := ClipGrads(10, a, b); s != 1 {
		t.Fatalf("no clip expected, got scale %g", s)
	}
}

func TestReLUBackwardGatesOnPreActivation(t *testing.T) {
	pre := mat.NewDense(1, 3, []float64{-1, 0, 2})
	g := ReLUBackward(mat.NewDense(1, 3, []float64{5, 5, 5}), pre)
	if !mat.Equal(g, mat.NewDense(1, 3, []float64{0, 0, 5})) {
		t.Fatalf("relu backward = %v", mat.Formatted(g))
	}
}

func TestAddBiasAndSumCols(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	got := AddBias(m, mat.NewDense(2, 1, []float64{10, 20}))
	want := mat.NewDense(2, 3, []float64{11, 12, 13, 24, 25, 26})
	if !mat.Equal(got, want) {
		t.Fatalf("AddBias = %v", mat.Formatted(got))
	}
	if s := SumCols(m); s.At(0, 0) != 6 || s.At(1, 0) != 15 {
		t.Fatalf("SumCols = %v", mat.Formatted(s))
	}
}
