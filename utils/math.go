package utils

import (
	"fmt"
	"io"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix functions used by every layer.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Mul(m, n)
	return o
}

func Scale(s float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

// AddBias adds the (r x 1) bias to every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.DenseCopyOf(m)
	for i := 0; i < r; i++ {
		floats.AddConst(bias.At(i, 0), out.RawRowView(i))
	}
	return out
}

// SumCols sums m over its columns (time), returning (r x 1).
func SumCols(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, floats.Sum(m.RawRowView(i)))
	}
	return out
}

// Col copies column j of m.
func Col(m *mat.Dense, j int) []float64 {
	r, _ := m.Dims()
	return mat.Col(make([]float64, r), j, m)
}

// -------- ReLU --------

func ReLU(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, m)
	return out
}

// ReLUBackward gates grad by the sign of the pre-activation.
func ReLUBackward(grad, preAct *mat.Dense) *mat.Dense {
	r, c := grad.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if preAct.At(i, j) > 0 {
			return v
		}
		return 0
	}, grad)
	return out
}

// ---------- Softmax variants ----------

// CausalRowSoftmax turns (T x T) scores into attention weights where row i only
// covers columns 0..i. Entries above the diagonal are never exponentiated and
// stay exactly zero.
func CausalRowSoftmax(scores *mat.Dense) *mat.Dense {
	r, c := scores.Dims()
	if r != c {
		panic(fmt.Sprintf("causalRowSoftmax: scores must be square, got %dx%d", r, c))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src := scores.RawRowView(i)[:i+1]
		dst := out.RawRowView(i)[:i+1]
		softmaxInto(dst, src)
	}
	return out
}

// Softmax returns a normalized copy of v.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	softmaxInto(out, v)
	return out
}

func softmaxInto(dst, src []float64) {
	mx := floats.Max(src)
	for j, v := range src {
		dst[j] = math.Exp(v - mx)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}

// Softmax backward for row-wise softmax used in attention.
// Vector-JVP form: for each row i,
// s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// ---------- Loss ----------

// CrossEntropySeq scores every column of logits (V x T) against targets[t].
// It returns the summed loss and dLoss/dLogits multiplied by gradScale.
func CrossEntropySeq(logits *mat.Dense, targets []int, gradScale float64) (float64, *mat.Dense) {
	V, T := logits.Dims()
	if len(targets) != T {
		panic(fmt.Sprintf("crossEntropySeq: %d targets for %d positions", len(targets), T))
	}
	grad := mat.NewDense(V, T, nil)
	col := make([]float64, V)
	total := 0.0
	for t, gold := range targets {
		mat.Col(col, t, logits)
		lse := floats.LogSumExp(col)
		total += lse - col[gold]
		for v := range col {
			p := math.Exp(col[v] - lse)
			if v == gold {
				p -= 1
			}
			grad.Set(v, t, p*gradScale)
		}
	}
	return total, grad
}

// -------- norms & clipping --------

func MatrixNorm(m *mat.Dense) float64 {
	return mat.Norm(m, 2)
}

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		sum += n * n
	}
	gn := math.Sqrt(sum)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}

// -------- debug logging --------

// NewDebugLogger returns a logger writing to w when enabled and discarding
// everything otherwise.
func NewDebugLogger(w io.Writer, enabled bool) *log.Logger {
	if !enabled {
		w = io.Discard
	}
	return log.New(w, "[debug] ", log.LstdFlags)
}
