package optimizations

import (
	"log"
	"math"
	"os"

	"github.com/manningwu07/chargpt/params"
	"github.com/manningwu07/chargpt/utils"
	"gonum.org/v1/gonum/mat"
)

// Param is one learned tensor together with its accumulated gradient.
type Param struct {
	Name  string
	W     *mat.Dense
	G     *mat.Dense
	Decay bool // AdamW weight decay applies (weights, not biases/norms/embeddings)
}

func NewParam(name string, w *mat.Dense, decay bool) *Param {
	return &Param{Name: name, W: w, G: zerosLike(w), Decay: decay}
}

func (p *Param) ZeroGrad() {
	p.G.Zero()
}

// AdamW keeps first/second moment estimates for a fixed list of params.
type AdamW struct {
	Params                []*Param
	Beta1, Beta2, Eps     float64
	WeightDecay, GradClip float64
	T                     int
	Debug                 *log.Logger // clip notices
	m, v                  []*mat.Dense
}

func NewAdamW(ps []*Param, cfg params.Config) *AdamW {
	opt := &AdamW{
		Params:      ps,
		Beta1:       cfg.AdamBeta1,
		Beta2:       cfg.AdamBeta2,
		Eps:         cfg.AdamEps,
		WeightDecay: cfg.WeightDecay,
		GradClip:    cfg.GradClip,
		Debug:       utils.NewDebugLogger(os.Stderr, cfg.Debug),
		m:           make([]*mat.Dense, len(ps)),
		v:           make([]*mat.Dense, len(ps)),
	}
	for i, p := range ps {
		opt.m[i] = zerosLike(p.W)
		opt.v[i] = zerosLike(p.W)
	}
	return opt
}

// ZeroGrad resets every gradient accumulator.
func (opt *AdamW) ZeroGrad() {
	for _, p := range opt.Params {
		p.ZeroGrad()
	}
}

// Step applies one AdamW update with learning rate lr using the accumulated grads.
func (opt *AdamW) Step(lr float64) {
	opt.T++
	if opt.GradClip > 0 {
		grads := make([]*mat.Dense, len(opt.Params))
		for i, p := range opt.Params {
			grads[i] = p.G
		}
		if s := utils.ClipGrads(opt.GradClip, grads...); s < 1.0 {
			opt.Debug.Printf("AdamW: clipped grads by %.4f at step %d", s, opt.T)
		}
	}
	for i, p := range opt.Params {
		wd := 0.0
		if p.Decay {
			wd = opt.WeightDecay
		}
		AdamUpdateInPlace(p.W, p.G, opt.m[i], opt.v[i], opt.T, lr, opt.Beta1, opt.Beta2, opt.Eps, wd)
	}
}

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			update := mhat/(math.Sqrt(vhat)+eps) + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// LRSchedule: linear warmup to peak, then cosine decay over decay steps.
// With warmup == decay == 0 the rate is constant.
func LRSchedule(step int, peak float64, warmup, decay int) float64 {
	if step <= 0 {
		return peak
	}
	if warmup > 0 && step < warmup {
		return peak * float64(step) / float64(warmup)
	}
	if decay > 0 {
		x := float64(step-warmup) / float64(decay)
		if x > 1 {
			x = 1
		} else if x < 0 {
			x = 0
		}
		return peak * 0.5 * (1 + math.Cos(math.Pi*x))
	}
	return peak
}

func zerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}
