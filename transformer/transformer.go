package transformer

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/optimizations"
	"github.com/manningwu07/chargpt/params"
	"github.com/manningwu07/chargpt/utils"
)

var (
	// ErrNoGradient is returned by Backward for an output recorded without gradient tracking.
	ErrNoGradient = errors.New("output was not recorded for backward")
	// ErrSequenceTooLong is returned when a sequence exceeds the block size.
	ErrSequenceTooLong = errors.New("sequence longer than block size")
	// ErrTokenRange is returned for token ids outside [0, vocab size).
	ErrTokenRange = errors.New("token id out of range")
)

const lnEps = 1e-5

// Block: x = ln1(x + attn(x)); x = ln2(x + ffwd(x)).
type Block struct {
	Attn *MultiHeadAttention
	FFwd *FeedForward
	Ln1  *optimizations.LayerNorm
	Ln2  *optimizations.LayerNorm
}

type blockCache struct {
	attn     *mhaCache
	ln1, ln2 *optimizations.LNCache
	ff       *ffCache
}

func NewBlock(name string, cfg params.Config, rng *rand.Rand) *Block {
	return &Block{
		Attn: NewMultiHeadAttention(name+".attn", cfg.NEmbd, cfg.NHead, cfg.HeadSize(), cfg.Dropout, rng),
		FFwd: NewFeedForward(name+".ffwd", cfg.NEmbd, cfg.Dropout, rng),
		Ln1:  optimizations.NewLayerNorm(name+".ln1", cfg.NEmbd, lnEps),
		Ln2:  optimizations.NewLayerNorm(name+".ln2", cfg.NEmbd, lnEps),
	}
}

// Block forward/backward with post-norm residuals.
func (b *Block) Forward(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *blockCache) {
	c := &blockCache{}
	var y *mat.Dense
	y, c.attn = b.Attn.Forward(X, training, rng)
	x1, ln1 := b.Ln1.Forward(utils.Add(X, y))
	c.ln1 = ln1
	y, c.ff = b.FFwd.Forward(x1, training, rng)
	out, ln2 := b.Ln2.Forward(utils.Add(x1, y))
	c.ln2 = ln2
	return out, c
}

func (b *Block) Backward(c *blockCache, grad *mat.Dense) *mat.Dense {
	// out = Ln2(x1 + FF(x1)); x1 = Ln1(X + Attn(X))
	dRes2 := b.Ln2.Backward(c.ln2, grad)
	dX1 := utils.Add(dRes2, b.FFwd.Backward(c.ff, dRes2))
	dRes1 := b.Ln1.Backward(c.ln1, dX1)
	return utils.Add(dRes1, b.Attn.Backward(c.attn, dRes1))
}

func (b *Block) Params() []*optimizations.Param {
	ps := b.Attn.Params()
	ps = append(ps, b.Ln1.Params()...)
	ps = append(ps, b.FFwd.Params()...)
	return append(ps, b.Ln2.Params()...)
}

// Model is the character-level GPT: token + position embeddings, a stack of
// Blocks, a final LayerNorm and a linear head onto the vocabulary.
type Model struct {
	Config params.Config
	TokEmb *optimizations.Param // (C x vocab)
	PosEmb *optimizations.Param // (C x block)
	Blocks []*Block
	LnF    *optimizations.LayerNorm
	LMHead *Linear // (vocab x C)

	training    bool
	recordGrads bool
	rng         *rand.Rand // dropout masks
}

// Output of one forward pass. Logits[b] is (vocab x T): the logical
// [B, T, vocab] entry (b, t, v) is Logits[b].At(v, t).
type Output struct {
	Logits  []*mat.Dense
	Loss    float64
	HasLoss bool

	tape []*seqTape
}

// per-sequence cache for backprop
type seqTape struct {
	ids     []int
	blocks  []*blockCache
	lnF     *optimizations.LNCache
	normed  *mat.Dense
	dLogits *mat.Dense
}

// New builds a freshly initialized model. Linear weights ~ N(0, 0.02), biases 0,
// embeddings ~ N(0, 0.2). rng drives both initialization and dropout.
func New(cfg params.Config, rng *rand.Rand) (*Model, error) {
	return build(cfg, rng, true)
}

func build(cfg params.Config, rng *rand.Rand, initWeights bool) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initRNG := rng
	if !initWeights {
		initRNG = nil
	}
	C := cfg.NEmbd
	m := &Model{
		Config:      cfg,
		Blocks:      make([]*Block, cfg.NLayer),
		LnF:         optimizations.NewLayerNorm("ln_f", C, lnEps),
		LMHead:      NewLinear("lm_head", C, cfg.VocabSize, true, initRNG),
		training:    true,
		recordGrads: true,
		rng:         rng,
	}
	tok := mat.NewDense(C, cfg.VocabSize, nil)
	pos := mat.NewDense(C, cfg.BlockSize, nil)
	if initWeights {
		tok = mat.NewDense(C, cfg.VocabSize, utils.NormalArray(C*cfg.VocabSize, embedInitStd, rng))
		pos = mat.NewDense(C, cfg.BlockSize, utils.NormalArray(C*cfg.BlockSize, embedInitStd, rng))
	}
	m.TokEmb = optimizations.NewParam("token_embedding", tok, false)
	m.PosEmb = optimizations.NewParam("position_embedding", pos, false)
	for i := range cfg.NLayer {
		m.Blocks[i] = NewBlock(fmt.Sprintf("blocks.%d", i), cfg, initRNG)
	}
	return m, nil
}

// Params lists every learned tensor in a fixed order.
func (m *Model) Params() []*optimizations.Param {
	ps := []*optimizations.Param{m.TokEmb, m.PosEmb}
	for _, b := range m.Blocks {
		ps = append(ps, b.Params()...)
	}
	ps = append(ps, m.LnF.Params()...)
	return append(ps, m.LMHead.Params()...)
}

func (m *Model) ZeroGrad() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// Train enables dropout.
func (m *Model) Train() { m.training = true }

// Eval disables dropout.
func (m *Model) Eval() { m.training = false }

func (m *Model) Training() bool { return m.training }

// NoGrad runs fn with tape recording disabled and restores the previous
// setting afterwards.
func (m *Model) NoGrad(fn func() error) error {
	prev := m.recordGrads
	m.recordGrads = false
	defer func() { m.recordGrads = prev }()
	return fn()
}

// Forward runs idx (B x T, T <= block size) through the model. When targets
// (same shape) are given, Loss is the mean cross-entropy over all B*T positions.
func (m *Model) Forward(idx, targets [][]int) (*Output, error) {
	T, err := m.checkBatch(idx, targets)
	if err != nil {
		return nil, err
	}
	B := len(idx)
	out := &Output{Logits: make([]*mat.Dense, B), HasLoss: targets != nil}
	gradScale := 1.0 / float64(B*T)
	record := m.recordGrads && targets != nil

	lossSum := 0.0
	for b, ids := range idx {
		tape := &seqTape{ids: ids, blocks: make([]*blockCache, len(m.Blocks))}
		x := m.embed(ids)
		for l, blk := range m.Blocks {
			x, tape.blocks[l] = blk.Forward(x, m.training, m.rng)
		}
		tape.normed, tape.lnF = m.LnF.Forward(x)
		logits := m.LMHead.Forward(tape.normed)
		out.Logits[b] = logits

		if targets != nil {
			var loss float64
			loss, tape.dLogits = utils.CrossEntropySeq(logits, targets[b], gradScale)
			lossSum += loss
		}
		if record {
			out.tape = append(out.tape, tape)
		}
	}
	if targets != nil {
		out.Loss = lossSum / float64(B*T)
	}
	return out, nil
}

// Backward accumulates dLoss/dParam for an output produced with targets while
// gradients were recorded. Each output can be back-propagated once.
func (m *Model) Backward(out *Output) error {
	if out == nil || out.tape == nil {
		return ErrNoGradient
	}
	for _, tape := range out.tape {
		dX := m.LMHead.Backward(tape.normed, tape.dLogits)
		dX = m.LnF.Backward(tape.lnF, dX)
		for l := len(m.Blocks) - 1; l >= 0; l-- {
			dX = m.Blocks[l].Backward(tape.blocks[l], dX)
		}
		// X = tok[:, id_t] + pos[:, t]
		C := m.Config.NEmbd
		for t, id := range tape.ids {
			for i := 0; i < C; i++ {
				g := dX.At(i, t)
				m.TokEmb.G.Set(i, id, m.TokEmb.G.At(i, id)+g)
				m.PosEmb.G.Set(i, t, m.PosEmb.G.At(i, t)+g)
			}
		}
	}
	out.tape = nil
	return nil
}

// embed returns tok[:, ids[t]] + pos[:, t] for each t, shape (C x T).
func (m *Model) embed(ids []int) *mat.Dense {
	C := m.Config.NEmbd
	out := mat.NewDense(C, len(ids), nil)
	for t, id := range ids {
		for i := 0; i < C; i++ {
			out.Set(i, t, m.TokEmb.W.At(i, id)+m.PosEmb.W.At(i, t))
		}
	}
	return out
}

func (m *Model) checkBatch(idx, targets [][]int) (int, error) {
	if len(idx) == 0 || len(idx[0]) == 0 {
		return 0, errors.New("forward: empty batch")
	}
	if targets != nil && len(targets) != len(idx) {
		return 0, fmt.Errorf("forward: %d target rows for %d inputs", len(targets), len(idx))
	}
	T := len(idx[0])
	if T > m.Config.BlockSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrSequenceTooLong, T, m.Config.BlockSize)
	}
	V := m.Config.VocabSize
	for b, ids := range idx {
		if len(ids) != T {
			return 0, fmt.Errorf("forward: row %d has length %d, want %d", b, len(ids), T)
		}
		if targets != nil && len(targets[b]) != T {
			return 0, fmt.Errorf("forward: target row %d has length %d, want %d", b, len(targets[b]), T)
		}
		for t, id := range ids {
			if id < 0 || id >= V {
				return 0, fmt.Errorf("%w: input[%d][%d] = %d (vocab size %d)", ErrTokenRange, b, t, id, V)
			}
			if targets != nil && (targets[b][t] < 0 || targets[b][t] >= V) {
				return 0, fmt.Errorf("%w: target[%d][%d] = %d (vocab size %d)", ErrTokenRange, b, t, targets[b][t], V)
			}
		}
	}
	return T, nil
}
