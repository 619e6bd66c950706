// Package trainer drives optimization of a transformer.Model: periodic loss
// estimation on both splits, AdamW steps on sampled training batches, and a
// final checkpoint.
package trainer

import (
	"fmt"
	"io"
	"log"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/manningwu07/chargpt/IO"
	"github.com/manningwu07/chargpt/optimizations"
	"github.com/manningwu07/chargpt/params"
	"github.com/manningwu07/chargpt/transformer"
	"github.com/manningwu07/chargpt/utils"
)

// State of the training loop.
type State int

const (
	Estimating State = iota
	Stepping
	Done
)

func (s State) String() string {
	switch s {
	case Estimating:
		return "estimating"
	case Stepping:
		return "stepping"
	default:
		return "done"
	}
}

// BatchSource yields batches for a split; *IO.Sampler implements it.
type BatchSource interface {
	GetBatch(split IO.Split) (*IO.Batch, error)
}

// Losses are mean losses over EvalIters batches per split.
type Losses struct {
	Train, Val float64
}

type Trainer struct {
	Model  *transformer.Model
	Data   BatchSource
	Opt    *optimizations.AdamW
	Config params.Config

	Out      io.Writer    // progress lines; nil discards
	Log      *IO.TrainLog // optional CSV log
	SavePath string       // checkpoint written on completion; empty skips
	Alphabet string       // stored alongside the weights
	Debug    *log.Logger  // per-step losses

	state State
	iter  int
	last  Losses
}

func New(model *transformer.Model, data BatchSource, cfg params.Config) *Trainer {
	return &Trainer{
		Model:  model,
		Data:   data,
		Opt:    optimizations.NewAdamW(model.Params(), cfg),
		Config: cfg,
		Out:    io.Discard,
		Debug:  utils.NewDebugLogger(os.Stderr, cfg.Debug),
	}
}

func (t *Trainer) State() State { return t.state }

// Last returns the most recent loss estimate.
func (t *Trainer) Last() Losses { return t.last }

// EstimateLoss averages the loss of EvalIters batches per split with dropout
// off and gradient recording disabled. Parameters are left untouched and the
// previous training mode is restored on return.
func (t *Trainer) EstimateLoss() (Losses, error) {
	m := t.Model
	if m.Training() {
		defer m.Train()
	}
	m.Eval()

	var out Losses
	err := m.NoGrad(func() error {
		for _, split := range []IO.Split{IO.Train, IO.Val} {
			losses := make([]float64, t.Config.EvalIters)
			for k := range losses {
				batch, err := t.Data.GetBatch(split)
				if err != nil {
					return err
				}
				res, err := m.Forward(batch.Input, batch.Target)
				if err != nil {
					return err
				}
				losses[k] = res.Loss
			}
			mean := floats.Sum(losses) / float64(len(losses))
			if split == IO.Train {
				out.Train = mean
			} else {
				out.Val = mean
			}
		}
		return nil
	})
	return out, err
}

// Step samples a training batch, back-propagates its loss and applies one
// AdamW update. It returns the batch loss.
func (t *Trainer) Step() (float64, error) {
	batch, err := t.Data.GetBatch(IO.Train)
	if err != nil {
		return 0, err
	}
	res, err := t.Model.Forward(batch.Input, batch.Target)
	if err != nil {
		return 0, err
	}
	t.Opt.ZeroGrad()
	if err := t.Model.Backward(res); err != nil {
		return 0, err
	}
	t.Opt.Step(t.lr())
	return res.Loss, nil
}

func (t *Trainer) lr() float64 {
	return optimizations.LRSchedule(t.Opt.T+1, t.Config.LearningRate, t.Config.WarmupSteps, t.Config.DecaySteps)
}

// Run executes MaxIters iterations, each ending with one optimizer step.
// Iterations divisible by the eval interval estimate losses before stepping.
// After the last one the losses are estimated again and the model is saved
// to SavePath.
func (t *Trainer) Run() error {
	interval := t.Config.Interval()
	for t.iter = 0; t.iter < t.Config.MaxIters; t.iter++ {
		if t.iter%interval == 0 {
			t.state = Estimating
			if err := t.estimateAndReport(); err != nil {
				return err
			}
		}
		t.state = Stepping
		loss, err := t.Step()
		if err != nil {
			return fmt.Errorf("step %d: %w", t.iter, err)
		}
		t.debug().Printf("step %d loss %.4f", t.iter, loss)
	}

	if err := t.estimateAndReport(); err != nil {
		return err
	}
	t.state = Done
	fmt.Fprintln(t.out(), "-- Training complete --")

	if t.SavePath == "" {
		return nil
	}
	if err := t.Model.Save(t.SavePath, t.Alphabet); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	fmt.Fprintln(t.out(), "model saved")
	return nil
}

func (t *Trainer) estimateAndReport() error {
	losses, err := t.EstimateLoss()
	if err != nil {
		return fmt.Errorf("estimate loss at step %d: %w", t.iter, err)
	}
	t.last = losses
	fmt.Fprintf(t.out(), "step: %d, train loss: %.3f, val loss: %.3f\n", t.iter, losses.Train, losses.Val)
	if t.Log != nil {
		if err := t.Log.Record(t.iter, losses.Train, losses.Val, t.lr()); err != nil {
			return fmt.Errorf("training log: %w", err)
		}
	}
	return nil
}

func (t *Trainer) debug() *log.Logger {
	if t.Debug == nil {
		return log.New(io.Discard, "", 0)
	}
	return t.Debug
}

func (t *Trainer) out() io.Writer {
	if t.Out == nil {
		return io.Discard
	}
	return t.Out
}
