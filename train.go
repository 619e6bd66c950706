package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/manningwu07/chargpt/IO"
	"github.com/manningwu07/chargpt/trainer"
	"github.com/manningwu07/chargpt/transformer"
	"github.com/manningwu07/chargpt/utils"
)

// runTrain loads the vocabulary, resumes from ModelPath when the checkpoint
// exists (a fresh model otherwise), trains and saves back to ModelPath.
func runTrain(cfg *AppConfig, out io.Writer) error {
	vocab, err := IO.LoadVocabFile(cfg.VocabPath)
	if err != nil {
		return err
	}
	mc := cfg.Model.WithVocab(vocab.Size())
	if err := mc.ValidateTraining(); err != nil {
		return err
	}
	rng := utils.NewRNG(mc.Seed)

	model, err := transformer.Load(cfg.ModelPath, mc, vocab.Alphabet(), rng)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(out, "No checkpoint at %s, starting from scratch\n", cfg.ModelPath)
		if model, err = transformer.New(mc, rng); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "Resuming from %s\n", cfg.ModelPath)
	}
	model.Train()

	t := trainer.New(model, IO.NewSampler(vocab, cfg.TrainPath, cfg.ValPath, mc, rng), mc)
	t.Out = out
	t.SavePath = cfg.ModelPath
	t.Alphabet = vocab.Alphabet()
	if cfg.LogPath != "" {
		log, err := IO.NewTrainLog(cfg.LogPath)
		if err != nil {
			return err
		}
		defer log.Close()
		t.Log = log
	}

	start := time.Now()
	if err := t.Run(); err != nil {
		return err
	}
	final := t.Last()
	fmt.Fprintf(out, "Time taken to train: %s (final train loss %.3f, val loss %.3f)\n",
		time.Since(start), final.Train, final.Val)
	return nil
}
