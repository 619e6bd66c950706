package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manningwu07/chargpt/params"
)

// AppConfig holds the command-line settings shared by train and chat.
type AppConfig struct {
	Model params.Config

	VocabPath string // file whose distinct characters form the alphabet
	TrainPath string
	ValPath   string
	ModelPath string
	LogPath   string // optional CSV training log

	MaxNewTokens int
	Small        bool // use the tiny preset for smoke runs
}

func main() {
	cfg := AppConfig{Model: params.Default()}

	rootCmd := &cobra.Command{
		Use:   "chargpt",
		Short: "Character-level GPT trained from scratch",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg.Small {
				small := params.Small()
				small.Seed, small.Debug = cfg.Model.Seed, cfg.Model.Debug
				applyChanged(cmd, &small, &cfg.Model)
				cfg.Model = small
			}
		},
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.VocabPath, "vocab", "data/vocab.txt", "File providing the character alphabet")
	pf.StringVar(&cfg.ModelPath, "model", "model-01.gob", "Checkpoint path")
	pf.Uint64Var(&cfg.Model.Seed, "seed", cfg.Model.Seed, "RNG seed")
	pf.BoolVar(&cfg.Model.Debug, "debug", false, "Verbose per-step logging")
	pf.BoolVar(&cfg.Small, "small", false, "Use the small model preset")
	pf.IntVar(&cfg.Model.BlockSize, "block-size", cfg.Model.BlockSize, "Context length")
	pf.IntVar(&cfg.Model.NEmbd, "n-embd", cfg.Model.NEmbd, "Embedding width")
	pf.IntVar(&cfg.Model.NHead, "n-head", cfg.Model.NHead, "Attention heads per block")
	pf.IntVar(&cfg.Model.NLayer, "n-layer", cfg.Model.NLayer, "Number of blocks")
	pf.Float64Var(&cfg.Model.Dropout, "dropout", cfg.Model.Dropout, "Dropout probability")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model, resuming from --model when it exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(&cfg, cmd.OutOrStdout())
		},
	}
	tf := trainCmd.Flags()
	tf.StringVar(&cfg.TrainPath, "train", "data/train_split.txt", "Training corpus")
	tf.StringVar(&cfg.ValPath, "val", "data/val_split.txt", "Validation corpus")
	tf.StringVar(&cfg.LogPath, "log", "", "Write a CSV training log to this path")
	tf.IntVar(&cfg.Model.BatchSize, "batch-size", cfg.Model.BatchSize, "Sequences per batch")
	tf.IntVar(&cfg.Model.MaxIters, "max-iters", cfg.Model.MaxIters, "Training iterations")
	tf.IntVar(&cfg.Model.EvalIters, "eval-iters", cfg.Model.EvalIters, "Batches per loss estimate")
	tf.IntVar(&cfg.Model.EvalInterval, "eval-interval", cfg.Model.EvalInterval, "Iterations between estimates (0 uses eval-iters)")
	tf.Float64Var(&cfg.Model.LearningRate, "lr", cfg.Model.LearningRate, "Peak learning rate")
	tf.IntVar(&cfg.Model.WarmupSteps, "warmup", cfg.Model.WarmupSteps, "Linear warmup steps")
	tf.IntVar(&cfg.Model.DecaySteps, "decay", cfg.Model.DecaySteps, "Cosine decay steps (0 keeps the rate flat)")
	tf.Float64Var(&cfg.Model.GradClip, "grad-clip", cfg.Model.GradClip, "Global gradient norm clip (0 disables)")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive completion from a trained checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(&cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	chatCmd.Flags().IntVar(&cfg.MaxNewTokens, "max-new-tokens", 150, "Characters generated per prompt")

	rootCmd.AddCommand(trainCmd, chatCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// applyChanged copies explicitly set model flags from cur onto dst so they
// survive switching to the small preset.
func applyChanged(cmd *cobra.Command, dst, cur *params.Config) {
	set := func(name string, fn func()) {
		if cmd.Flags().Changed(name) {
			fn()
		}
	}
	set("block-size", func() { dst.BlockSize = cur.BlockSize })
	set("n-embd", func() { dst.NEmbd = cur.NEmbd })
	set("n-head", func() { dst.NHead = cur.NHead })
	set("n-layer", func() { dst.NLayer = cur.NLayer })
	set("dropout", func() { dst.Dropout = cur.Dropout })
	set("batch-size", func() { dst.BatchSize = cur.BatchSize })
	set("max-iters", func() { dst.MaxIters = cur.MaxIters })
	set("eval-iters", func() { dst.EvalIters = cur.EvalIters })
	set("eval-interval", func() { dst.EvalInterval = cur.EvalInterval })
	set("lr", func() { dst.LearningRate = cur.LearningRate })
	set("warmup", func() { dst.WarmupSteps = cur.WarmupSteps })
	set("decay", func() { dst.DecaySteps = cur.DecaySteps })
	set("grad-clip", func() { dst.GradClip = cur.GradClip })
}
