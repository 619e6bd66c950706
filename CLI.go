package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/manningwu07/chargpt/IO"
	"github.com/manningwu07/chargpt/transformer"
	"github.com/manningwu07/chargpt/utils"
)

const quitCommand = "quit()"

func runChat(cfg *AppConfig, in io.Reader, out io.Writer) error {
	if cfg.MaxNewTokens < 0 {
		return fmt.Errorf("%w: --max-new-tokens is %d", transformer.ErrTokenCount, cfg.MaxNewTokens)
	}
	vocab, err := IO.LoadVocabFile(cfg.VocabPath)
	if err != nil {
		return err
	}
	mc := cfg.Model.WithVocab(vocab.Size())
	rng := utils.NewRNG(mc.Seed)
	model, err := transformer.Load(cfg.ModelPath, mc, vocab.Alphabet(), rng)
	if err != nil {
		return err
	}
	model.Eval()
	return ChatCLI(in, out, model, vocab, cfg.MaxNewTokens, rng)
}

// ChatCLI reads prompts line by line and prints a sampled completion for
// each. It returns nil on quit() or end of input.
func ChatCLI(in io.Reader, out io.Writer, model *transformer.Model, vocab *IO.Vocabulary, maxNew int, rng *rand.Rand) error {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "Type %s to exit.\n", quitCommand)
	for {
		fmt.Fprint(out, "Prompt:\n")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		prompt := strings.TrimRight(line, "\r\n")
		if prompt == quitCommand || (err == io.EOF && prompt == "") {
			return nil
		}

		completion, genErr := complete(model, vocab, prompt, maxNew, rng)
		if genErr != nil {
			// bad prompt, keep the session alive
			fmt.Fprintln(out, "Error:", genErr)
		} else {
			fmt.Fprintf(out, "Completion:\n%s\n", completion)
		}
		if err == io.EOF {
			return nil
		}
	}
}

func complete(model *transformer.Model, vocab *IO.Vocabulary, prompt string, maxNew int, rng *rand.Rand) (string, error) {
	ids, err := vocab.Encode(prompt)
	if err != nil {
		return "", err
	}
	gen, err := model.GenerateOne(ids, maxNew, rng)
	if err != nil {
		return "", err
	}
	return vocab.Decode(gen)
}
