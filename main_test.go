package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manningwu07/chargpt/IO"
	"github.com/manningwu07/chargpt/params"
	"github.com/manningwu07/chargpt/transformer"
	"github.com/manningwu07/chargpt/utils"
)

func testConfig(t *testing.T) *AppConfig {
	t.Helper()
	dir := t.TempDir()
	corpus := strings.Repeat("to be or not to be\n", 20)
	paths := map[string]string{}
	for _, name := range []string{"vocab.txt", "train.txt", "val.txt"} {
		paths[name] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[name], []byte(corpus), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mc := params.Small()
	mc.MaxIters = 6
	mc.EvalIters = 2
	mc.EvalInterval = 3
	return &AppConfig{
		Model:        mc,
		VocabPath:    paths["vocab.txt"],
		TrainPath:    paths["train.txt"],
		ValPath:      paths["val.txt"],
		ModelPath:    filepath.Join(dir, "model.gob"),
		LogPath:      filepath.Join(dir, "log.csv"),
		MaxNewTokens: 5,
	}
}

func TestTrainThenChat(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := runTrain(cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "starting from scratch") {
		t.Fatalf("first run output:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}

	out.Reset()
	if err := runTrain(cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Resuming from") {
		t.Fatalf("second run did not resume:\n%s", out.String())
	}

	out.Reset()
	if err := runChat(cfg, strings.NewReader("to be\nquit()\nnot reached\n"), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Completion:\nto be") {
		t.Fatalf("chat output:\n%s", out.String())
	}
	if strings.Count(out.String(), "Completion:") != 1 {
		t.Fatalf("chat kept going after quit():\n%s", out.String())
	}
}

func TestChatWithoutCheckpointFails(t *testing.T) {
	cfg := testConfig(t)
	err := runChat(cfg, strings.NewReader("quit()\n"), &bytes.Buffer{})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v, want a missing-file error", err)
	}
}

func TestChatRejectsNegativeTokenCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxNewTokens = -1
	err := runChat(cfg, strings.NewReader("to be\n"), &bytes.Buffer{})
	if !errors.Is(err, transformer.ErrTokenCount) {
		t.Fatalf("got %v, want ErrTokenCount", err)
	}
}

func TestChatCLI(t *testing.T) {
	vocab, err := IO.BuildVocabulary("abc")
	if err != nil {
		t.Fatal(err)
	}
	mc := params.Small().WithVocab(vocab.Size())
	model, err := transformer.New(mc, utils.NewRNG(1))
	if err != nil {
		t.Fatal(err)
	}
	model.Eval()

	var out bytes.Buffer
	in := strings.NewReader("ab\nxyz\nca")
	if err := ChatCLI(in, &out, model, vocab, 4, utils.NewRNG(2)); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "Error:") {
		t.Fatalf("unknown characters not reported:\n%s", text)
	}
	if strings.Count(text, "Completion:") != 2 {
		t.Fatalf("want two completions:\n%s", text)
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "ab") && len(line) != 6 {
			t.Fatalf("completion %q should add 4 characters", line)
		}
	}
}
