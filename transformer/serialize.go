package transformer

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/chargpt/params"
)

var (
	// ErrArchMismatch is returned when a checkpoint's shapes differ from the active config.
	ErrArchMismatch = errors.New("checkpoint architecture mismatch")
	// ErrVocabMismatch is returned when a checkpoint was trained with a different alphabet.
	ErrVocabMismatch = errors.New("checkpoint vocabulary mismatch")
)

// checkpoint is the gob payload: structural header, alphabet and weights.
type checkpoint struct {
	Arch     params.Arch
	Alphabet string
	Params   []paramData
}

type paramData struct {
	Name string
	R, C int
	Data []float64
}

// Save writes the model weights plus the structural header and alphabet to
// filename. The file is replaced atomically.
func (m *Model) Save(filename, alphabet string) error {
	data := checkpoint{Arch: m.Config.Arch(), Alphabet: alphabet}
	for _, p := range m.Params() {
		r, c := p.W.Dims()
		raw := mat.DenseCopyOf(p.W).RawMatrix()
		data.Params = append(data.Params, paramData{
			Name: p.Name,
			R:    r,
			C:    c,
			Data: append([]float64(nil), raw.Data...),
		})
	}

	// Encode
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// Load reads a checkpoint written by Save. The stored architecture and
// alphabet must equal cfg.Arch() and alphabet. rng only drives dropout; the
// stored weights are used as-is.
func Load(filename string, cfg params.Config, alphabet string, rng *rand.Rand) (*Model, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	var data checkpoint
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", filename, err)
	}

	if want := cfg.Arch(); data.Arch != want {
		return nil, fmt.Errorf("%w: file %+v, config %+v", ErrArchMismatch, data.Arch, want)
	}
	if data.Alphabet != alphabet {
		return nil, fmt.Errorf("%w: file has %d characters, vocabulary has %d",
			ErrVocabMismatch, len([]rune(data.Alphabet)), len([]rune(alphabet)))
	}

	m, err := build(cfg, rng, false)
	if err != nil {
		return nil, err
	}
	ps := m.Params()
	if len(ps) != len(data.Params) {
		return nil, fmt.Errorf("%w: %d tensors in file, model has %d", ErrArchMismatch, len(data.Params), len(ps))
	}
	for i, p := range ps {
		pd := data.Params[i]
		r, c := p.W.Dims()
		if pd.Name != p.Name || pd.R != r || pd.C != c || len(pd.Data) != r*c {
			return nil, fmt.Errorf("%w: tensor %d is %s (%dx%d), want %s (%dx%d)",
				ErrArchMismatch, i, pd.Name, pd.R, pd.C, p.Name, r, c)
		}
		p.W.Copy(mat.NewDense(r, c, pd.Data))
	}
	return m, nil
}
