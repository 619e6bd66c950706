package IO

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/manningwu07/chargpt/params"
)

// ErrCorpusTooSmall is returned when a split cannot fill one sampling window.
var ErrCorpusTooSmall = errors.New("corpus too small for configured batch/block size")

// Split selects the training or validation corpus.
type Split int

const (
	Train Split = iota
	Val
)

func (s Split) String() string {
	if s == Val {
		return "val"
	}
	return "train"
}

// Batch holds next-token pairs: Target[i][t] == Input[i][t+1] in the source chunk.
type Batch struct {
	Input  [][]int // (batch x block)
	Target [][]int // (batch x block)
}

// Sampler draws random batches from the train/val corpus files. Files are
// memory-mapped per call and only one window is read.
type Sampler struct {
	vocab     *Vocabulary
	paths     [2]string
	blockSize int
	batchSize int
	rng       *rand.Rand
}

func NewSampler(vocab *Vocabulary, trainPath, valPath string, cfg params.Config, rng *rand.Rand) *Sampler {
	return &Sampler{
		vocab:     vocab,
		paths:     [2]string{Train: trainPath, Val: valPath},
		blockSize: cfg.BlockSize,
		batchSize: cfg.BatchSize,
		rng:       rng,
	}
}

// SampleChunk reads block*batch-1 bytes at a uniformly random offset of the
// split's file and encodes them. Invalid UTF-8 and '\r' are dropped.
func (s *Sampler) SampleChunk(split Split) ([]int, error) {
	path := s.paths[split]
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s corpus: %w", split, err)
	}
	defer r.Close()

	window := s.blockSize * s.batchSize
	size := r.Len()
	if size < window {
		return nil, fmt.Errorf("%w: %s has %d bytes, need %d", ErrCorpusTooSmall, path, size, window)
	}
	start := s.rng.IntN(size - window + 1)

	buf := make([]byte, window-1)
	n, err := r.ReadAt(buf, int64(start))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", path, start, err)
	}
	text := strings.ReplaceAll(strings.ToValidUTF8(string(buf[:n]), ""), "\r", "")

	ids, err := s.vocab.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode %s chunk at %d: %w", split, start, err)
	}
	return ids, nil
}

// GetBatch draws one chunk and cuts batchSize random windows out of it.
func (s *Sampler) GetBatch(split Split) (*Batch, error) {
	data, err := s.SampleChunk(split)
	if err != nil {
		return nil, err
	}
	if len(data) <= s.blockSize {
		return nil, fmt.Errorf("%w: decoded %s chunk has %d tokens, need more than %d",
			ErrCorpusTooSmall, split, len(data), s.blockSize)
	}
	b := &Batch{
		Input:  make([][]int, s.batchSize),
		Target: make([][]int, s.batchSize),
	}
	for i := range s.batchSize {
		ix := s.rng.IntN(len(data) - s.blockSize)
		b.Input[i] = append([]int(nil), data[ix:ix+s.blockSize]...)
		b.Target[i] = append([]int(nil), data[ix+1:ix+s.blockSize+1]...)
	}
	return b, nil
}
