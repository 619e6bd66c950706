package IO

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

var (
	// ErrUnknownChar is returned when text contains a character outside the vocabulary.
	ErrUnknownChar = errors.New("unknown character")
	// ErrUnknownToken is returned when decoding an id outside [0, vocab size).
	ErrUnknownToken = errors.New("unknown token id")
	// ErrEmptyVocabulary is returned for a reference text with no characters.
	ErrEmptyVocabulary = errors.New("empty vocabulary")
)

// Vocabulary is a fixed, sorted alphabet with a bijection char <-> id.
type Vocabulary struct {
	TokenToID map[rune]int
	IDToToken []rune
}

// BuildVocabulary derives the vocabulary from the distinct characters of text,
// ordered by code point.
func BuildVocabulary(text string) (*Vocabulary, error) {
	seen := make(map[rune]struct{})
	for _, ch := range text {
		seen[ch] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, ErrEmptyVocabulary
	}
	chars := make([]rune, 0, len(seen))
	for ch := range seen {
		chars = append(chars, ch)
	}
	slices.Sort(chars)
	return newVocabulary(chars), nil
}

// LoadVocabFile reads the reference text at path. Carriage returns are dropped
// so the alphabet matches what the corpus sampler produces.
func LoadVocabFile(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	text := strings.ReplaceAll(strings.ToValidUTF8(string(raw), ""), "\r", "")
	v, err := BuildVocabulary(text)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

func newVocabulary(chars []rune) *Vocabulary {
	tok2id := make(map[rune]int, len(chars))
	for i, ch := range chars {
		tok2id[ch] = i
	}
	return &Vocabulary{TokenToID: tok2id, IDToToken: chars}
}

func (v *Vocabulary) Size() int {
	return len(v.IDToToken)
}

// Alphabet returns the vocabulary characters in id order.
func (v *Vocabulary) Alphabet() string {
	return string(v.IDToToken)
}

// Encode maps every character of s to its id.
func (v *Vocabulary) Encode(s string) ([]int, error) {
	ids := make([]int, 0, len(s))
	pos := 0
	for _, ch := range s {
		id, ok := v.TokenToID[ch]
		if !ok {
			return nil, fmt.Errorf("%w %q at position %d", ErrUnknownChar, ch, pos)
		}
		ids = append(ids, id)
		pos++
	}
	return ids, nil
}

// Decode maps ids back to text.
func (v *Vocabulary) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for i, id := range ids {
		if id < 0 || id >= len(v.IDToToken) {
			return "", fmt.Errorf("%w %d at position %d (vocab size %d)", ErrUnknownToken, id, i, len(v.IDToToken))
		}
		sb.WriteRune(v.IDToToken[id])
	}
	return sb.String(), nil
}
