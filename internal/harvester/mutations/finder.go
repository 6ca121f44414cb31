// Package mutations calls nucleotide mutations of aligned sequences against the reference genome.
package mutations

import (
	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const (
	gap     = '-'
	unknown = 'N'
)

var ErrLengthMismatch = errors.New("sequence length does not match reference length")

// Finder is built once per run and is safe for concurrent use; it is never mutated after construction.
type Finder struct {
	reference string
	masked    map[int]bool
}

// NewFinder uppercases the reference. maskedPositions are 1-indexed.
func NewFinder(reference string, maskedPositions []int) *Finder {
	masked := make(map[int]bool, len(maskedPositions))
	for _, p := range maskedPositions {
		masked[p] = true
	}
	return &Finder{
		reference: string(upperASCII(reference)),
		masked:    masked,
	}
}

func (f *Finder) ReferenceLength() int {
	return len(f.reference)
}

// FindMutations returns the positions at which sequence differs from the reference, in ascending order.
// Leading and trailing gap runs are treated as unknown bases, masked positions and ambiguous bases are skipped,
// internal gaps are reported as deletions.
func (f *Finder) FindMutations(sequence string) ([]model.Mutation, error) {
	if len(sequence) != len(f.reference) {
		return nil, errors.Wrapf(ErrLengthMismatch, "sequence has %d bases, reference has %d", len(sequence), len(f.reference))
	}
	seq := upperASCII(sequence)
	maskTerminalGaps(seq)

	mutations := []model.Mutation{}
	for i, base := range seq {
		position := i + 1
		if f.masked[position] {
			continue
		}
		if !isCallable(base) {
			continue
		}
		if base != f.reference[i] {
			mutations = append(mutations, model.Mutation{Position: position, Base: base})
		}
	}
	return mutations, nil
}

// FindMutations is a convenience for a single comparison; build a Finder when comparing many sequences.
func FindMutations(reference string, maskedPositions []int, sequence string) ([]model.Mutation, error) {
	return NewFinder(reference, maskedPositions).FindMutations(sequence)
}

// upperASCII uppercases a-z only, so the byte length never changes. Other bytes are left as-is and are not callable.
func upperASCII(s string) []byte {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return b
}

func maskTerminalGaps(seq []byte) {
	for i := 0; i < len(seq) && seq[i] == gap; i++ {
		seq[i] = unknown
	}
	for i := len(seq) - 1; i >= 0 && seq[i] == gap; i-- {
		seq[i] = unknown
	}
}

func isCallable(base byte) bool {
	switch base {
	case 'A', 'C', 'G', 'T', gap:
		return true
	default:
		return false
	}
}
