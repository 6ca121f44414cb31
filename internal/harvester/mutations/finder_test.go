package mutations

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const reference = "ACGTACGTAC"

func TestFindMutations(t *testing.T) {
	tests := map[string]struct {
		sequence string
		masked   []int
		expected []model.Mutation
	}{
		"identical": {
			sequence: reference,
			expected: []model.Mutation{},
		},
		"lower case is normalised": {
			sequence: "acgtacgtac",
			expected: []model.Mutation{},
		},
		"single substitution": {
			sequence: "ACGTTCGTAC",
			expected: []model.Mutation{{Position: 5, Base: 'T'}},
		},
		"internal gap is a deletion": {
			sequence: "ACG-ACGTAC",
			expected: []model.Mutation{{Position: 4, Base: '-'}},
		},
		"leading and trailing gaps are unknown": {
			sequence: "---TACGT--",
			expected: []model.Mutation{},
		},
		"terminal gaps do not hide internal ones": {
			sequence: "--GTA-GTA-",
			expected: []model.Mutation{{Position: 6, Base: '-'}},
		},
		"ambiguous bases are skipped": {
			sequence: "NCGTRCGTYC",
			expected: []model.Mutation{},
		},
		"masked positions are skipped": {
			sequence: "TCGTACGTAG",
			masked:   []int{1},
			expected: []model.Mutation{{Position: 10, Base: 'G'}},
		},
		"all gaps": {
			sequence: "----------",
			expected: []model.Mutation{},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mutations, err := FindMutations(reference, tc.masked, tc.sequence)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, mutations)
		})
	}
}

func TestFindMutations_LengthMismatch(t *testing.T) {
	_, err := NewFinder(reference, nil).FindMutations("ACGT")
	assert.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestFindMutations_LowerCaseReference(t *testing.T) {
	mutations, err := FindMutations("acgt", nil, "ACGA")
	require.NoError(t, err)
	assert.Equal(t, []model.Mutation{{Position: 4, Base: 'A'}}, mutations)
}

func TestFindMutations_NonASCIIBytesAreSkipped(t *testing.T) {
	tests := map[string]string{
		"invalid utf-8":       "AC\xffT",
		"multi-byte rune":     "A\u0250T",
		"multi-byte and diff": "\u0250GA",
	}
	expected := map[string][]model.Mutation{
		"invalid utf-8":       {},
		"multi-byte rune":     {},
		"multi-byte and diff": {{Position: 4, Base: 'A'}},
	}
	for name, sequence := range tests {
		t.Run(name, func(t *testing.T) {
			require.Len(t, sequence, 4)
			var mutations []model.Mutation
			var err error
			assert.NotPanics(t, func() {
				mutations, err = FindMutations("ACGT", nil, sequence)
			})
			require.NoError(t, err)
			assert.Equal(t, expected[name], mutations)
		})
	}
}

func TestFindMutations_SelfComparisonIsEmpty(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	alphabet := []byte("ACGTN-RY")
	for i := 0; i < 50; i++ {
		seq := make([]byte, 200)
		for j := range seq {
			seq[j] = alphabet[r.Intn(len(alphabet))]
		}
		mutations, err := FindMutations(string(seq), nil, string(seq))
		require.NoError(t, err)
		// Gaps in the interior equal the reference; terminal gaps become unknown and are skipped.
		assert.Empty(t, mutations)
	}
}

func TestFinder_SharedAcrossGoroutines(t *testing.T) {
	finder := NewFinder(reference, []int{2})
	done := make(chan []model.Mutation)
	for i := 0; i < 8; i++ {
		go func() {
			m, _ := finder.FindMutations("AAGTACGTAC")
			done <- m
		}()
	}
	for i := 0; i < 8; i++ {
		assert.Empty(t, <-done)
	}
}
