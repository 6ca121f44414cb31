package backfill

import (
	"context"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
)

type fakeStore struct {
	sequences []sequencedb.AlignedSequence
	inserted  map[string][]model.Mutation
	afterIds  []string
	insertErr error
}

func (f *fakeStore) FetchUnmutated(_ context.Context, afterId string, limit int) ([]sequencedb.AlignedSequence, error) {
	f.afterIds = append(f.afterIds, afterId)
	var page []sequencedb.AlignedSequence
	for _, s := range f.sequences {
		if _, done := f.inserted[s.Id]; done || s.Id <= afterId {
			continue
		}
		page = append(page, s)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeStore) InsertNucleotideMutations(_ context.Context, m map[string][]model.Mutation) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for id, ms := range m {
		f.inserted[id] = ms
	}
	return nil
}

func newFakeStore(sequences map[string]string) *fakeStore {
	store := &fakeStore{inserted: map[string][]model.Mutation{}}
	for id, seq := range sequences {
		store.sequences = append(store.sequences, sequencedb.AlignedSequence{Id: id, SeqAligned: seq})
	}
	sort.Slice(store.sequences, func(i, j int) bool { return store.sequences[i].Id < store.sequences[j].Id })
	return store
}

func TestRun(t *testing.T) {
	store := newFakeStore(map[string]string{
		"EPI_1": "ACTT",
		"EPI_2": "ACGT",
		"EPI_3": "ACG",
		"EPI_4": "TCGT",
		"EPI_5": "ACG-",
	})
	finder := mutations.NewFinder("ACGT", nil)

	result, err := Run(context.Background(), store, finder, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Scanned)
	assert.Equal(t, 2, result.Mutated)
	assert.Equal(t, []string{"", "EPI_2", "EPI_4", "EPI_5"}, store.afterIds)
	assert.Equal(t, map[string][]model.Mutation{
		"EPI_1": {{Position: 3, Base: 'T'}},
		"EPI_4": {{Position: 1, Base: 'T'}},
	}, store.inserted)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, "EPI_3", result.Anomalies[0].Id)
}

func TestRun_InsertError(t *testing.T) {
	store := newFakeStore(map[string]string{"EPI_1": "ACTT"})
	store.insertErr = errors.New("boom")

	_, err := Run(context.Background(), store, mutations.NewFinder("ACGT", nil), 10)
	assert.ErrorIs(t, err, store.insertErr)
}

func TestRun_RejectsInvalidPageSize(t *testing.T) {
	_, err := Run(context.Background(), newFakeStore(nil), mutations.NewFinder("ACGT", nil), 0)
	assert.Error(t, err)
}
