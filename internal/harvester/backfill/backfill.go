// Package backfill calls nucleotide mutations for stored records that were aligned before mutation calling existed.
package backfill

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
)

type Store interface {
	FetchUnmutated(ctx context.Context, afterId string, limit int) ([]sequencedb.AlignedSequence, error)
	InsertNucleotideMutations(ctx context.Context, mutations map[string][]model.Mutation) error
}

type Result struct {
	Scanned   int
	Mutated   int
	Anomalies []model.WeirdEntryReport
}

// Run pages through unmutated records in id order and stores their mutations page by page. Records whose
// alignment does not match the reference are reported and skipped.
func Run(ctx context.Context, store Store, finder *mutations.Finder, pageSize int) (Result, error) {
	rctx := runcontext.FromContext(ctx)
	if pageSize <= 0 {
		return Result{}, errors.Errorf("page size must be positive, got %d", pageSize)
	}
	result := Result{}
	afterId := ""
	for {
		page, err := store.FetchUnmutated(rctx, afterId, pageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		found := map[string][]model.Mutation{}
		for _, s := range page {
			m, err := finder.FindMutations(s.SeqAligned)
			if err != nil {
				result.Anomalies = append(result.Anomalies, model.WeirdEntryReport{
					Id:      s.Id,
					Stage:   "backfill.findMutations",
					Message: err.Error(),
				})
				continue
			}
			if len(m) > 0 {
				found[s.Id] = m
			}
		}
		if err := store.InsertNucleotideMutations(rctx, found); err != nil {
			return result, err
		}
		result.Scanned += len(page)
		result.Mutated += len(found)
		afterId = page[len(page)-1].Id
		rctx.Log.Infof("Backfilled %d records, last id %s", result.Scanned, afterId)
	}
	return result, nil
}
