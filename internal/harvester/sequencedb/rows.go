package sequencedb

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	commonslices "github.com/vineyard-genomics/harvester/internal/common/slices"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// aaMutationRows returns one (sequence_id, aa_mutation) row per distinct amino-acid mutation of each record.
func aaMutationRows(records []*model.Record) [][]interface{} {
	var rows [][]interface{}
	for _, r := range records {
		if r.Qc == nil {
			continue
		}
		for _, m := range commonslices.Unique(r.Qc.AaMutations) {
			rows = append(rows, []interface{}{r.Id, m})
		}
	}
	return rows
}

func recordMutations(records []*model.Record) map[string][]model.Mutation {
	result := map[string][]model.Mutation{}
	for _, r := range records {
		if len(r.NucleotideMutations) > 0 {
			result[r.Id] = r.NucleotideMutations
		}
	}
	return result
}

// nucleotideMutationRows returns (sequence_id, position, mutation) rows ordered by id and position.
func nucleotideMutationRows(mutations map[string][]model.Mutation) [][]interface{} {
	ids := maps.Keys(mutations)
	slices.Sort(ids)
	var rows [][]interface{}
	for _, id := range ids {
		for _, m := range mutations[id] {
			rows = append(rows, []interface{}{id, int32(m.Position), m.Symbol()})
		}
	}
	return rows
}
