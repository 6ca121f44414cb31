// Package changeset decides, per record, whether a batch entry is new, changed or unchanged relative to the store.
package changeset

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// StoredRecordFetcher is the part of the store the detector reads from.
type StoredRecordFetcher interface {
	FetchStored(ctx context.Context, ids []string) (map[string]*model.StoredRecord, error)
}

// SubmitterFetcher looks up submitter information; nil means unknown.
type SubmitterFetcher interface {
	FetchSubmitter(ctx context.Context, id string) *model.SubmitterInformation
}

type Detector struct {
	store                      StoredRecordFetcher
	submitters                 SubmitterFetcher
	updateSubmitterInformation bool
}

// NewDetector creates a detector. When updateSubmitterInformation is false, submitter information is only looked up
// for records that are not stored yet.
func NewDetector(store StoredRecordFetcher, submitters SubmitterFetcher, updateSubmitterInformation bool) *Detector {
	return &Detector{
		store:                      store,
		submitters:                 submitters,
		updateSubmitterInformation: updateSubmitterInformation,
	}
}

// Classify sets the disposition of every record and returns the records that need writing, in input order.
// Updates that change nothing are left out.
func (d *Detector) Classify(ctx context.Context, records []*model.Record, mode model.ImportMode) ([]*model.Record, error) {
	if mode == model.ImportModeAppend {
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return nil, errors.WithStack(err)
			}
			r.Disposition = model.Disposition{Mode: model.ImportModeAppend}
			r.Submitter = d.submitters.FetchSubmitter(ctx, r.Id)
		}
		return records, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Id
	}
	stored, err := d.store.FetchStored(ctx, ids)
	if err != nil {
		return nil, errors.WithMessage(err, "error fetching stored records")
	}

	result := make([]*model.Record, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		s, found := stored[r.Id]
		if !found {
			r.Disposition = model.Disposition{Mode: model.ImportModeAppend}
			r.Submitter = d.submitters.FetchSubmitter(ctx, r.Id)
			result = append(result, r)
			continue
		}
		if d.updateSubmitterInformation {
			r.Submitter = d.submitters.FetchSubmitter(ctx, r.Id)
		}
		r.Disposition = Compare(r, s)
		if !r.Disposition.IsNoOp() {
			result = append(result, r)
		}
	}
	return result, nil
}

// Compare returns the update disposition of r against its stored state. Submitter information only counts when it
// was looked up for r.
func Compare(r *model.Record, stored *model.StoredRecord) model.Disposition {
	metadataChanged := !r.Metadata.Equal(stored.Metadata)
	if r.Submitter != nil && !r.Submitter.Equal(stored.Submitter) {
		metadataChanged = true
	}
	sequenceChanged := stored.SeqOriginal == nil || *stored.SeqOriginal != r.SeqOriginal
	return model.Disposition{
		Mode:            model.ImportModeUpdate,
		MetadataChanged: metadataChanged,
		SequenceChanged: sequenceChanged,
	}
}
