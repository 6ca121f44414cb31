// Package worker runs the per-batch protocol: filter, classify, enrich, call mutations, persist and report.
package worker

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/common/util"
	"github.com/vineyard-genomics/harvester/internal/harvester/enrich"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/ownership"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
)

type State string

const (
	StateReceived        State = "received"
	StateFiltered        State = "filtered"
	StateClassified      State = "classified"
	StateEnriched        State = "enriched"
	StateMutationsCalled State = "mutationsCalled"
	StatePersisted       State = "persisted"
	StateReported        State = "reported"
	StateFailed          State = "failed"
)

// Classifier assigns dispositions and drops records that need no write.
type Classifier interface {
	Classify(ctx context.Context, records []*model.Record, mode model.ImportMode) ([]*model.Record, error)
}

// Enricher aligns and QCs records in a scratch directory.
type Enricher interface {
	Enrich(ctx context.Context, workDir string, records []*model.Record) error
}

// Writer is the part of the store the worker writes to.
type Writer interface {
	ApplyBatch(ctx context.Context, ws *sequencedb.WriteSet) error
	LinkOwnSequences(ctx context.Context, links []sequencedb.OwnSequenceLink) error
}

type Worker struct {
	id         int
	workDir    string
	mode       model.ImportMode
	classifier Classifier
	enricher   Enricher
	finder     *mutations.Finder
	writer     Writer
	ownership  *ownership.Parser
	metrics    *metrics.Metrics
}

func New(
	id int,
	workDir string,
	mode model.ImportMode,
	classifier Classifier,
	enricher Enricher,
	finder *mutations.Finder,
	writer Writer,
	ownershipParser *ownership.Parser,
	m *metrics.Metrics,
) *Worker {
	return &Worker{
		id:         id,
		workDir:    workDir,
		mode:       mode,
		classifier: classifier,
		enricher:   enricher,
		finder:     finder,
		writer:     writer,
		ownership:  ownershipParser,
		metrics:    m,
	}
}

func (w *Worker) Id() int {
	return w.id
}

// Process runs batch to completion. Enrichment failures fail the batch and are reflected in the report only.
// Any other error is returned unretried; in that case nothing of the batch was committed unless the error
// occurred while linking own sequences.
func (w *Worker) Process(ctx context.Context, batch *model.Batch) (model.BatchReport, error) {
	rctx := runcontext.WithLogFields(runcontext.FromContext(ctx), log.Fields{"worker": w.id, "batch": batch.Id})
	p := &batchRun{worker: w, ctx: rctx, log: rctx.Log, state: StateReceived}
	defer p.cleanUp()

	report, err := p.run(batch)
	if err != nil {
		p.transition(StateFailed)
		w.metrics.RecordBatch(metrics.BatchOutcomeErrored)
		return model.BatchReport{}, err
	}
	if report.Failed > 0 {
		w.metrics.RecordBatch(metrics.BatchOutcomeFailed)
	} else {
		w.metrics.RecordBatch(metrics.BatchOutcomeSucceeded)
	}
	return report, nil
}

type batchRun struct {
	worker    *Worker
	ctx       *runcontext.Context
	log       *log.Entry
	state     State
	anomalies []model.WeirdEntryReport
}

func (p *batchRun) transition(next State) {
	p.log.Debugf("%s -> %s", p.state, next)
	p.state = next
}

func (p *batchRun) run(batch *model.Batch) (model.BatchReport, error) {
	w := p.worker
	p.log.Infof("Received a batch of %d records", len(batch.Records))

	filtered := p.filter(batch.Records)
	p.transition(StateFiltered)

	records, err := w.classifier.Classify(p.ctx, filtered, w.mode)
	if err != nil {
		return model.BatchReport{}, errors.WithMessage(err, "error classifying batch")
	}
	p.transition(StateClassified)

	var toEnrich []*model.Record
	for _, r := range records {
		if r.Disposition.NeedsEnrichment() {
			toEnrich = append(toEnrich, r)
		}
	}
	p.log.Infof("%d of %d records are new or have a changed sequence", len(toEnrich), len(batch.Records))
	if err := w.enricher.Enrich(p.ctx, w.workDir, toEnrich); err != nil {
		if enrich.IsBatchFailure(err) {
			p.log.WithError(err).Warn("Enrichment failed, marking the batch as failed")
			p.transition(StateFailed)
			return model.BatchReport{Failed: len(records), WeirdEntries: p.anomalies}, nil
		}
		return model.BatchReport{}, errors.WithMessage(err, "error enriching batch")
	}
	p.transition(StateEnriched)

	p.callMutations(records)
	p.transition(StateMutationsCalled)

	if err := w.writer.ApplyBatch(p.ctx, sequencedb.NewWriteSet(records)); err != nil {
		return model.BatchReport{}, errors.WithMessage(err, "error writing batch")
	}
	p.transition(StatePersisted)

	report, err := p.report(records)
	if err != nil {
		return model.BatchReport{}, err
	}
	p.transition(StateReported)
	p.log.Infof("Batch done: added %d, updated %d", report.Added, report.UpdatedTotal)
	return report, nil
}

// filter drops records without a sequence.
func (p *batchRun) filter(records []*model.Record) []*model.Record {
	kept := make([]*model.Record, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.SeqOriginal) == "" {
			p.anomalies = append(p.anomalies, model.WeirdEntryReport{
				Id:      r.Id,
				Stage:   "worker.filter",
				Message: "No sequence was provided.",
			})
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// callMutations calls nucleotide mutations for aligned records with a resolved lineage.
func (p *batchRun) callMutations(records []*model.Record) {
	for _, r := range records {
		if r.SeqAligned == nil || !r.HasResolvedLineage() {
			continue
		}
		found, err := p.worker.finder.FindMutations(*r.SeqAligned)
		if err != nil {
			p.anomalies = append(p.anomalies, model.WeirdEntryReport{
				Id:      r.Id,
				Stage:   "mutations.find",
				Message: err.Error(),
			})
			continue
		}
		r.NucleotideMutations = found
	}
}

func (p *batchRun) report(records []*model.Record) (model.BatchReport, error) {
	w := p.worker
	own := w.ownership.Classify(records)
	p.anomalies = append(p.anomalies, own.Anomalies...)
	if len(own.Links) > 0 {
		links := make([]sequencedb.OwnSequenceLink, len(own.Links))
		for i, l := range own.Links {
			links[i] = sequencedb.OwnSequenceLink{LabId: l.LabId, SequenceId: l.SequenceId}
		}
		if err := w.writer.LinkOwnSequences(p.ctx, links); err != nil {
			return model.BatchReport{}, errors.WithMessage(err, "error linking own sequences")
		}
	}

	report := model.BatchReport{WeirdEntries: p.anomalies}
	for _, r := range records {
		d := r.Disposition
		switch d.Mode {
		case model.ImportModeAppend:
			report.Added++
			if r.Strain != nil && w.ownership.IsOwn(*r.Strain) {
				report.AddedFromUs++
			}
		case model.ImportModeUpdate:
			report.UpdatedTotal++
			if d.MetadataChanged {
				report.UpdatedMetadata++
			}
			if d.SequenceChanged {
				report.UpdatedSequence++
			}
		}
	}
	w.metrics.RecordRecords("added", report.Added)
	w.metrics.RecordRecords("updated_metadata", report.UpdatedMetadata)
	w.metrics.RecordRecords("updated_sequence", report.UpdatedSequence)
	return report, nil
}

func (p *batchRun) cleanUp() {
	if err := util.EmptyDir(p.worker.workDir); err != nil {
		p.log.WithError(err).Warnf("Cannot clean work directory %s", p.worker.workDir)
	}
}
