// Package importer coordinates a run: it streams the source into batches, fans them out to a pool of workers and
// reconciles deletions once every batch has been processed.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/vineyard-genomics/harvester/internal/common/harvestererrors"
	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/common/util"
	"github.com/vineyard-genomics/harvester/internal/harvester/changeset"
	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/enrich"
	"github.com/vineyard-genomics/harvester/internal/harvester/fasta"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/notify"
	"github.com/vineyard-genomics/harvester/internal/harvester/ownership"
	"github.com/vineyard-genomics/harvester/internal/harvester/queue"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
	"github.com/vineyard-genomics/harvester/internal/harvester/source"
	"github.com/vineyard-genomics/harvester/internal/harvester/worker"
)

const referenceFastaName = "reference.fasta"

// DefaultEnricherFactory aligns with mafft and assigns clades with nextclade as configured.
func DefaultEnricherFactory(config configuration.HarvesterConfiguration, m *metrics.Metrics) EnricherFactory {
	return func(referencePath string) worker.Enricher {
		return enrich.NewStage(enrich.NewMafft(config.Aligner, referencePath), enrich.NewNextclade(config.CladeAssigner), m)
	}
}

// ErrUnexpectedSource is returned when the source lacks required fields.
var ErrUnexpectedSource = errors.New("source is missing required fields")

// EnricherFactory creates the enrichment stage once the reference file of the run is known.
type EnricherFactory func(referencePath string) worker.Enricher

type Importer struct {
	config          configuration.HarvesterConfiguration
	store           sequencedb.Store
	submitters      changeset.SubmitterFetcher
	notifier        notify.Notifier
	enricherFactory EnricherFactory
	clock           clock.Clock
	metrics         *metrics.Metrics
}

func NewImporter(
	config configuration.HarvesterConfiguration,
	store sequencedb.Store,
	submitters changeset.SubmitterFetcher,
	notifier notify.Notifier,
	enricherFactory EnricherFactory,
	clock clock.Clock,
	m *metrics.Metrics,
) *Importer {
	return &Importer{
		config:          config,
		store:           store,
		submitters:      submitters,
		notifier:        notifier,
		enricherFactory: enricherFactory,
		clock:           clock,
		metrics:         m,
	}
}

// runState is the data loaded once per run and shared read-only by all workers.
type runState struct {
	workDir        string
	existingIds    map[string]bool
	reference      string
	referencePath  string
	maskedSites    []int
	countryMapping map[string]string
}

// Run imports src. An error is returned only when the run could not start; once batches are produced, every
// problem is reported through the returned FinalReport.
func (imp *Importer) Run(ctx context.Context, src io.Reader) (*model.FinalReport, error) {
	rctx := runcontext.WithLogField(runcontext.FromContext(ctx), "mode", imp.config.Mode)
	startTime := imp.clock.Now()

	state, err := imp.prepare(rctx)
	if err != nil {
		imp.sendCrashReport(rctx, "prepare", err)
		return nil, err
	}
	defer func() {
		if err := util.EmptyDir(state.workDir); err != nil {
			rctx.Log.WithError(err).Warn("Cannot clean work directory")
		}
	}()

	lines := source.NewLineReader(src)
	if err := imp.validateSource(rctx, lines); err != nil {
		imp.sendCrashReport(rctx, "validateSource", err)
		return nil, err
	}

	final := imp.process(rctx, state, lines)
	final.StartTime = startTime
	final.EndTime = imp.clock.Now()
	if err := imp.notifier.Send(rctx, final); err != nil {
		rctx.Log.WithError(err).Warn("Cannot deliver final report")
	}
	return final, nil
}

func (imp *Importer) prepare(ctx *runcontext.Context) (*runState, error) {
	workDir, err := filepath.Abs(imp.config.WorkDir)
	if err != nil {
		return nil, &harvestererrors.ErrPreflight{Check: "workDir", Err: err}
	}
	if err := imp.preflight(ctx, workDir); err != nil {
		return nil, err
	}
	state := &runState{workDir: workDir}

	g, gctx := runcontext.ErrGroup(ctx)
	g.Go(func() error {
		ids, err := imp.store.LoadExistingIds(gctx)
		if err != nil {
			return errors.WithMessage(err, "cannot load existing ids")
		}
		state.existingIds = ids
		return nil
	})
	g.Go(func() error {
		sites, err := imp.store.LoadMaskedSites(gctx)
		if err != nil {
			return errors.WithMessage(err, "cannot load masked sites")
		}
		state.maskedSites = sites
		return nil
	})
	g.Go(func() error {
		mapping, err := imp.store.LoadCountryMapping(gctx)
		if err != nil {
			return errors.WithMessage(err, "cannot load country mapping")
		}
		state.countryMapping = mapping
		return nil
	})
	g.Go(func() error {
		return imp.loadReference(gctx, state)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ctx.Log.Infof("Loaded %d existing ids, %d masked sites and a reference of length %d",
		len(state.existingIds), len(state.maskedSites), len(state.reference))
	return state, nil
}

// preflight fails fast on an unreachable store or an unusable work directory.
func (imp *Importer) preflight(ctx context.Context, workDir string) error {
	if err := imp.store.Ping(ctx); err != nil {
		return &harvestererrors.ErrPreflight{Check: "store", Err: err}
	}
	empty, err := util.IsEmptyDir(workDir)
	if err != nil {
		return &harvestererrors.ErrPreflight{Check: "workDir", Err: err}
	}
	if !empty {
		return &harvestererrors.ErrPreflight{Check: "workDir", Err: errors.Errorf("%s is not empty", workDir)}
	}
	if err := util.CheckWritable(workDir); err != nil {
		return &harvestererrors.ErrPreflight{Check: "workDir", Err: err}
	}
	return nil
}

// loadReference reads the configured reference file, or takes the reference from the store and writes it to the
// work directory for the aligner.
func (imp *Importer) loadReference(ctx context.Context, state *runState) error {
	if imp.config.ReferencePath != "" {
		entry, err := fasta.ReadSingleFile(imp.config.ReferencePath)
		if err != nil {
			return errors.WithMessage(err, "cannot read reference")
		}
		path, err := filepath.Abs(imp.config.ReferencePath)
		if err != nil {
			return errors.WithStack(err)
		}
		state.reference = entry.Seq
		state.referencePath = path
		return nil
	}
	reference, err := imp.store.LoadReference(ctx)
	if err != nil {
		return errors.WithMessage(err, "cannot load reference")
	}
	path := filepath.Join(state.workDir, referenceFastaName)
	if err := fasta.WriteFile(path, []fasta.Entry{{Id: "reference", Seq: reference}}); err != nil {
		return err
	}
	state.reference = reference
	state.referencePath = path
	return nil
}

func (imp *Importer) validateSource(ctx *runcontext.Context, lines *source.LineReader) error {
	sampleLines := imp.config.SampleLines
	if sampleLines <= 0 {
		sampleLines = source.SampleLines
	}
	sample, err := lines.Peek(sampleLines)
	if err != nil {
		return err
	}
	report, err := source.Validate(sample)
	if err != nil {
		return err
	}
	if report == nil {
		return nil
	}
	if err := imp.notifier.Send(ctx, report); err != nil {
		ctx.Log.WithError(err).Warn("Cannot deliver unexpected data report")
	}
	if report.IsFatal() {
		return errors.Wrapf(ErrUnexpectedSource, "missing %v", report.MissingRequiredFields)
	}
	return nil
}

func (imp *Importer) sendCrashReport(ctx *runcontext.Context, stage string, err error) {
	ctx.Log.WithError(err).Errorf("Import aborted during %s", stage)
	report := &model.CrashReport{Time: imp.clock.Now(), Stage: stage, Error: err.Error()}
	if sendErr := imp.notifier.Send(ctx, report); sendErr != nil {
		ctx.Log.WithError(sendErr).Warn("Cannot deliver crash report")
	}
}

// results collects batch reports and unhandled errors from concurrently running workers.
type results struct {
	mu      sync.Mutex
	reports []model.BatchReport
	errs    *multierror.Error
}

func (r *results) addReport(report model.BatchReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *results) addError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = multierror.Append(r.errs, err)
}

func (r *results) snapshot() ([]model.BatchReport, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reports := append([]model.BatchReport(nil), r.reports...)
	var errs []string
	if r.errs != nil {
		for _, err := range r.errs.Errors {
			errs = append(errs, err.Error())
		}
	}
	return reports, errs
}

func (imp *Importer) process(ctx *runcontext.Context, state *runState, lines *source.LineReader) *model.FinalReport {
	q := queue.NewExhaustibleQueue[*model.Batch](queue.CapacityForWorkers(imp.config.Workers))
	brake := queue.NewEmergencyBrake()
	res := &results{}

	workCtx, cancelWork := runcontext.WithCancel(ctx)
	defer cancelWork()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			brake.Pull(errors.Wrap(ctx.Err(), "run interrupted"))
		case <-finished:
		}
	}()

	workers, err := imp.createWorkers(state)
	if err != nil {
		res.addError(err)
		brake.Pull(err)
	}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			imp.runWorker(workCtx, w, q, brake, res)
		}(w)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	produced := imp.produce(ctx, state, lines, q, brake, res)
	q.MarkExhausted()
	ctx.Log.Infof("Read %d entries, %d to process; waiting for workers", produced.entries, produced.processed)

	imp.awaitWorkers(ctx, done, brake, cancelWork)
	if ctx.Err() != nil {
		err := errors.Wrap(ctx.Err(), "run interrupted")
		brake.Pull(err)
		res.addError(err)
	}

	cancelled := brake.Pulled()
	deleted := 0
	if !cancelled {
		deleted = imp.reconcile(ctx, state.existingIds, produced.seen, res)
	}

	reports, unhandled := res.snapshot()
	merged := model.MergeBatchReports(append(reports, model.BatchReport{WeirdEntries: produced.anomalies}))
	return &model.FinalReport{
		Success:              model.IsSuccessful(len(unhandled), merged.Failed, produced.processed),
		Cancelled:            cancelled,
		ImportMode:           imp.config.Mode,
		EntriesInDataPackage: produced.entries,
		ProcessedEntries:     produced.processed,
		DeletedEntries:       deleted,
		BatchReport:          merged,
		UnhandledErrors:      unhandled,
	}
}

func (imp *Importer) createWorkers(state *runState) ([]*worker.Worker, error) {
	finder := mutations.NewFinder(state.reference, state.maskedSites)
	detector := changeset.NewDetector(imp.store, imp.submitters, imp.config.UpdateSubmitterInformation)
	enricher := imp.enricherFactory(state.referencePath)
	ownershipParser := ownership.NewParser(imp.config.Ownership.Marker)

	workers := make([]*worker.Worker, imp.config.Workers)
	for i := range workers {
		dir := filepath.Join(state.workDir, fmt.Sprintf("worker-%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
		workers[i] = worker.New(i, dir, imp.config.Mode, detector, enricher, finder, imp.store, ownershipParser, imp.metrics)
	}
	return workers, nil
}

// runWorker polls for batches until the queue is drained or the brake is pulled. An error from a batch pulls the
// brake.
func (imp *Importer) runWorker(ctx *runcontext.Context, w *worker.Worker, q *queue.ExhaustibleQueue[*model.Batch], brake *queue.EmergencyBrake, res *results) {
	logger := ctx.Log.WithField("worker", w.Id())
	for {
		if brake.Pulled() {
			logger.Info("Emergency brake pulled, stopping")
			return
		}
		batch, ok := q.Poll(imp.config.PollTimeout)
		if !ok {
			if q.IsDrained() {
				logger.Debug("Queue drained, stopping")
				return
			}
			continue
		}
		imp.metrics.SetQueueDepth(q.Len())
		report, err := w.Process(ctx, batch)
		if err != nil {
			err = errors.WithMessagef(err, "worker %d failed on batch %s", w.Id(), batch.Id)
			logger.WithError(err).Error("Unhandled error, pulling the emergency brake")
			res.addError(err)
			brake.Pull(err)
			return
		}
		res.addReport(report)
	}
}

type produceResult struct {
	entries   int
	processed int
	seen      map[string]bool
	anomalies []model.WeirdEntryReport
}

// produce streams the source into batches. It stops early when the brake is pulled.
func (imp *Importer) produce(
	ctx *runcontext.Context,
	state *runState,
	lines *source.LineReader,
	q *queue.ExhaustibleQueue[*model.Batch],
	brake *queue.EmergencyBrake,
	res *results,
) produceResult {
	parser := source.NewParser(state.countryMapping)
	result := produceResult{seen: map[string]bool{}}
	batchSize := imp.config.BatchSize
	pending := make([]*model.Record, 0, batchSize)

	offer := func() bool {
		batch := model.NewBatch(pending)
		pending = make([]*model.Record, 0, batchSize)
		for !brake.Pulled() {
			if q.Offer(batch, imp.config.OfferTimeout) {
				imp.metrics.SetQueueDepth(q.Len())
				return true
			}
			ctx.Log.Debug("Queue full, retrying")
		}
		return false
	}

	for !brake.Pulled() {
		line, ok := lines.Next()
		if !ok {
			break
		}
		result.entries++
		imp.metrics.RecordSourceLine()
		if result.entries%10000 == 0 {
			ctx.Log.Infof("Read %d entries", result.entries)
		}

		record, anomalies, err := parser.Parse(line)
		if errors.Is(err, source.ErrMissingId) {
			result.anomalies = append(result.anomalies, model.WeirdEntryReport{
				Stage:   "source.parse",
				Message: fmt.Sprintf("entry %d: %v", result.entries, err),
			})
			continue
		}
		if err != nil {
			err = errors.WithMessagef(err, "entry %d", result.entries)
			res.addError(err)
			brake.Pull(err)
			break
		}
		result.seen[record.Id] = true
		if imp.config.Mode == model.ImportModeAppend && state.existingIds[record.Id] {
			continue
		}
		result.anomalies = append(result.anomalies, anomalies...)
		pending = append(pending, record)
		result.processed++
		if len(pending) >= batchSize && !offer() {
			break
		}
	}
	if err := lines.Err(); err != nil {
		res.addError(err)
		brake.Pull(err)
	}
	if len(pending) > 0 && !brake.Pulled() {
		offer()
	}
	return result
}

// awaitWorkers waits for all workers. Once the brake is pulled, it waits at most the emergency wait and then
// cancels the remaining work.
func (imp *Importer) awaitWorkers(ctx *runcontext.Context, done <-chan struct{}, brake *queue.EmergencyBrake, cancelWork context.CancelFunc) {
	select {
	case <-done:
		return
	case <-brake.Done():
	}
	ctx.Log.Warnf("Emergency brake pulled (%v), waiting up to %s for workers", brake.Cause(), imp.config.EmergencyWait)
	select {
	case <-done:
	case <-imp.clock.After(imp.config.EmergencyWait):
		ctx.Log.Error("Workers did not stop in time, cancelling remaining work")
		cancelWork()
	}
}

// reconcile deletes stored records that are no longer in the source and refreshes derived views.
func (imp *Importer) reconcile(ctx *runcontext.Context, existing map[string]bool, seen map[string]bool, res *results) int {
	var toDelete []string
	for id := range existing {
		if !seen[id] {
			toDelete = append(toDelete, id)
		}
	}
	deleted := 0
	if len(toDelete) > 0 {
		ctx.Log.Infof("Deleting %d records that are no longer published", len(toDelete))
		n, err := imp.store.DeleteRecords(ctx, toDelete)
		if err != nil {
			res.addError(errors.WithMessage(err, "cannot delete retracted records"))
		}
		deleted = n
	}
	if imp.config.RefreshMaterializedViews {
		if err := imp.store.RefreshMaterializedViews(ctx); err != nil {
			res.addError(errors.WithMessage(err, "cannot refresh materialized views"))
		}
	}
	return deleted
}

// LogRunSummary logs the outcome of a finished run.
func LogRunSummary(report *model.FinalReport) {
	log.WithFields(log.Fields{
		"success":   report.Success,
		"cancelled": report.Cancelled,
		"duration":  report.Duration(),
	}).Info("Run complete")
}
