// Package enrich runs the external aligner and clade assigner over the records of a batch and merges their output
// back onto the records.
package enrich

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/harvester/fasta"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const originalFastaName = "original.fasta"

// Aligner returns the aligned sequence of every id it could align.
type Aligner interface {
	Align(ctx context.Context, workDir string, fastaPath string) (map[string]string, error)
}

// CladeAssigner returns the QC result of every id it could process.
type CladeAssigner interface {
	AssignClades(ctx context.Context, workDir string, fastaPath string) (map[string]*model.QcResult, error)
}

type Stage struct {
	aligner       Aligner
	cladeAssigner CladeAssigner
	metrics       *metrics.Metrics
}

func NewStage(aligner Aligner, cladeAssigner CladeAssigner, m *metrics.Metrics) *Stage {
	return &Stage{aligner: aligner, cladeAssigner: cladeAssigner, metrics: m}
}

// Enrich writes records to a FASTA file in workDir and runs both tools over it. Failures of either tool are returned
// as *AlignmentFailedError or *QcFailedError and concern all records. Records missing from a tool's output keep
// their previous value for that tool.
func (s *Stage) Enrich(ctx context.Context, workDir string, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	log := runcontext.FromContext(ctx).Log

	entries := make([]fasta.Entry, len(records))
	byId := make(map[string]*model.Record, len(records))
	for i, r := range records {
		entries[i] = fasta.Entry{Id: r.Id, Seq: r.SeqOriginal}
		byId[r.Id] = r
	}
	fastaPath := filepath.Join(workDir, originalFastaName)
	if err := fasta.WriteFile(fastaPath, entries); err != nil {
		return errors.WithMessage(err, "cannot write sequences for enrichment")
	}

	start := time.Now()
	aligned, err := s.aligner.Align(ctx, workDir, fastaPath)
	s.metrics.ObserveSubprocess(metrics.SubprocessAligner, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &AlignmentFailedError{Err: err}
	}
	alignedCount := 0
	for id, seq := range aligned {
		if r, ok := byId[id]; ok {
			seq := seq
			r.SeqAligned = &seq
			alignedCount++
		}
	}
	log.Debugf("aligned %d of %d sequences", alignedCount, len(records))

	start = time.Now()
	results, err := s.cladeAssigner.AssignClades(ctx, workDir, fastaPath)
	s.metrics.ObserveSubprocess(metrics.SubprocessCladeAssigner, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &QcFailedError{Err: err}
	}
	for id, qc := range results {
		if r, ok := byId[id]; ok {
			r.Qc = qc
		}
	}
	return nil
}
