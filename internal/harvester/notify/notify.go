// Package notify delivers run reports to operators.
package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/vineyard-genomics/harvester/internal/common/util"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// Notifier receives the reports of a run. Report is one of *model.FinalReport, *model.UnexpectedDataReport or
// *model.CrashReport.
type Notifier interface {
	Send(ctx context.Context, report interface{}) error
}

// LogNotifier writes a summary of every report to the log.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, report interface{}) error {
	switch r := report.(type) {
	case *model.FinalReport:
		entry := log.WithFields(log.Fields{
			"success":         r.Success,
			"cancelled":       r.Cancelled,
			"mode":            r.ImportMode,
			"duration":        r.Duration(),
			"entries":         r.EntriesInDataPackage,
			"processed":       r.ProcessedEntries,
			"added":           r.Added,
			"addedFromUs":     r.AddedFromUs,
			"updated":         r.UpdatedTotal,
			"updatedMetadata": r.UpdatedMetadata,
			"updatedSequence": r.UpdatedSequence,
			"deleted":         r.DeletedEntries,
			"failed":          r.Failed,
			"weirdEntries":    len(r.WeirdEntries),
		})
		if r.Success {
			entry.Info("Import finished")
		} else {
			entry.Errorf("Import failed: %v", r.UnhandledErrors)
		}
	case *model.UnexpectedDataReport:
		entry := log.WithFields(log.Fields{
			"missing":         r.MissingFields,
			"missingRequired": r.MissingRequiredFields,
			"unexpected":      r.UnexpectedKeys,
		})
		switch r.Priority {
		case model.PriorityFatal:
			entry.Error("Source is missing required fields")
		case model.PriorityWarning:
			entry.Warn("Source fields differ from the expected fields")
		default:
			entry.Info("Source contains unexpected fields")
		}
	case *model.CrashReport:
		log.WithField("stage", r.Stage).Errorf("Import crashed: %s", r.Error)
	default:
		return errors.Errorf("unknown report type %T", report)
	}
	return nil
}

// FileNotifier writes every report as a YAML document into a directory.
type FileNotifier struct {
	dir string
}

func NewFileNotifier(dir string) *FileNotifier {
	return &FileNotifier{dir: dir}
}

func (n *FileNotifier) Send(_ context.Context, report interface{}) error {
	var kind string
	switch report.(type) {
	case *model.FinalReport:
		kind = "final"
	case *model.UnexpectedDataReport:
		kind = "unexpected-data"
	case *model.CrashReport:
		kind = "crash"
	default:
		return errors.Errorf("unknown report type %T", report)
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	path := filepath.Join(n.dir, fmt.Sprintf("%s-%s.yaml", util.NewULID(), kind))
	return errors.WithStack(os.WriteFile(path, data, 0o644))
}

// MultiNotifier sends every report to all notifiers and collects their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Send(ctx context.Context, report interface{}) error {
	var result *multierror.Error
	for _, n := range m {
		if err := n.Send(ctx, report); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
