package model

import (
	"time"
)

// WeirdEntryReport is a non-fatal anomaly found in a single record.
type WeirdEntryReport struct {
	Id      string `yaml:"id"`
	Stage   string `yaml:"stage"`
	Message string `yaml:"message"`
}

type BatchReport struct {
	Added           int                `yaml:"added"`
	UpdatedTotal    int                `yaml:"updatedTotal"`
	UpdatedMetadata int                `yaml:"updatedMetadata"`
	UpdatedSequence int                `yaml:"updatedSequence"`
	AddedFromUs     int                `yaml:"addedFromUs"`
	Failed          int                `yaml:"failed"`
	WeirdEntries    []WeirdEntryReport `yaml:"weirdEntries,omitempty"`
}

// MergeBatchReports sums the counters of all reports and concatenates their anomalies.
func MergeBatchReports(reports []BatchReport) BatchReport {
	merged := BatchReport{}
	for _, r := range reports {
		merged.Added += r.Added
		merged.UpdatedTotal += r.UpdatedTotal
		merged.UpdatedMetadata += r.UpdatedMetadata
		merged.UpdatedSequence += r.UpdatedSequence
		merged.AddedFromUs += r.AddedFromUs
		merged.Failed += r.Failed
		merged.WeirdEntries = append(merged.WeirdEntries, r.WeirdEntries...)
	}
	return merged
}

// FailureTolerance is the share of processed records that may fail before a run counts as unsuccessful.
const FailureTolerance = 0.05

type FinalReport struct {
	Success              bool       `yaml:"success"`
	Cancelled            bool       `yaml:"cancelled"`
	ImportMode           ImportMode `yaml:"importMode"`
	StartTime            time.Time  `yaml:"startTime"`
	EndTime              time.Time  `yaml:"endTime"`
	EntriesInDataPackage int        `yaml:"entriesInDataPackage"`
	ProcessedEntries     int        `yaml:"processedEntries"`
	DeletedEntries       int        `yaml:"deletedEntries"`
	BatchReport          `yaml:",inline"`
	UnhandledErrors      []string `yaml:"unhandledErrors,omitempty"`
}

// IsSuccessful applies the run success rule: no unhandled errors and fewer than 5% of processed records failed.
// A run that processed nothing is not successful.
func IsSuccessful(unhandledErrors int, failed int, processed int) bool {
	if unhandledErrors > 0 {
		return false
	}
	return float64(failed) < FailureTolerance*float64(processed)
}

func (r *FinalReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type Priority string

const (
	PriorityInfo    Priority = "info"
	PriorityWarning Priority = "warning"
	PriorityFatal   Priority = "fatal"
)

// UnexpectedDataReport describes a divergence between the fields found in the source and the expected field sets.
// It is fatal when required fields are missing.
type UnexpectedDataReport struct {
	Priority              Priority `yaml:"priority"`
	MissingFields         []string `yaml:"missingFields,omitempty"`
	MissingRequiredFields []string `yaml:"missingRequiredFields,omitempty"`
	UnexpectedKeys        []string `yaml:"unexpectedFields,omitempty"`
}

func (r *UnexpectedDataReport) IsFatal() bool {
	return r.Priority == PriorityFatal
}

// CrashReport is sent when a run aborts before a final report can be produced.
type CrashReport struct {
	Time  time.Time `yaml:"time"`
	Stage string    `yaml:"stage"`
	Error string    `yaml:"error"`
}
