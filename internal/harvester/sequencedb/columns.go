package sequencedb

import (
	"time"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const (
	sequenceTable    = "surveillance_sequence"
	aaMutationTable  = "sequence_mutation_aa"
	nucMutationTable = "sequence_mutation_nucleotide"
)

// metadataColumns are rewritten by a metadata-only update. The submitter columns are kept when the new value is
// unknown.
var metadataColumns = []string{
	"strain", "virus", "date", "date_original", "country", "region_original", "country_original", "division",
	"location", "host", "age", "sex", "pangolin_lineage", "gisaid_clade", "date_submitted", "sampling_strategy",
}

var submitterColumns = []string{"originating_lab", "submitting_lab", "authors"}

var enrichmentColumns = []string{
	"seq_original", "seq_aligned", "nextclade_clade",
	"nextclade_qc_overall_score", "nextclade_qc_overall_status", "nextclade_total_gaps", "nextclade_total_insertions",
	"nextclade_total_missing", "nextclade_total_mutations", "nextclade_total_non_acgtns",
	"nextclade_total_pcr_primer_changes", "nextclade_alignment_start", "nextclade_alignment_end",
	"nextclade_alignment_score", "nextclade_qc_missing_data_score", "nextclade_qc_missing_data_status",
	"nextclade_qc_missing_data_total", "nextclade_qc_mixed_sites_score", "nextclade_qc_mixed_sites_status",
	"nextclade_qc_mixed_sites_total", "nextclade_qc_private_mutations_cutoff", "nextclade_qc_private_mutations_excess",
	"nextclade_qc_private_mutations_score", "nextclade_qc_private_mutations_status", "nextclade_qc_private_mutations_total",
	"nextclade_qc_snp_clusters_clustered", "nextclade_qc_snp_clusters_score", "nextclade_qc_snp_clusters_status",
	"nextclade_qc_snp_clusters_total", "nextclade_errors",
}

// dateEncoder converts a nullable date into the driver representation of the target database.
type dateEncoder func(*time.Time) interface{}

func insertColumns() []string {
	cols := []string{"id"}
	cols = append(cols, metadataColumns...)
	cols = append(cols, submitterColumns...)
	return append(cols, enrichmentColumns...)
}

func metadataUpdateColumns() []string {
	cols := []string{"id"}
	cols = append(cols, metadataColumns...)
	return append(cols, submitterColumns...)
}

func metadataValues(r *model.Record, date dateEncoder) []interface{} {
	return []interface{}{
		r.Strain, r.Virus, date(r.Date), r.DateOriginal, r.Country, r.RegionOriginal, r.CountryOriginal,
		r.Division, r.Location, r.Host, r.Age, r.Sex, r.PangolinLineage, r.GisaidClade, date(r.DateSubmitted),
		r.SamplingStrategy,
	}
}

func submitterValues(r *model.Record) []interface{} {
	if r.Submitter == nil {
		return []interface{}{nil, nil, nil}
	}
	return []interface{}{r.Submitter.OriginatingLab, r.Submitter.SubmittingLab, r.Submitter.Authors}
}

func enrichmentValues(r *model.Record) []interface{} {
	qc := r.Qc
	if qc == nil {
		qc = &model.QcResult{}
	}
	return []interface{}{
		r.SeqOriginal, r.SeqAligned, qc.Clade,
		qc.OverallScore, qc.OverallStatus, qc.TotalGaps, qc.TotalInsertions,
		qc.TotalMissing, qc.TotalMutations, qc.TotalNonACGTNs,
		qc.TotalPcrPrimerChanges, qc.AlignmentStart, qc.AlignmentEnd,
		qc.AlignmentScore, qc.MissingDataScore, qc.MissingDataStatus,
		qc.MissingDataTotal, qc.MixedSitesScore, qc.MixedSitesStatus,
		qc.MixedSitesTotal, qc.PrivateMutationsCutoff, qc.PrivateMutationsExcess,
		qc.PrivateMutationsScore, qc.PrivateMutationsStatus, qc.PrivateMutationsTotal,
		qc.SnpClustersClustered, qc.SnpClustersScore, qc.SnpClustersStatus,
		qc.SnpClustersTotal, qc.Errors,
	}
}

func insertValues(r *model.Record, date dateEncoder) []interface{} {
	values := []interface{}{r.Id}
	values = append(values, metadataValues(r, date)...)
	values = append(values, submitterValues(r)...)
	return append(values, enrichmentValues(r)...)
}

func metadataUpdateValues(r *model.Record, date dateEncoder) []interface{} {
	values := []interface{}{r.Id}
	values = append(values, metadataValues(r, date)...)
	return append(values, submitterValues(r)...)
}

// storedColumns are read back for change detection.
var storedColumns = append(append(append([]string{"id"}, metadataColumns...), submitterColumns...), "seq_original")

func postgresDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

const sqliteDateLayout = "2006-01-02"

func sqliteDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(sqliteDateLayout)
}
