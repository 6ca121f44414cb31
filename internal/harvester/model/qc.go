package model

// QcResult is the clade assignment and quality metrics produced by the clade/QC tool for one record.
// Numeric fields the tool left empty or wrote malformed are nil.
type QcResult struct {
	Clade                  *string
	OverallScore           *float64
	OverallStatus          *string
	TotalGaps              *int
	TotalInsertions        *int
	TotalMissing           *int
	TotalMutations         *int
	TotalNonACGTNs         *int
	TotalPcrPrimerChanges  *int
	AlignmentStart         *int
	AlignmentEnd           *int
	AlignmentScore         *int
	MissingDataScore       *float64
	MissingDataStatus      *string
	MissingDataTotal       *int
	MixedSitesScore        *float64
	MixedSitesStatus       *string
	MixedSitesTotal        *int
	PrivateMutationsCutoff *int
	PrivateMutationsExcess *int
	PrivateMutationsScore  *float64
	PrivateMutationsStatus *string
	PrivateMutationsTotal  *int
	SnpClustersClustered   *string
	SnpClustersScore       *float64
	SnpClustersStatus      *string
	SnpClustersTotal       *int
	Errors                 *string
	// Amino-acid substitutions followed by deletions, e.g. "S:D614G", "ORF1a:S3675-".
	AaMutations []string
}
