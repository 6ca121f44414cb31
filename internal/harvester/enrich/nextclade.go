package enrich

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const (
	nextcladeCsvName    = "nextclade.csv"
	nextcladeStdoutName = "nextclade.stdout"
)

// Nextclade assigns clades and computes quality metrics.
type Nextclade struct {
	config configuration.SubprocessConfig
}

func NewNextclade(config configuration.SubprocessConfig) *Nextclade {
	return &Nextclade{config: config}
}

func (n *Nextclade) AssignClades(ctx context.Context, workDir string, fastaPath string) (map[string]*model.QcResult, error) {
	jobs := n.config.Parallelism
	if jobs < 1 {
		jobs = 1
	}
	csvPath := filepath.Join(workDir, nextcladeCsvName)
	args := []string{"--jobs=" + strconv.Itoa(jobs), "--input-fasta", fastaPath, "--output-csv", csvPath}
	args = append(args, n.config.ExtraArgs...)

	stdoutPath := filepath.Join(workDir, nextcladeStdoutName)
	if err := runSubprocess(ctx, workDir, n.config.Timeout, stdoutPath, n.config.Executable, args...); err != nil {
		return nil, err
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return ParseNextcladeCsv(ctx, f)
}

// ParseNextcladeCsv reads the ';' separated results, keyed by sequence name. Columns are looked up by header name;
// empty values and numbers that do not parse are left absent. Malformed rows are skipped, so their records get no
// QC result.
func ParseNextcladeCsv(ctx context.Context, r io.Reader) (map[string]*model.QcResult, error) {
	log := runcontext.FromContext(ctx).Log
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return map[string]*model.QcResult{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot read nextclade header")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns["seqName"]; !ok {
		return nil, errors.New("nextclade output has no seqName column")
	}

	results := map[string]*model.QcResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			log.WithError(err).Warnf("Skipping malformed nextclade row at line %d", parseErr.StartLine)
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot read nextclade output")
		}
		get := func(name string) string {
			if i, ok := columns[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		id := get("seqName")
		if id == "" {
			continue
		}
		results[id] = &model.QcResult{
			Clade:                  optionalString(get("clade")),
			OverallScore:           optionalFloat(get("qc.overallScore")),
			OverallStatus:          optionalString(get("qc.overallStatus")),
			TotalGaps:              optionalInt(get("totalGaps")),
			TotalInsertions:        optionalInt(get("totalInsertions")),
			TotalMissing:           optionalInt(get("totalMissing")),
			TotalMutations:         optionalInt(get("totalMutations")),
			TotalNonACGTNs:         optionalInt(get("totalNonACGTNs")),
			TotalPcrPrimerChanges:  optionalInt(get("totalPcrPrimerChanges")),
			AlignmentStart:         optionalInt(get("alignmentStart")),
			AlignmentEnd:           optionalInt(get("alignmentEnd")),
			AlignmentScore:         optionalInt(get("alignmentScore")),
			MissingDataScore:       optionalFloat(get("qc.missingData.score")),
			MissingDataStatus:      optionalString(get("qc.missingData.status")),
			MissingDataTotal:       optionalInt(get("qc.missingData.totalMissing")),
			MixedSitesScore:        optionalFloat(get("qc.mixedSites.score")),
			MixedSitesStatus:       optionalString(get("qc.mixedSites.status")),
			MixedSitesTotal:        optionalInt(get("qc.mixedSites.totalMixedSites")),
			PrivateMutationsCutoff: optionalInt(get("qc.privateMutations.cutoff")),
			PrivateMutationsExcess: optionalInt(get("qc.privateMutations.excess")),
			PrivateMutationsScore:  optionalFloat(get("qc.privateMutations.score")),
			PrivateMutationsStatus: optionalString(get("qc.privateMutations.status")),
			PrivateMutationsTotal:  optionalInt(get("qc.privateMutations.total")),
			SnpClustersClustered:   optionalString(get("qc.snpClusters.clusteredSNPs")),
			SnpClustersScore:       optionalFloat(get("qc.snpClusters.score")),
			SnpClustersStatus:      optionalString(get("qc.snpClusters.status")),
			SnpClustersTotal:       optionalInt(get("qc.snpClusters.totalSNPs")),
			Errors:                 optionalString(get("errors")),
			AaMutations:            aaMutations(get("aaSubstitutions"), get("aaDeletions")),
		}
	}
	return results, nil
}

// aaMutations joins the comma separated substitution and deletion lists, dropping blanks.
func aaMutations(lists ...string) []string {
	var result []string
	for _, list := range lists {
		for _, m := range strings.Split(list, ",") {
			if m = strings.TrimSpace(m); m != "" {
				result = append(result, m)
			}
		}
	}
	return result
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(s string) *int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func optionalFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
