package source

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// SampleLines is the number of leading lines inspected by Validate.
const SampleLines = 10

// RequiredFields must be present on every entry; a run does not start without them.
var RequiredFields = []string{
	"covv_virus_name",
	"covv_patient_age",
	"covv_gender",
	"covv_location",
	"covv_lineage",
	"covv_type",
	"covv_collection_date",
	"covv_accession_id",
	"sequence",
	"pangolin_lineages_version",
	"covv_clade",
	"covv_sampling_strategy",
	"covv_host",
	"covv_subm_date",
	"gc_content",
}

// OptionalFields are known to appear in the source but are not read.
var OptionalFields = []string{
	"covsurver_prot_mutations",
	"is_high_coverage",
	"sequence_length",
	"is_reference",
	"n_content",
	"covsurver_uniquemutlist",
	"is_complete",
	"covv_variant",
	"covv_add_host_info",
}

// Validate compares the keys found in lines with the required and expected field sets.
// It returns nil when every line carries exactly the expected fields.
func Validate(lines []string) (*model.UnexpectedDataReport, error) {
	required := toSet(RequiredFields)
	expected := toSet(RequiredFields)
	for _, f := range OptionalFields {
		expected[f] = true
	}

	missing := map[string]bool{}
	missingRequired := map[string]bool{}
	unexpected := map[string]bool{}
	for i, line := range lines {
		var entry map[string]jsoniter.RawMessage
		if err := jsoniter.ConfigFastest.UnmarshalFromString(line, &entry); err != nil {
			return nil, errors.Wrapf(err, "sample line %d is not a json object", i+1)
		}
		for f := range expected {
			if _, ok := entry[f]; !ok {
				missing[f] = true
				if required[f] {
					missingRequired[f] = true
				}
			}
		}
		for f := range entry {
			if !expected[f] {
				unexpected[f] = true
			}
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil, nil
	}
	report := &model.UnexpectedDataReport{
		Priority:              model.PriorityInfo,
		MissingFields:         sortedKeys(missing),
		MissingRequiredFields: sortedKeys(missingRequired),
		UnexpectedKeys:        sortedKeys(unexpected),
	}
	switch {
	case len(missingRequired) > 0:
		report.Priority = model.PriorityFatal
	case len(missing) > 0:
		report.Priority = model.PriorityWarning
	}
	return report, nil
}

func toSet(s []string) map[string]bool {
	set := make(map[string]bool, len(s))
	for _, v := range s {
		set[v] = true
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
