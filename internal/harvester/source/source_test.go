package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

const fullLine = `{"covv_accession_id":"EPI_ISL_402124","covv_virus_name":"hCoV-19/Switzerland/BE-ETHZ-1234/2021",` +
	`"covv_type":"betacoronavirus","covv_collection_date":"2021-03-04","covv_location":"Europe / Switzerland / Bern / Bern",` +
	`"covv_host":"Human","covv_patient_age":"42","covv_gender":"female","covv_lineage":"B.1.1.7","covv_clade":"GRY",` +
	`"covv_subm_date":"2021-03-20","covv_sampling_strategy":"Baseline surveillance","sequence":"ACGT",` +
	`"pangolin_lineages_version":"2021-03-01","gc_content":0.38}`

func TestParser_Parse(t *testing.T) {
	p := NewParser(map[string]string{"Switzerland": "Switzerland (CH)"})

	r, anomalies, err := p.Parse(fullLine)
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	assert.Equal(t, "EPI_ISL_402124", r.Id)
	assert.Equal(t, "hCoV-19/Switzerland/BE-ETHZ-1234/2021", *r.Strain)
	assert.Equal(t, "2021-03-04", r.Date.Format(dateLayout))
	assert.Equal(t, "2021-03-04", *r.DateOriginal)
	assert.Equal(t, "Europe", *r.RegionOriginal)
	assert.Equal(t, "Switzerland", *r.CountryOriginal)
	assert.Equal(t, "Switzerland (CH)", *r.Country)
	assert.Equal(t, "Bern", *r.Division)
	assert.Equal(t, "Bern", *r.Location)
	assert.Equal(t, 42, *r.Age)
	assert.Equal(t, "Female", *r.Sex)
	assert.Equal(t, "B.1.1.7", *r.PangolinLineage)
	assert.Equal(t, "2021-03-20", r.DateSubmitted.Format(dateLayout))
	assert.Equal(t, "ACGT", r.SeqOriginal)
	assert.Nil(t, r.Submitter)
}

func TestParser_Parse_Lenient(t *testing.T) {
	p := NewParser(nil)
	r, anomalies, err := p.Parse(`{"covv_accession_id":" EPI_1 ","covv_collection_date":"2021-03","covv_location":"Asia / ",` +
		`"covv_patient_age":"unknown","covv_gender":"unknown"}`)
	require.NoError(t, err)

	assert.Equal(t, "EPI_1", r.Id)
	assert.Nil(t, r.Date)
	assert.Equal(t, "2021-03", *r.DateOriginal)
	assert.Equal(t, "Asia", *r.RegionOriginal)
	assert.Nil(t, r.CountryOriginal)
	assert.Nil(t, r.Country)
	assert.Nil(t, r.Age)
	assert.Nil(t, r.Sex)
	assert.Equal(t, "", r.SeqOriginal)
	assert.Equal(t, []model.WeirdEntryReport{
		{Id: "EPI_1", Stage: "source.parseDate", Message: `unparseable date "2021-03"`},
	}, anomalies)
}

func TestParser_Parse_NumericAge(t *testing.T) {
	r, _, err := NewParser(nil).Parse(`{"covv_accession_id":"EPI_1","covv_patient_age":7}`)
	require.NoError(t, err)
	assert.Equal(t, 7, *r.Age)
}

func TestParser_Parse_Errors(t *testing.T) {
	_, _, err := NewParser(nil).Parse(`{"covv_virus_name":"x"}`)
	assert.ErrorIs(t, err, ErrMissingId)

	_, _, err = NewParser(nil).Parse(`{"covv_accession_id":`)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	complete := completeLine(nil, nil)
	tests := map[string]struct {
		lines    []string
		expected *model.UnexpectedDataReport
	}{
		"all expected fields": {
			lines:    []string{complete, complete},
			expected: nil,
		},
		"missing optional field": {
			lines: []string{complete, completeLine([]string{"is_complete"}, nil)},
			expected: &model.UnexpectedDataReport{
				Priority:      model.PriorityWarning,
				MissingFields: []string{"is_complete"},
			},
		},
		"additional field": {
			lines: []string{completeLine(nil, []string{"covv_new"})},
			expected: &model.UnexpectedDataReport{
				Priority:       model.PriorityInfo,
				UnexpectedKeys: []string{"covv_new"},
			},
		},
		"missing required field": {
			lines: []string{completeLine([]string{"sequence", "n_content"}, nil)},
			expected: &model.UnexpectedDataReport{
				Priority:              model.PriorityFatal,
				MissingFields:         []string{"n_content", "sequence"},
				MissingRequiredFields: []string{"sequence"},
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			report, err := Validate(tc.lines)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, report)
		})
	}
}

func TestValidate_NotJson(t *testing.T) {
	_, err := Validate([]string{"not json"})
	assert.Error(t, err)
}

func TestLineReader(t *testing.T) {
	r := NewLineReader(strings.NewReader("a\n\nb\nc\n  \nd\n"))

	peeked, err := r.Peek(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, peeked)

	var lines []string
	for {
		line, ok := r.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"a", "b", "c", "d"}, lines)
}

func TestLineReader_PeekBeyondEnd(t *testing.T) {
	r := NewLineReader(strings.NewReader("a\n"))
	peeked, err := r.Peek(SampleLines)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, peeked)
	line, ok := r.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", line)
	_, ok = r.Next()
	assert.False(t, ok)
}

func completeLine(without []string, extra []string) string {
	skip := toSet(without)
	var fields []string
	for _, f := range append(append([]string{}, RequiredFields...), OptionalFields...) {
		if !skip[f] {
			fields = append(fields, `"`+f+`":"x"`)
		}
	}
	for _, f := range extra {
		fields = append(fields, `"`+f+`":"x"`)
	}
	return "{" + strings.Join(fields, ",") + "}"
}
