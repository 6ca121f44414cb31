// Package source reads the line-delimited JSON data package published upstream.
package source

import (
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// ErrMissingId is returned for entries without an accession id. Such entries cannot be tracked and are skipped.
var ErrMissingId = errors.New("entry has no accession id")

const dateLayout = "2006-01-02"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type entry struct {
	AccessionId      *string     `json:"covv_accession_id"`
	VirusName        *string     `json:"covv_virus_name"`
	Type             *string     `json:"covv_type"`
	CollectionDate   *string     `json:"covv_collection_date"`
	Location         *string     `json:"covv_location"`
	Host             *string     `json:"covv_host"`
	PatientAge       interface{} `json:"covv_patient_age"`
	Gender           *string     `json:"covv_gender"`
	Lineage          *string     `json:"covv_lineage"`
	Clade            *string     `json:"covv_clade"`
	SubmissionDate   *string     `json:"covv_subm_date"`
	SamplingStrategy *string     `json:"covv_sampling_strategy"`
	Sequence         *string     `json:"sequence"`
}

// Parser turns source lines into records. It is safe for concurrent use.
type Parser struct {
	countryMapping map[string]string
}

// NewParser creates a parser that normalizes country names through countryMapping.
func NewParser(countryMapping map[string]string) *Parser {
	if countryMapping == nil {
		countryMapping = map[string]string{}
	}
	return &Parser{countryMapping: countryMapping}
}

// Parse decodes one line. Fields that cannot be interpreted are left absent and reported as anomalies; a line that
// is not a JSON object is an error.
func (p *Parser) Parse(line string) (*model.Record, []model.WeirdEntryReport, error) {
	var e entry
	if err := json.UnmarshalFromString(line, &e); err != nil {
		return nil, nil, errors.Wrap(err, "malformed source line")
	}
	id := trimmed(e.AccessionId)
	if id == nil {
		return nil, nil, ErrMissingId
	}

	var anomalies []model.WeirdEntryReport
	r := &model.Record{Id: *id}
	r.Strain = e.VirusName
	r.Virus = e.Type
	r.DateOriginal = e.CollectionDate
	r.Host = e.Host
	r.PangolinLineage = e.Lineage
	r.GisaidClade = e.Clade
	r.SamplingStrategy = e.SamplingStrategy
	r.Sex = parseSex(e.Gender)
	r.Age = parseAge(e.PatientAge)

	if date, err := parseDate(e.CollectionDate); err != nil {
		anomalies = append(anomalies, model.WeirdEntryReport{Id: r.Id, Stage: "source.parseDate", Message: err.Error()})
	} else {
		r.Date = date
	}
	if submitted, err := parseDate(e.SubmissionDate); err != nil {
		anomalies = append(anomalies, model.WeirdEntryReport{Id: r.Id, Stage: "source.parseDate", Message: err.Error()})
	} else {
		r.DateSubmitted = submitted
	}

	if e.Location != nil {
		p.applyLocation(r, *e.Location)
	}
	if e.Sequence != nil {
		r.SeqOriginal = *e.Sequence
	}
	return r, anomalies, nil
}

// applyLocation splits "Region / Country / Division / Location" and maps the country to its normalized name.
func (p *Parser) applyLocation(r *model.Record, location string) {
	parts := strings.Split(location, "/")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	fields := []**string{&r.RegionOriginal, &r.CountryOriginal, &r.Division, &r.Location}
	for i, f := range fields {
		if i < len(parts) && parts[i] != "" {
			v := parts[i]
			*f = &v
		}
	}
	if r.CountryOriginal != nil {
		if country, ok := p.countryMapping[*r.CountryOriginal]; ok {
			r.Country = &country
		}
	}
}

func parseDate(s *string) (*time.Time, error) {
	v := trimmed(s)
	if v == nil {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *v)
	if err != nil {
		return nil, errors.Errorf("unparseable date %q", *v)
	}
	return &t, nil
}

func parseSex(s *string) *string {
	if s == nil {
		return nil
	}
	var v string
	switch strings.ToLower(strings.TrimSpace(*s)) {
	case "male":
		v = "Male"
	case "female":
		v = "Female"
	default:
		return nil
	}
	return &v
}

// parseAge accepts a whole number given either as a JSON number or a string; anything else is absent.
func parseAge(v interface{}) *int {
	var age int
	switch a := v.(type) {
	case float64:
		if a != float64(int(a)) {
			return nil
		}
		age = int(a)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil
		}
		age = parsed
	default:
		return nil
	}
	return &age
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
