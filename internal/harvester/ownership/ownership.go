// Package ownership recognizes records that were sequenced by our own lab from the marker in their strain name.
package ownership

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// Parser extracts the lab-internal id from strains such as hCoV-19/Switzerland/BE-ETHZ-1234/2021.
type Parser struct {
	infix   string
	pattern *regexp.Regexp
}

func NewParser(marker string) *Parser {
	return &Parser{
		infix:   "-" + marker + "-",
		pattern: regexp.MustCompile(`.*` + regexp.QuoteMeta(marker) + `-([0-9]+)/.*`),
	}
}

// IsOwn reports whether strain carries the marker.
func (p *Parser) IsOwn(strain string) bool {
	return p.infix != "--" && strings.Contains(strain, p.infix)
}

// LabId returns the numeric id following the marker. Ids that do not fit the 32-bit lab_id column are errors.
func (p *Parser) LabId(strain string) (int, error) {
	match := p.pattern.FindStringSubmatch(strain)
	if match == nil {
		return 0, errors.Errorf("no lab id in strain %q", strain)
	}
	id, err := strconv.ParseInt(match[1], 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid lab id in strain %q", strain)
	}
	return int(id), nil
}

// Result of classifying the written records of a batch.
type Result struct {
	Links     []Link
	Anomalies []model.WeirdEntryReport
}

type Link struct {
	LabId      int
	SequenceId string
}

// Classify inspects the strains of records. Records that carry the marker but whose lab id cannot be parsed are
// reported as anomalies.
func (p *Parser) Classify(records []*model.Record) Result {
	var result Result
	for _, r := range records {
		if r.Strain == nil || !p.IsOwn(*r.Strain) {
			continue
		}
		labId, err := p.LabId(*r.Strain)
		if err != nil {
			result.Anomalies = append(result.Anomalies, model.WeirdEntryReport{
				Id:      r.Id,
				Stage:   "ownership.parseLabId",
				Message: fmt.Sprintf("cannot parse lab id: %v", err),
			})
			continue
		}
		result.Links = append(result.Links, Link{LabId: labId, SequenceId: r.Id})
	}
	return result
}
