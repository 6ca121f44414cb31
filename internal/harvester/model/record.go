package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/vineyard-genomics/harvester/internal/common/harvestererrors"
	"github.com/vineyard-genomics/harvester/internal/common/util"
)

type ImportMode string

const (
	ImportModeAppend ImportMode = "append"
	ImportModeUpdate ImportMode = "update"
)

func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(s))) {
	case ImportModeAppend:
		return ImportModeAppend, nil
	case ImportModeUpdate:
		return ImportModeUpdate, nil
	default:
		return "", &harvestererrors.ErrInvalidArgument{
			Name:    "mode",
			Value:   s,
			Message: "must be append or update",
		}
	}
}

func (m ImportMode) String() string {
	return string(m)
}

// Disposition records how a record relates to the stored state.
// The change flags are only meaningful for ImportModeUpdate.
type Disposition struct {
	Mode            ImportMode
	MetadataChanged bool
	SequenceChanged bool
}

// IsNoOp is true for an update that changes nothing; such records are dropped before enrichment.
func (d Disposition) IsNoOp() bool {
	return d.Mode == ImportModeUpdate && !d.MetadataChanged && !d.SequenceChanged
}

// NeedsEnrichment is true for new records and for updates whose raw sequence changed.
func (d Disposition) NeedsEnrichment() bool {
	return d.Mode == ImportModeAppend || (d.Mode == ImportModeUpdate && d.SequenceChanged)
}

// Metadata holds the scalar, nullable descriptive fields of a record. All of them take part in change detection.
type Metadata struct {
	Strain           *string
	Virus            *string
	Date             *time.Time
	DateOriginal     *string
	Country          *string
	RegionOriginal   *string
	CountryOriginal  *string
	Division         *string
	Location         *string
	Host             *string
	Age              *int
	Sex              *string
	PangolinLineage  *string
	GisaidClade      *string
	DateSubmitted    *time.Time
	SamplingStrategy *string
}

// Equal compares every field null-safely; dates are compared by calendar day.
func (m Metadata) Equal(o Metadata) bool {
	return equalPtr(m.Strain, o.Strain) &&
		equalPtr(m.Virus, o.Virus) &&
		equalDate(m.Date, o.Date) &&
		equalPtr(m.DateOriginal, o.DateOriginal) &&
		equalPtr(m.Country, o.Country) &&
		equalPtr(m.RegionOriginal, o.RegionOriginal) &&
		equalPtr(m.CountryOriginal, o.CountryOriginal) &&
		equalPtr(m.Division, o.Division) &&
		equalPtr(m.Location, o.Location) &&
		equalPtr(m.Host, o.Host) &&
		equalPtr(m.Age, o.Age) &&
		equalPtr(m.Sex, o.Sex) &&
		equalPtr(m.PangolinLineage, o.PangolinLineage) &&
		equalPtr(m.GisaidClade, o.GisaidClade) &&
		equalDate(m.DateSubmitted, o.DateSubmitted) &&
		equalPtr(m.SamplingStrategy, o.SamplingStrategy)
}

type SubmitterInformation struct {
	OriginatingLab *string
	SubmittingLab  *string
	Authors        *string
}

func (s SubmitterInformation) Equal(o SubmitterInformation) bool {
	return equalPtr(s.OriginatingLab, o.OriginatingLab) &&
		equalPtr(s.SubmittingLab, o.SubmittingLab) &&
		equalPtr(s.Authors, o.Authors)
}

// Record is one surveillance entry. Everything except Id is mutated as the record moves through a batch.
type Record struct {
	Id string
	Metadata
	// Nil until looked up; a nil value never counts as a change.
	Submitter   *SubmitterInformation
	SeqOriginal string
	SeqAligned  *string
	Qc          *QcResult
	// Nil until mutation calling has run for the record.
	NucleotideMutations []Mutation
	Disposition         Disposition
}

// HasResolvedLineage is true when the upstream lineage is set and is not the "None" placeholder.
func (r *Record) HasResolvedLineage() bool {
	return r.PangolinLineage != nil && *r.PangolinLineage != "None"
}

// StoredRecord is the persisted state a record is compared against.
type StoredRecord struct {
	Id string
	Metadata
	Submitter   SubmitterInformation
	SeqOriginal *string
}

// Mutation is a difference between an aligned sequence and the reference at a 1-indexed position.
// Base is the observed symbol; '-' marks a deletion.
type Mutation struct {
	Position int
	Base     byte
}

// Symbol is the value stored in the mutation column.
func (m Mutation) Symbol() string {
	return string(m.Base)
}

func (m Mutation) String() string {
	return strconv.Itoa(m.Position) + string(m.Base)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Batch is the unit of work handed to a worker. Once dequeued it is owned by exactly one worker.
type Batch struct {
	Id      string
	Records []*Record
}

func NewBatch(records []*Record) *Batch {
	return &Batch{Id: util.NewULID(), Records: records}
}
