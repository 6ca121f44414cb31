// Package sequencedb persists surveillance records and their derived mutations.
package sequencedb

import (
	"context"
	"embed"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/database"
	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is the relational store used by a run. All bulk operations take the whole id set at once.
type Store interface {
	Ping(ctx context.Context) error
	// LoadExistingIds returns the ids of every stored record.
	LoadExistingIds(ctx context.Context) (map[string]bool, error)
	LoadReference(ctx context.Context) (string, error)
	// LoadMaskedSites returns the 1-indexed positions excluded from mutation calling.
	LoadMaskedSites(ctx context.Context) ([]int, error)
	// LoadCountryMapping maps upstream country names to ISO country names.
	LoadCountryMapping(ctx context.Context) (map[string]string, error)
	// FetchStored returns the stored state of the given ids; ids that are not stored are absent from the result.
	FetchStored(ctx context.Context, ids []string) (map[string]*model.StoredRecord, error)
	// ApplyBatch applies all statements of ws, including mutation rows, in one transaction.
	ApplyBatch(ctx context.Context, ws *WriteSet) error
	// LinkOwnSequences records the external id of sequences produced by our own lab, where not yet recorded.
	LinkOwnSequences(ctx context.Context, links []OwnSequenceLink) error
	// DeleteRecords deletes the given ids together with their mutations and returns the number of deleted records.
	DeleteRecords(ctx context.Context, ids []string) (int, error)
	RefreshMaterializedViews(ctx context.Context) error
	// FetchUnmutated pages, in id order, through aligned records with a resolved lineage but no nucleotide mutations.
	FetchUnmutated(ctx context.Context, afterId string, limit int) ([]AlignedSequence, error)
	InsertNucleotideMutations(ctx context.Context, mutations map[string][]model.Mutation) error
	Close()
}

type OwnSequenceLink struct {
	LabId      int
	SequenceId string
}

type AlignedSequence struct {
	Id         string
	SeqAligned string
}

// WriteSet partitions the records of a batch into the three disjoint statement groups of a batch write.
type WriteSet struct {
	// Update without sequence change: only the metadata columns are rewritten.
	MetadataUpdates []*model.Record
	// Update with sequence change: the stored row and its mutations are deleted and the record re-inserted.
	Deletes []string
	// New records and re-inserted updates.
	Inserts []*model.Record
}

// NewWriteSet partitions records by disposition. No-op updates produce no statement at all.
func NewWriteSet(records []*model.Record) *WriteSet {
	ws := &WriteSet{}
	for _, r := range records {
		d := r.Disposition
		switch {
		case d.IsNoOp():
			continue
		case d.Mode == model.ImportModeAppend:
			ws.Inserts = append(ws.Inserts, r)
		case d.Mode == model.ImportModeUpdate && !d.SequenceChanged:
			ws.MetadataUpdates = append(ws.MetadataUpdates, r)
		case d.Mode == model.ImportModeUpdate:
			ws.Deletes = append(ws.Deletes, r.Id)
			ws.Inserts = append(ws.Inserts, r)
		}
	}
	return ws
}

func (ws *WriteSet) IsEmpty() bool {
	return len(ws.MetadataUpdates) == 0 && len(ws.Deletes) == 0 && len(ws.Inserts) == 0
}

func PostgresMigrations() ([]database.Migration, error) {
	return database.ReadMigrations(migrationsFS, "migrations/postgres")
}

func SqliteMigrations() ([]database.Migration, error) {
	return database.ReadMigrations(migrationsFS, "migrations/sqlite")
}

// Open connects to the configured database type. When migrate is set the schema is brought up to date first.
func Open(ctx context.Context, config configuration.DatabaseConfig, m *metrics.Metrics, migrate bool) (Store, error) {
	retryPolicy := database.DefaultRetryPolicy
	retryPolicy.MaxRetries = config.MaxRetries
	switch config.Type {
	case "postgres":
		pool, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return nil, errors.WithMessage(err, "cannot connect to postgres")
		}
		if migrate {
			migrations, err := PostgresMigrations()
			if err != nil {
				pool.Close()
				return nil, err
			}
			if err := database.UpdateDatabase(ctx, pool, migrations); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresStore(pool, m, retryPolicy), nil
	case "sqlite":
		db, err := database.OpenSqlite(config.Sqlite)
		if err != nil {
			return nil, err
		}
		if migrate {
			migrations, err := SqliteMigrations()
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			if err := database.UpdateSqliteDatabase(ctx, db, migrations); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return NewSqliteStore(db, m), nil
	default:
		return nil, errors.Errorf("unknown database type %q", config.Type)
	}
}
