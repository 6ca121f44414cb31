package sequencedb

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/harvestererrors"
	"github.com/vineyard-genomics/harvester/internal/common/slices"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

// sqliteMaxVariables is the bound-parameter limit of a single SQLite statement.
const sqliteMaxVariables = 32766

// SqliteStore is a single-file store for local runs and tests. It has no materialized views.
type SqliteStore struct {
	conn    *sql.DB
	db      *goqu.Database
	metrics *metrics.Metrics
}

func NewSqliteStore(db *sql.DB, m *metrics.Metrics) *SqliteStore {
	return &SqliteStore{conn: db, db: goqu.New("sqlite3", db), metrics: m}
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return errors.WithStack(s.conn.PingContext(ctx))
}

func (s *SqliteStore) Close() {
	_ = s.conn.Close()
}

func (s *SqliteStore) LoadExistingIds(ctx context.Context) (map[string]bool, error) {
	var ids []string
	err := s.db.From(sequenceTable).Select("id").Prepared(true).ScanValsContext(ctx, &ids)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

func (s *SqliteStore) LoadReference(ctx context.Context) (string, error) {
	var seq string
	found, err := s.db.From("reference_sequence").
		Select("seq").
		Order(goqu.C("name").Asc()).
		Limit(1).
		Prepared(true).
		ScanValContext(ctx, &seq)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationRead)
		return "", errors.WithStack(err)
	}
	if !found {
		return "", &harvestererrors.ErrNotFound{Type: "reference_sequence", Value: "*"}
	}
	return seq, nil
}

func (s *SqliteStore) LoadMaskedSites(ctx context.Context) ([]int, error) {
	var sites []int
	err := s.db.From("problematic_site").
		Select("position").
		Where(goqu.C("filter").Eq("mask")).
		Order(goqu.C("position").Asc()).
		Prepared(true).
		ScanValsContext(ctx, &sites)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationRead)
	}
	return sites, errors.WithStack(err)
}

type countryMappingRow struct {
	SourceCountry string `db:"source_country"`
	IsoCountry    string `db:"iso_country"`
}

func (s *SqliteStore) LoadCountryMapping(ctx context.Context) (map[string]string, error) {
	var rows []countryMappingRow
	err := s.db.From("country_mapping").Prepared(true).ScanStructsContext(ctx, &rows)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	mapping := make(map[string]string, len(rows))
	for _, r := range rows {
		mapping[r.SourceCountry] = r.IsoCountry
	}
	return mapping, nil
}

func (s *SqliteStore) FetchStored(ctx context.Context, ids []string) (map[string]*model.StoredRecord, error) {
	result := make(map[string]*model.StoredRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	for _, chunk := range slices.PartitionToMaxLen(ids, sqliteMaxVariables) {
		query, args, err := s.db.From(sequenceTable).
			Select(toInterfaces(storedColumns)...).
			Where(goqu.C("id").In(chunk)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := s.scanStored(ctx, query, args, result); err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, err
		}
	}
	return result, nil
}

func (s *SqliteStore) scanStored(ctx context.Context, query string, args []interface{}, result map[string]*model.StoredRecord) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		r := &model.StoredRecord{}
		var date, dateSubmitted *string
		err := rows.Scan(
			&r.Id, &r.Strain, &r.Virus, &date, &r.DateOriginal, &r.Country, &r.RegionOriginal,
			&r.CountryOriginal, &r.Division, &r.Location, &r.Host, &r.Age, &r.Sex, &r.PangolinLineage,
			&r.GisaidClade, &dateSubmitted, &r.SamplingStrategy,
			&r.Submitter.OriginatingLab, &r.Submitter.SubmittingLab, &r.Submitter.Authors,
			&r.SeqOriginal,
		)
		if err != nil {
			return errors.WithStack(err)
		}
		if r.Date, err = parseSqliteDate(date); err != nil {
			return err
		}
		if r.DateSubmitted, err = parseSqliteDate(dateSubmitted); err != nil {
			return err
		}
		result[r.Id] = r
	}
	return errors.WithStack(rows.Err())
}

func (s *SqliteStore) ApplyBatch(ctx context.Context, ws *WriteSet) error {
	if ws.IsEmpty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	return tx.Wrap(func() error {
		for _, r := range ws.MetadataUpdates {
			if err := s.updateMetadata(ctx, tx, r); err != nil {
				s.metrics.RecordDBError(metrics.DBOperationUpdate)
				return err
			}
		}
		if _, err := deleteSequences(ctx, tx, ws.Deletes); err != nil {
			s.metrics.RecordDBError(metrics.DBOperationDelete)
			return err
		}
		if err := s.insertRecords(ctx, tx, ws.Inserts); err != nil {
			s.metrics.RecordDBError(metrics.DBOperationInsert)
			return err
		}
		return nil
	})
}

func (s *SqliteStore) updateMetadata(ctx context.Context, tx *goqu.TxDatabase, r *model.Record) error {
	record := goqu.Record{"updated_at": goqu.L("CURRENT_TIMESTAMP")}
	for i, v := range metadataValues(r, sqliteDate) {
		record[metadataColumns[i]] = v
	}
	for i, v := range submitterValues(r) {
		record[submitterColumns[i]] = goqu.COALESCE(v, goqu.C(submitterColumns[i]))
	}
	_, err := tx.Update(sequenceTable).
		Set(record).
		Where(goqu.C("id").Eq(r.Id)).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	return errors.WithStack(err)
}

func (s *SqliteStore) insertRecords(ctx context.Context, tx *goqu.TxDatabase, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = insertValues(r, sqliteDate)
	}
	if err := insertRows(ctx, tx, sequenceTable, insertColumns(), rows); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, aaMutationTable, []string{"sequence_id", "aa_mutation"}, aaMutationRows(records)); err != nil {
		return err
	}
	return insertRows(ctx, tx, nucMutationTable, []string{"sequence_id", "position", "mutation"},
		nucleotideMutationRows(recordMutations(records)))
}

func (s *SqliteStore) LinkOwnSequences(ctx context.Context, links []OwnSequenceLink) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	return tx.Wrap(func() error {
		for _, l := range links {
			_, err := tx.Update("sequence_identifier").
				Set(goqu.Record{"sequence_id": l.SequenceId}).
				Where(goqu.C("lab_id").Eq(l.LabId), goqu.C("sequence_id").IsNull()).
				Prepared(true).
				Executor().
				ExecContext(ctx)
			if err != nil {
				s.metrics.RecordDBError(metrics.DBOperationUpdate)
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (s *SqliteStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	deleted := 0
	err = tx.Wrap(func() error {
		deleted, err = deleteSequences(ctx, tx, ids)
		return err
	})
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationDelete)
		return 0, err
	}
	return deleted, nil
}

func (s *SqliteStore) RefreshMaterializedViews(_ context.Context) error {
	return nil
}

type alignedSequenceRow struct {
	Id         string `db:"id"`
	SeqAligned string `db:"seq_aligned"`
}

func (s *SqliteStore) FetchUnmutated(ctx context.Context, afterId string, limit int) ([]AlignedSequence, error) {
	var rows []alignedSequenceRow
	err := s.db.From(goqu.T(sequenceTable).As("s")).
		Select(goqu.I("s.id").As("id"), goqu.I("s.seq_aligned").As("seq_aligned")).
		Where(
			goqu.I("s.id").Gt(afterId),
			goqu.I("s.seq_aligned").IsNotNull(),
			goqu.I("s.pangolin_lineage").Neq("None"),
			goqu.L("NOT EXISTS (SELECT 1 FROM "+nucMutationTable+" m WHERE m.sequence_id = s.id)"),
		).
		Order(goqu.I("s.id").Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationRead)
		return nil, errors.WithStack(err)
	}
	result := make([]AlignedSequence, len(rows))
	for i, r := range rows {
		result[i] = AlignedSequence(r)
	}
	return result, nil
}

func (s *SqliteStore) InsertNucleotideMutations(ctx context.Context, mutations map[string][]model.Mutation) error {
	rows := nucleotideMutationRows(mutations)
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	err = tx.Wrap(func() error {
		return insertRows(ctx, tx, nucMutationTable, []string{"sequence_id", "position", "mutation"}, rows)
	})
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationInsert)
	}
	return err
}

// deleteSequences removes records and their mutation rows without relying on foreign key enforcement.
func deleteSequences(ctx context.Context, tx *goqu.TxDatabase, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted := 0
	for _, chunk := range slices.PartitionToMaxLen(ids, sqliteMaxVariables) {
		for _, table := range []string{aaMutationTable, nucMutationTable} {
			_, err := tx.Delete(table).Where(goqu.C("sequence_id").In(chunk)).Prepared(true).Executor().ExecContext(ctx)
			if err != nil {
				return 0, errors.WithStack(err)
			}
		}
		res, err := tx.Delete(sequenceTable).Where(goqu.C("id").In(chunk)).Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// insertRows inserts rows in as few statements as the bound-parameter limit allows.
func insertRows(ctx context.Context, tx *goqu.TxDatabase, table string, cols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	for _, chunk := range slices.PartitionToMaxLen(rows, sqliteMaxVariables/len(cols)) {
		_, err := tx.Insert(table).
			Cols(toInterfaces(cols)...).
			Vals(chunk...).
			Prepared(true).
			Executor().
			ExecContext(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func parseSqliteDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(sqliteDateLayout, *s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored date %q", *s)
	}
	return &t, nil
}

func toInterfaces(s []string) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		result[i] = v
	}
	return result
}
