package sequencedb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/database"
	"github.com/vineyard-genomics/harvester/internal/common/harvestererrors"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

type PostgresStore struct {
	db          *pgxpool.Pool
	metrics     *metrics.Metrics
	retryPolicy database.RetryPolicy
}

func NewPostgresStore(db *pgxpool.Pool, m *metrics.Metrics, retryPolicy database.RetryPolicy) *PostgresStore {
	return &PostgresStore{db: db, metrics: m, retryPolicy: retryPolicy}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return errors.WithStack(s.db.Ping(ctx))
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) LoadExistingIds(ctx context.Context) (map[string]bool, error) {
	return database.WithRetry(ctx, s.retryPolicy, func() (map[string]bool, error) {
		rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT id FROM %s", sequenceTable))
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, errors.WithStack(err)
		}
		defer rows.Close()
		ids := map[string]bool{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, errors.WithStack(err)
			}
			ids[id] = true
		}
		return ids, errors.WithStack(rows.Err())
	})
}

func (s *PostgresStore) LoadReference(ctx context.Context) (string, error) {
	return database.WithRetry(ctx, s.retryPolicy, func() (string, error) {
		var seq string
		err := s.db.QueryRow(ctx, "SELECT seq FROM reference_sequence ORDER BY name LIMIT 1").Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &harvestererrors.ErrNotFound{Type: "reference_sequence", Value: "*"}
		}
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
		}
		return seq, errors.WithStack(err)
	})
}

func (s *PostgresStore) LoadMaskedSites(ctx context.Context) ([]int, error) {
	return database.WithRetry(ctx, s.retryPolicy, func() ([]int, error) {
		rows, err := s.db.Query(ctx, "SELECT position FROM problematic_site WHERE filter = 'mask' ORDER BY position")
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, errors.WithStack(err)
		}
		defer rows.Close()
		var sites []int
		for rows.Next() {
			var position int
			if err := rows.Scan(&position); err != nil {
				return nil, errors.WithStack(err)
			}
			sites = append(sites, position)
		}
		return sites, errors.WithStack(rows.Err())
	})
}

func (s *PostgresStore) LoadCountryMapping(ctx context.Context) (map[string]string, error) {
	return database.WithRetry(ctx, s.retryPolicy, func() (map[string]string, error) {
		rows, err := s.db.Query(ctx, "SELECT source_country, iso_country FROM country_mapping")
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, errors.WithStack(err)
		}
		defer rows.Close()
		mapping := map[string]string{}
		for rows.Next() {
			var source, iso string
			if err := rows.Scan(&source, &iso); err != nil {
				return nil, errors.WithStack(err)
			}
			mapping[source] = iso
		}
		return mapping, errors.WithStack(rows.Err())
	})
}

func (s *PostgresStore) FetchStored(ctx context.Context, ids []string) (map[string]*model.StoredRecord, error) {
	result := make(map[string]*model.StoredRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	return database.WithRetry(ctx, s.retryPolicy, func() (map[string]*model.StoredRecord, error) {
		sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = any($1)", strings.Join(storedColumns, ", "), sequenceTable)
		rows, err := s.db.Query(ctx, sql, ids)
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, errors.WithStack(err)
		}
		defer rows.Close()
		for rows.Next() {
			r := &model.StoredRecord{}
			err := rows.Scan(
				&r.Id, &r.Strain, &r.Virus, &r.Date, &r.DateOriginal, &r.Country, &r.RegionOriginal,
				&r.CountryOriginal, &r.Division, &r.Location, &r.Host, &r.Age, &r.Sex, &r.PangolinLineage,
				&r.GisaidClade, &r.DateSubmitted, &r.SamplingStrategy,
				&r.Submitter.OriginatingLab, &r.Submitter.SubmittingLab, &r.Submitter.Authors,
				&r.SeqOriginal,
			)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			result[r.Id] = r
		}
		return result, errors.WithStack(rows.Err())
	})
}

// ApplyBatch writes the batch in one transaction: metadata updates through a staging table, deletions of records
// whose sequence changed, then copies of the new rows and their mutations.
func (s *PostgresStore) ApplyBatch(ctx context.Context, ws *WriteSet) error {
	if ws.IsEmpty() {
		return nil
	}
	return s.db.BeginTxFunc(ctx, pgx.TxOptions{
		IsoLevel:       pgx.ReadCommitted,
		AccessMode:     pgx.ReadWrite,
		DeferrableMode: pgx.Deferrable,
	}, func(tx pgx.Tx) error {
		if err := s.updateMetadata(ctx, tx, ws.MetadataUpdates); err != nil {
			return err
		}
		if len(ws.Deletes) > 0 {
			_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = any($1)", sequenceTable), ws.Deletes)
			if err != nil {
				s.metrics.RecordDBError(metrics.DBOperationDelete)
				return errors.WithStack(err)
			}
		}
		return s.insertRecords(ctx, tx, ws.Inserts)
	})
}

func (s *PostgresStore) updateMetadata(ctx context.Context, tx pgx.Tx, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tmpTable := database.UniqueTableName(sequenceTable)
	cols := metadataUpdateColumns()

	_, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		tmpTable, strings.Join(cols, ", "), sequenceTable))
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationCreateTempTable)
		return errors.WithStack(err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{tmpTable},
		cols,
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			return metadataUpdateValues(records[i], postgresDate), nil
		}),
	)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationUpdate)
		return errors.WithStack(err)
	}

	assignments := []string{"updated_at = now()"}
	for _, c := range metadataColumns {
		assignments = append(assignments, fmt.Sprintf("%s = tmp.%s", c, c))
	}
	for _, c := range submitterColumns {
		assignments = append(assignments, fmt.Sprintf("%s = coalesce(tmp.%s, s.%s)", c, c, c))
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		"UPDATE %s s SET %s FROM %s AS tmp WHERE s.id = tmp.id",
		sequenceTable, strings.Join(assignments, ", "), tmpTable))
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationUpdate)
		return errors.WithStack(err)
	}
	return nil
}

func (s *PostgresStore) insertRecords(ctx context.Context, tx pgx.Tx, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{sequenceTable},
		insertColumns(),
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			return insertValues(records[i], postgresDate), nil
		}),
	)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationInsert)
		return errors.WithStack(err)
	}

	aaRows := aaMutationRows(records)
	if len(aaRows) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{aaMutationTable}, []string{"sequence_id", "aa_mutation"}, pgx.CopyFromRows(aaRows))
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationInsert)
			return errors.WithStack(err)
		}
	}

	nucRows := nucleotideMutationRows(recordMutations(records))
	if len(nucRows) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{nucMutationTable}, []string{"sequence_id", "position", "mutation"}, pgx.CopyFromRows(nucRows))
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationInsert)
			return errors.WithStack(err)
		}
	}
	return nil
}

func (s *PostgresStore) LinkOwnSequences(ctx context.Context, links []OwnSequenceLink) error {
	if len(links) == 0 {
		return nil
	}
	labIds := make([]int32, len(links))
	sequenceIds := make([]string, len(links))
	for i, l := range links {
		labIds[i] = int32(l.LabId)
		sequenceIds[i] = l.SequenceId
	}
	_, err := s.db.Exec(ctx, `
		UPDATE sequence_identifier si
		SET sequence_id = l.sequence_id
		FROM unnest($1::integer[], $2::text[]) AS l(lab_id, sequence_id)
		WHERE si.lab_id = l.lab_id AND si.sequence_id IS NULL`,
		labIds, sequenceIds)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationUpdate)
	}
	return errors.WithStack(err)
}

func (s *PostgresStore) DeleteRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return database.WithRetry(ctx, s.retryPolicy, func() (int, error) {
		tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = any($1)", sequenceTable), ids)
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationDelete)
			return 0, errors.WithStack(err)
		}
		return int(tag.RowsAffected()), nil
	})
}

func (s *PostgresStore) RefreshMaterializedViews(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT refresh_all_mv()")
	return errors.WithStack(err)
}

func (s *PostgresStore) FetchUnmutated(ctx context.Context, afterId string, limit int) ([]AlignedSequence, error) {
	return database.WithRetry(ctx, s.retryPolicy, func() ([]AlignedSequence, error) {
		rows, err := s.db.Query(ctx, fmt.Sprintf(`
			SELECT s.id, s.seq_aligned
			FROM %s s
			WHERE s.id > $1
			  AND s.seq_aligned IS NOT NULL
			  AND s.pangolin_lineage <> 'None'
			  AND NOT EXISTS (SELECT 1 FROM %s m WHERE m.sequence_id = s.id)
			ORDER BY s.id
			LIMIT $2`, sequenceTable, nucMutationTable), afterId, limit)
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationRead)
			return nil, errors.WithStack(err)
		}
		defer rows.Close()
		var result []AlignedSequence
		for rows.Next() {
			var a AlignedSequence
			if err := rows.Scan(&a.Id, &a.SeqAligned); err != nil {
				return nil, errors.WithStack(err)
			}
			result = append(result, a)
		}
		return result, errors.WithStack(rows.Err())
	})
}

func (s *PostgresStore) InsertNucleotideMutations(ctx context.Context, mutations map[string][]model.Mutation) error {
	rows := nucleotideMutationRows(mutations)
	if len(rows) == 0 {
		return nil
	}
	return s.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{nucMutationTable}, []string{"sequence_id", "position", "mutation"}, pgx.CopyFromRows(rows))
		if err != nil {
			s.metrics.RecordDBError(metrics.DBOperationInsert)
		}
		return errors.WithStack(err)
	})
}
