package sequencedb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/vineyard-genomics/harvester/internal/common/database"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

func withPostgresStore(t *testing.T, action func(ctx context.Context, store *PostgresStore)) {
	if os.Getenv(database.TestPostgresEnvVar) == "" {
		t.Skipf("%s not set", database.TestPostgresEnvVar)
	}
	migrations, err := PostgresMigrations()
	require.NoError(t, err)
	err = database.WithTestDb(migrations, func(db *pgxpool.Pool) error {
		store := NewPostgresStore(db, metrics.NewNoopMetrics(), database.RetryPolicy{MaxRetries: 0})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		action(ctx, store)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStore_BatchLifecycle(t *testing.T) {
	withPostgresStore(t, func(ctx context.Context, store *PostgresStore) {
		require.NoError(t, store.ApplyBatch(ctx, NewWriteSet([]*model.Record{newRecord("EPI_1", "AAAA"), newRecord("EPI_2", "AAAA")})))

		update := &model.Record{
			Id:          "EPI_1",
			Metadata:    model.Metadata{Strain: pointer.String("renamed")},
			Disposition: model.Disposition{Mode: model.ImportModeUpdate, MetadataChanged: true},
		}
		replaced := newRecord("EPI_2", "CCCC")
		replaced.Disposition = model.Disposition{Mode: model.ImportModeUpdate, SequenceChanged: true}
		require.NoError(t, store.ApplyBatch(ctx, NewWriteSet([]*model.Record{update, replaced})))

		stored, err := store.FetchStored(ctx, []string{"EPI_1", "EPI_2"})
		require.NoError(t, err)
		assert.Equal(t, "renamed", *stored["EPI_1"].Strain)
		assert.Equal(t, "Lab A", *stored["EPI_1"].Submitter.OriginatingLab)
		assert.Equal(t, "CCCC", *stored["EPI_2"].SeqOriginal)

		deleted, err := store.DeleteRecords(ctx, []string{"EPI_1"})
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		require.NoError(t, store.RefreshMaterializedViews(ctx))

		ids, err := store.LoadExistingIds(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"EPI_2": true}, ids)
	})
}

func TestPostgresStore_FetchUnmutated(t *testing.T) {
	withPostgresStore(t, func(ctx context.Context, store *PostgresStore) {
		pending := newRecord("EPI_1", "AAAA")
		pending.NucleotideMutations = nil
		require.NoError(t, store.ApplyBatch(ctx, NewWriteSet([]*model.Record{pending, newRecord("EPI_2", "AAAA")})))

		page, err := store.FetchUnmutated(ctx, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []AlignedSequence{{Id: "EPI_1", SeqAligned: "AAAA"}}, page)

		require.NoError(t, store.InsertNucleotideMutations(ctx, map[string][]model.Mutation{"EPI_1": {{Position: 3, Base: 'T'}}}))
		page, err = store.FetchUnmutated(ctx, "", 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}
