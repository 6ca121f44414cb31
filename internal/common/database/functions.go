package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/vineyard-genomics/harvester/internal/common/util"
)

type PostgresConfig struct {
	MaxOpenConns int32
	Connection   map[string]string
}

type SqliteConfig struct {
	// Path of the database file; ":memory:" keeps everything in process.
	Path string
}

func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}

func OpenPgxPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(CreateConnectionString(config.Connection))
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse postgres connection config")
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = config.MaxOpenConns
	}
	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = db.Ping(ctx)
	return db, errors.WithStack(err)
}

// OpenSqlite opens (creating the parent directory if needed) a sqlite database.
// SQLite only allows one writer at a time, so the pool is limited to a single connection.
func OpenSqlite(config SqliteConfig) (*sql.DB, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		dbDir := filepath.Dir(path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not make directory at %s for sqlite db", dbDir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite db at %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return db, nil
}

// UniqueTableName returns a table name that is unique across concurrent batches, for use as a staging table.
func UniqueTableName(table string) string {
	return fmt.Sprintf("%s_tmp_%s", table, util.NewULID())
}
