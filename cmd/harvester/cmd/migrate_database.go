package cmd

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
)

func migrateDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrateDatabase",
		Short: "migrates the database to the latest version",
		RunE:  migrateDatabase,
	}
	cmd.Flags().Duration(
		"timeout",
		5*time.Minute,
		"Duration after which the migration will fail if it has not completed")
	return cmd
}

func migrateDatabase(cmd *cobra.Command, _ []string) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}

	start := time.Now()
	log.Infof("Beginning %s database migration", config.Database.Type)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	store, err := sequencedb.Open(ctx, config.Database, metrics.NewNoopMetrics(), true)
	if err != nil {
		return errors.WithMessage(err, "failed to migrate database")
	}
	store.Close()
	log.Infof("Database migrated in %s", time.Since(start))
	return nil
}
