package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vineyard-genomics/harvester/internal/common/app"
	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/harvester/backfill"
	"github.com/vineyard-genomics/harvester/internal/harvester/fasta"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
)

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill-mutations",
		Short: "Calls nucleotide mutations for aligned sequences that have none",
		RunE:  runBackfill,
	}
	cmd.Flags().Int("pageSize", 0, "Number of sequences processed per transaction; overrides the configured value")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	pageSize := config.Backfill.PageSize
	if cmd.Flags().Changed("pageSize") {
		pageSize, _ = cmd.Flags().GetInt("pageSize")
	}

	ctx := app.CreateContextWithShutdown(runcontext.Background())
	store, err := sequencedb.Open(ctx, config.Database, metrics.NewNoopMetrics(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	reference := ""
	if config.ReferencePath != "" {
		entry, err := fasta.ReadSingleFile(config.ReferencePath)
		if err != nil {
			return err
		}
		reference = entry.Seq
	} else if reference, err = store.LoadReference(ctx); err != nil {
		return errors.WithMessage(err, "cannot load reference")
	}
	masked, err := store.LoadMaskedSites(ctx)
	if err != nil {
		return errors.WithMessage(err, "cannot load masked sites")
	}

	result, err := backfill.Run(ctx, store, mutations.NewFinder(reference, masked), pageSize)
	for _, a := range result.Anomalies {
		ctx.Log.Warnf("Skipped %s: %s", a.Id, a.Message)
	}
	if err != nil {
		return err
	}
	ctx.Log.Infof("Backfill complete: %d sequences scanned, %d with mutations", result.Scanned, result.Mutated)
	return nil
}
