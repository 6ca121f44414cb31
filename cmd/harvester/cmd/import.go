package cmd

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/vineyard-genomics/harvester/internal/common/app"
	"github.com/vineyard-genomics/harvester/internal/common/compress"
	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/common/serve"
	"github.com/vineyard-genomics/harvester/internal/common/util"
	"github.com/vineyard-genomics/harvester/internal/harvester/changeset"
	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/importer"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/notify"
	"github.com/vineyard-genomics/harvester/internal/harvester/sequencedb"
	"github.com/vineyard-genomics/harvester/internal/harvester/submitter"
)

// ErrRunFailed is returned when a run completed but did not meet the success rule.
var ErrRunFailed = errors.New("import run was not successful")

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Imports a line delimited json data package",
		RunE:  runImport,
	}
	cmd.Flags().String("mode", "", "append or update; overrides the configured mode")
	cmd.Flags().Int("workers", 0, "Number of concurrent batch workers; overrides the configured value")
	cmd.Flags().Int("batchSize", 0, "Maximum number of records per batch; overrides the configured value")
	cmd.Flags().String("workDir", "", "Empty scratch directory; overrides the configured value")
	cmd.Flags().String("reference", "", "Reference genome in FASTA format; overrides the configured value")
	cmd.Flags().String("source", "", "Data package path, - for stdin; overrides the configured value")
	return cmd
}

// applyImportFlags overrides config with every flag set on the command line.
func applyImportFlags(cmd *cobra.Command, config *configuration.HarvesterConfiguration) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		s, _ := flags.GetString("mode")
		mode, err := model.ParseImportMode(s)
		if err != nil {
			return err
		}
		config.Mode = mode
	}
	if flags.Changed("workers") {
		config.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("batchSize") {
		config.BatchSize, _ = flags.GetInt("batchSize")
	}
	if flags.Changed("workDir") {
		config.WorkDir, _ = flags.GetString("workDir")
	}
	if flags.Changed("reference") {
		config.ReferencePath, _ = flags.GetString("reference")
	}
	if flags.Changed("source") {
		config.SourcePath, _ = flags.GetString("source")
	}
	return config.Validate()
}

func runImport(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyImportFlags(cmd, &config); err != nil {
		return err
	}

	ctx := app.CreateContextWithShutdown(runcontext.Background())
	shutdownMetricServer := serve.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()
	m := metrics.NewMetrics(metrics.HarvesterMetricsPrefix, prometheus.DefaultRegisterer)

	store, err := sequencedb.Open(ctx, config.Database, m, false)
	if err != nil {
		return err
	}
	defer store.Close()

	format := compress.FormatFromPath(config.SourcePath)
	if config.SourceCompression != "" {
		format = compress.Format(config.SourceCompression)
	}
	src, err := compress.OpenFile(config.SourcePath, format)
	if err != nil {
		return errors.WithMessagef(err, "cannot open source %s", config.SourcePath)
	}
	defer util.CloseResource("source", src)

	imp := importer.NewImporter(
		config,
		store,
		submitterFetcher(config.Submitter),
		notifier(config.Notifications),
		importer.DefaultEnricherFactory(config, m),
		clock.RealClock{},
		m,
	)
	report, err := imp.Run(ctx, src)
	if err != nil {
		return err
	}
	importer.LogRunSummary(report)
	if !report.Success {
		return ErrRunFailed
	}
	return nil
}

func submitterFetcher(config configuration.SubmitterConfig) changeset.SubmitterFetcher {
	if !config.Enabled {
		log.Info("Submitter information lookup is disabled")
		return submitter.NoopFetcher{}
	}
	return submitter.NewHttpFetcher(config)
}

func notifier(config configuration.NotificationConfig) notify.Notifier {
	notifiers := notify.MultiNotifier{notify.LogNotifier{}}
	if config.ReportDir != "" {
		notifiers = append(notifiers, notify.NewFileNotifier(config.ReportDir))
	}
	return notifiers
}
