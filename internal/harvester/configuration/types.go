package configuration

import (
	"time"

	"github.com/vineyard-genomics/harvester/internal/common/database"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

type HarvesterConfiguration struct {
	// Whether records already in the store are skipped (append) or compared and updated (update)
	Mode model.ImportMode `validate:"required,oneof=append update"`
	// Number of concurrent batch workers
	Workers int `validate:"required,min=1"`
	// Maximum number of records per batch
	BatchSize int `validate:"required,min=1"`
	// Scratch directory; must exist, be empty and writable. Each worker gets its own sub directory.
	WorkDir string `validate:"required"`
	// Reference genome in FASTA format. If empty the reference is loaded from the store.
	ReferencePath string
	// Line-delimited JSON source; "-" reads stdin. Compression is inferred from the extension.
	SourcePath string `validate:"required"`
	// Overrides the compression inferred from SourcePath: none, xz, zstd or gzip
	SourceCompression string `validate:"omitempty,oneof=none xz zstd gzip"`
	// Number of leading source lines checked against the expected field sets
	SampleLines int `validate:"min=0"`
	// Refresh submitter information for records that already exist in the store
	UpdateSubmitterInformation bool
	// Refresh materialized views after a run that was not cancelled
	RefreshMaterializedViews bool
	// How long a worker waits for a batch before checking exhaustion and the brake again
	PollTimeout time.Duration `validate:"required"`
	// How long the producer waits for queue space before checking the brake again
	OfferTimeout time.Duration `validate:"required"`
	// How long to wait for workers to finish after the brake was pulled
	EmergencyWait time.Duration `validate:"required"`
	MetricsPort   uint16
	LogLevel      string

	Database      DatabaseConfig
	Aligner       SubprocessConfig
	CladeAssigner SubprocessConfig
	Submitter     SubmitterConfig
	Ownership     OwnershipConfig
	Notifications NotificationConfig
	Backfill      BackfillConfig
}

type DatabaseConfig struct {
	// Type of database used - must be either 'postgres' or 'sqlite'
	Type     string `validate:"required,oneof=postgres sqlite"`
	Postgres database.PostgresConfig
	// This field is only read when Type is 'sqlite'
	Sqlite database.SqliteConfig
	// Maximum number of retries for reads and end of run deletions
	MaxRetries int `validate:"min=0"`
}

type SubprocessConfig struct {
	Executable string        `validate:"required"`
	Timeout    time.Duration `validate:"required"`
	// Threads for the aligner, jobs for the clade assigner
	Parallelism int `validate:"min=1"`
	ExtraArgs   []string
}

type SubmitterConfig struct {
	Enabled bool
	// Base url of the acknowledgement files, e.g. https://www.epicov.org/acknowledgement
	BaseUrl  string `validate:"required_if=Enabled true"`
	Timeout  time.Duration
	Attempts uint
}

type OwnershipConfig struct {
	// Strains containing -<Marker>- were sequenced by our own pipeline
	Marker string
}

type NotificationConfig struct {
	// Directory reports are written to as YAML; empty disables file reports
	ReportDir string
}

type BackfillConfig struct {
	PageSize int `validate:"min=1"`
}
