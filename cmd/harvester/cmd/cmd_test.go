package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

func TestRootCmd_RegistersEveryProgram(t *testing.T) {
	root := RootCmd()
	for _, p := range registry() {
		found, _, err := root.Find([]string{p.name})
		require.NoError(t, err)
		assert.Equal(t, p.name, found.Name())
	}
}

func TestProgramsCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := programsCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "backfill-mutations")
	assert.Contains(t, out.String(), "migrateDatabase")
}

func baseConfig() configuration.HarvesterConfiguration {
	return configuration.HarvesterConfiguration{
		Mode:          model.ImportModeUpdate,
		Workers:       4,
		BatchSize:     100,
		WorkDir:       "/tmp/harvester",
		SourcePath:    "-",
		PollTimeout:   time.Second,
		OfferTimeout:  time.Second,
		EmergencyWait: time.Minute,
		Database:      configuration.DatabaseConfig{Type: "sqlite"},
		Aligner:       configuration.SubprocessConfig{Executable: "mafft", Timeout: time.Minute, Parallelism: 1},
		CladeAssigner: configuration.SubprocessConfig{Executable: "nextclade", Timeout: time.Minute, Parallelism: 1},
		Backfill:      configuration.BackfillConfig{PageSize: 10},
	}
}

func TestApplyImportFlags(t *testing.T) {
	cmd := importCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--mode", "append", "--workers", "2", "--source", "provision.json.xz"}))
	config := baseConfig()

	require.NoError(t, applyImportFlags(cmd, &config))
	assert.Equal(t, model.ImportModeAppend, config.Mode)
	assert.Equal(t, 2, config.Workers)
	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, "provision.json.xz", config.SourcePath)
}

func TestApplyImportFlags_Invalid(t *testing.T) {
	cmd := importCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--mode", "merge"}))
	config := baseConfig()
	assert.Error(t, applyImportFlags(cmd, &config))

	cmd = importCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "0"}))
	config = baseConfig()
	assert.Error(t, applyImportFlags(cmd, &config))
}
