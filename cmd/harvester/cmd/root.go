package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vineyard-genomics/harvester/internal/common"
	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/harvester"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "harvester",
		SilenceUsage: true,
		Short:        "Imports the upstream sequence data package into the surveillance database",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	for _, p := range registry() {
		cmd.AddCommand(p.command())
	}
	return cmd
}

func loadConfig() (configuration.HarvesterConfiguration, error) {
	var config configuration.HarvesterConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)
	common.ConfigureLogLevel(config.LogLevel)

	err := config.Validate()
	return config, err
}
