package main

import (
	"os"

	"github.com/vineyard-genomics/harvester/cmd/harvester/cmd"
	"github.com/vineyard-genomics/harvester/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
