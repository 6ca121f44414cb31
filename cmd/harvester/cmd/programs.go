package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type program struct {
	name        string
	description string
	command     func() *cobra.Command
}

// registry lists every program the binary can run. The command tree is built from it.
func registry() []program {
	return []program{
		{name: "import", description: "Imports a data package into the database", command: importCmd},
		{name: "backfill-mutations", description: "Calls nucleotide mutations for stored sequences that have none", command: backfillCmd},
		{name: "migrateDatabase", description: "Migrates the database to the latest version", command: migrateDbCmd},
		{name: "programs", description: "Lists the available programs", command: programsCmd},
	}
}

func programsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "Lists the available programs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range registry() {
				fmt.Fprintf(w, "%s\t%s\n", p.name, p.description)
			}
			return w.Flush()
		},
	}
}
