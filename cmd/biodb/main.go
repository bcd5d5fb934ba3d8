// Command biodb ingests bulk uploads and maintains the views, QC annotations
// and artifacts of a biodb database.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "biodb",
		Short:        "Biomedical spectral data ingestion and QC",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(viewsCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(centersCmd())
	rootCmd.AddCommand(fixturesCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(exportCmd())
	return rootCmd
}
