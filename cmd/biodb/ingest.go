package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"biodb/internal/ingest"
	"biodb/internal/tabular"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			// openApp migrates both stores already
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", a.data.Dialect().Name())
			if a.cfg.SeparateCatalog() {
				fmt.Fprintf(cmd.OutOrStdout(), "Catalog schema is up to date (%s).\n", a.catalog.Dialect().Name())
			}
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a meta data table and an array data table",
		RunE: func(cmd *cobra.Command, args []string) error {
			metaPath, _ := cmd.Flags().GetString("meta")
			arrayPath, _ := cmd.Flags().GetString("array")
			centerArg, _ := cmd.Flags().GetString("center")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			updateViews, _ := cmd.Flags().GetBool("update-views")

			center, err := uuid.Parse(centerArg)
			if err != nil {
				return fmt.Errorf("--center must be a center UUID: %w", err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.ingestEngine().Ingest(ctx, ingest.Request{
				Meta:   tabular.FileSource(metaPath),
				Array:  tabular.FileSource(arrayPath),
				Center: center,
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verb := "Ingested"
			if res.DryRun {
				verb = "Dry run validated"
			}
			fmt.Fprintf(out, "%s %d row(s): %d new patient(s), %d existing, %d visit(s), %d biosample(s), %d array data record(s), %d observation(s), %d QC annotation(s).\n",
				verb, res.Rows, res.Patients, res.PatientsReused, res.Visits, res.BioSamples, res.ArrayData, res.Observations, res.Annotations)

			if updateViews && !res.DryRun {
				if err := a.viewEngine().UpdateAll(ctx, a.views()...); err != nil {
					a.log.Warn().Err(err).Msg("views not refreshed after ingestion")
				}
			}
			return nil
		},
	}
	cmd.Flags().String("meta", "", "Path to the meta data table (csv, xlsx, jsonl)")
	cmd.Flags().String("array", "", "Path to the array data table (csv, xlsx, jsonl)")
	cmd.Flags().String("center", "", "UUID of the uploading center")
	cmd.Flags().Bool("dry-run", false, "Validate everything and roll back")
	cmd.Flags().Bool("update-views", true, "Refresh the SQL views after a committed upload")
	_ = cmd.MarkFlagRequired("meta")
	_ = cmd.MarkFlagRequired("array")
	_ = cmd.MarkFlagRequired("center")
	return cmd
}
