package main

import (
	"fmt"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"biodb/internal/persistence/sqlstore"
	"biodb/internal/prune"
)

func annotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate [array-data-id...]",
		Short: "Run the QC annotators over array data records",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			force, _ := cmd.Flags().GetBool("force")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if all == (len(args) > 0) {
				return fmt.Errorf("pass record IDs or --all")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			runner := a.qcRunner()

			if all {
				bar := progressbar.Default(-1, "Annotating array data")
				sum, err := runner.AnnotateAll(ctx, a.data, force, concurrency, func() { _ = bar.Add(1) })
				_ = bar.Finish()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Annotated %d record(s): %d annotation(s) written, %d record(s) skipped.\n",
					sum.Records, sum.Annotations, sum.Skipped)
				return nil
			}

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid array data id %q", arg)
				}
				err = a.data.RunInTransaction(ctx, func(q *sqlstore.Queries) error {
					record, err := q.GetArrayData(ctx, id)
					if err != nil {
						return err
					}
					results, err := runner.AnnotateBestEffort(ctx, q, record, force)
					if err != nil {
						return err
					}
					for name, ann := range results {
						if ann == nil {
							fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\tfailed\n", id, name)
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", id, name, ann.Value)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Annotate every array data record")
	cmd.Flags().Bool("force", false, "Recompute existing annotations")
	cmd.Flags().Int("concurrency", 4, "Records processed in parallel with --all")
	return cmd
}

func pruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored artifacts no array data record references",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			p := prune.New(a.data, a.blobs, a.cfg.ArtifactPrefix, a.log, a.metrics)
			var tick func()
			if !dryRun {
				orphans, err := p.Orphans(ctx)
				if err != nil {
					return err
				}
				bar := progressbar.Default(int64(len(orphans)), "Deleting orphaned artifacts")
				defer func() { _ = bar.Finish() }()
				tick = func() { _ = bar.Add(1) }
			}
			report, err := p.Run(ctx, dryRun, tick)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, key := range report.Orphans {
				fmt.Fprintln(out, key)
			}
			if dryRun {
				fmt.Fprintf(out, "%d orphaned artifact(s) found.\n", len(report.Orphans))
				return nil
			}
			fmt.Fprintf(out, "%d orphaned artifact(s) deleted.\n", report.Deleted)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Only list orphaned artifacts")
	return cmd
}
