package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"biodb/internal/fixtures"
	"biodb/pkg/domain"
)

func centersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "centers",
		Short: "Manage centers and their replicas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a center in the catalog and data stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			country, _ := cmd.Flags().GetString("country")
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			c, err := a.centers().Create(cmd.Context(), domain.Center{Name: name, Country: country})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Center name")
	createCmd.Flags().String("country", "", "Center country")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the centers of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			list, err := a.catalog.Queries().ListCenters(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.ID, c.Name, c.Country)
			}
			return nil
		},
	}
	cmd.AddCommand(listCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy catalog centers into the data store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			report, err := a.centers().Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d center(s) created, %d updated.\n", report.Created, report.Updated)
			return nil
		},
	}
	cmd.AddCommand(syncCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that each center ID denotes the same center in both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			mismatches, err := a.centers().Verify(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d center(s) differ between catalog and data store", len(mismatches))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Centers are consistent.")
			return nil
		},
	}
	cmd.AddCommand(verifyCmd)
	return cmd
}

func fixturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fixtures file.json",
		Short: "Load reference data (centers, instruments, observables, QC annotators)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := fixtures.Decode(f)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			sum, err := fixtures.NewLoader(a.centers(), a.data, a.registry, a.log).Load(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s) created, %d already present.\n", sum.Created, sum.Skipped)
			return nil
		},
	}
}
