package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"biodb/internal/export"
	"biodb/internal/schema"
)

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty bulk-upload meta data table for the current observables",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatArg, _ := cmd.Flags().GetString("format")
			outPath, _ := cmd.Flags().GetString("out")
			format, err := export.ParseFormat(formatArg)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			table, err := export.Template(cmd.Context(), a.data.Queries(), schema.Default())
			if err != nil {
				return err
			}
			payload, err := export.Render(format, table)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(payload)
				return err
			}
			return os.WriteFile(outPath, payload, 0o644)
		},
	}
	cmd.Flags().String("format", "csv", "Output format: csv, json or xlsx")
	cmd.Flags().String("out", "", "Output file (stdout when empty)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export view",
		Short: "Store the rows of a view in the blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, _ := cmd.Flags().GetStringSlice("format")
			prefix, _ := cmd.Flags().GetString("prefix")
			formats := make([]export.Format, 0, len(names))
			for _, n := range names {
				f, err := export.ParseFormat(n)
				if err != nil {
					return err
				}
				formats = append(formats, f)
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			infos, err := export.New(a.data, a.blobs, prefix, a.log).Export(cmd.Context(), args[0], formats...)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", info.Key, info.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("format", []string{"csv"}, "Formats to write: csv, json, xlsx")
	cmd.Flags().String("prefix", export.DefaultPrefix, "Blob directory for exports")
	return cmd
}
