package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"biodb/internal/views"
)

func viewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Maintain the SQL views",
	}

	updateCmd := &cobra.Command{
		Use:   "update [view...]",
		Short: "Recreate views and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			selected, err := selectViews(a.views(), args)
			if err != nil {
				return err
			}
			selected = views.WithDependents(a.views(), selected...)
			if err := a.viewEngine().UpdateAll(cmd.Context(), selected...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d view(s).\n", len(selected))
			return nil
		},
	}
	cmd.AddCommand(updateCmd)

	dropCmd := &cobra.Command{
		Use:   "drop view...",
		Short: "Drop views",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			selected, err := selectViews(a.views(), args)
			if err != nil {
				return err
			}
			engine := a.viewEngine()
			for _, v := range selected {
				if err := engine.Drop(cmd.Context(), v, recursive); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s.\n", v.Name())
			}
			return nil
		},
	}
	dropCmd.Flags().Bool("recursive", false, "Also drop the views each view depends on")
	cmd.AddCommand(dropCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the views and whether they exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			engine := a.viewEngine()
			for _, v := range a.views() {
				ok, err := engine.Exists(cmd.Context(), v)
				if err != nil {
					return err
				}
				state := "missing"
				if ok {
					state = "present"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", v.Name(), state)
			}
			return nil
		},
	}
	cmd.AddCommand(listCmd)
	return cmd
}

// selectViews picks the named views; no names selects all of them.
func selectViews(all []views.View, names []string) ([]views.View, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]views.View, len(all))
	for _, v := range all {
		byName[v.Name()] = v
	}
	out := make([]views.View, 0, len(names))
	for _, name := range names {
		v, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown view %q", name)
		}
		out = append(out, v)
	}
	return out, nil
}
