package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/adsync/internal/pipeline"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/extract"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/schema"
	"github.com/ajitpratap0/adsync/pkg/state"
)

func newResourcesCommand(v *viper.Viper) *cobra.Command {
	var showFields bool
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the resources adsync can extract",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return printResources(cmd.OutOrStdout(), resources.Default(), schema.Open(cfg.Schemas.Dir), showFields)
		},
	}
	cmd.Flags().BoolVar(&showFields, "fields", false, "Also print the selected fields of each resource")
	return cmd
}

func printResources(out io.Writer, catalog *resources.Catalog, registry *schema.Registry, showFields bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPOLICY\tDISPOSITION\tDEFAULT\tMERGE KEY")
	for _, r := range catalog.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.Name, r.Policy, r.Disposition, r.Default, strings.Join(r.MergeKey, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !showFields {
		return nil
	}

	for _, r := range catalog.All() {
		fields := r.StaticFields
		if r.UsesSchema() {
			def, err := registry.Get(r.Name)
			if err != nil {
				return err
			}
			fields = def.FieldNames()
		}
		fmt.Fprintf(out, "\n%s (%d fields)\n", r.Name, len(fields))
		for _, f := range fields {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}

func newPlanCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the queries a run would execute",
		Long: `Print every GAQL query a run would execute, per customer and resource,
without calling the API. In auto first-run mode the state store is read to
decide which pairs are on their first run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := state.New(ctx, cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			driver, err := newDriver(cfg, nil)
			if err != nil {
				return err
			}
			return printPlan(cmd, cfg, driver, store)
		},
	}
}

func printPlan(cmd *cobra.Command, cfg *config.Config, driver *extract.Driver, store state.Store) error {
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	selected, err := driver.Catalog().Select(opts.Resources)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, customerID := range opts.CustomerIDs {
		for _, res := range selected {
			firstRun := opts.FirstRun == config.FirstRunTrue
			if opts.FirstRun == config.FirstRunAuto {
				_, ok, err := store.Get(cmd.Context(), customerID, res.Name)
				if err != nil {
					return err
				}
				firstRun = !ok
			}
			plan, err := driver.Plan(res.Name, extract.RunContext{
				CustomerID:           customerID,
				StartDate:            opts.StartDate,
				ConversionWindowDays: opts.ConversionWindowDays,
				FirstRun:             firstRun,
				LookbackDays:         opts.LookbackDays,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# customer %s, resource %s, first run %t, %s\n",
				customerID, res.Name, firstRun, res.Disposition)
			for _, q := range plan.Strings() {
				fmt.Fprintln(out, q)
			}
		}
	}
	return nil
}

func printResult(out io.Writer, result *pipeline.Result) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CUSTOMER\tRESOURCE\tFIRST RUN\tROWS\tDURATION\tSTATUS")
	for _, rr := range result.Resources {
		status := "ok"
		if rr.Err != nil {
			status = "failed: " + rr.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n",
			rr.CustomerID, rr.Resource, rr.FirstRun, rr.Rows, rr.Duration.Round(time.Millisecond), status)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "run %s: %d rows in %s\n", result.RunID, result.Rows(), result.Duration.Round(time.Millisecond))
}
