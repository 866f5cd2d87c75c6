package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/coastal-risk/infra-access/internal/aggregate"
	"github.com/coastal-risk/infra-access/internal/asset"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Attach wealth-stratified household counts to asset layers",
	Long: "Reads the linkage tables of every configured district, joins the wealth tables, and writes " +
		"one layer per category with rural and urban household counts per asset.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("aggregate"); err != nil {
			return err
		}

		requested, _ := cmd.Flags().GetStringSlice("category")
		cats, err := selectCategories(cfg.Categories, requested)
		if err != nil {
			return err
		}
		keys := make([]string, len(cats))
		for i, c := range cats {
			keys[i] = c.Key
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		in, err := aggregate.LoadInputs(ctx, cfg.AccessDir(), cfg.WealthDir(), cfg.Districts, keys)
		if err != nil {
			return err
		}
		catalog := asset.Load(ctx, cats, cfg.IncomingDir(), cfg.Run.Concurrency)
		logCatalogErrors(catalog)

		engine := &aggregate.Engine{
			Catalog:     catalog,
			Inputs:      in,
			Labels:      cfg.Wealth.Labels,
			Log:         st,
			ResultsDir:  cfg.ResultsDir(),
			Format:      cfg.Output.Format,
			LayerName:   cfg.Output.Layer,
			Concurrency: cfg.Run.Concurrency,
		}
		results, runErr := engine.Run(ctx, cats)
		formatAggregateResults(os.Stdout, results)
		return runErr
	},
}

func init() {
	aggregateCmd.Flags().StringSlice("category", nil, "category key to aggregate (repeatable, default all with aggregate: true)")
	rootCmd.AddCommand(aggregateCmd)
}

// selectCategories returns the aggregated categories, narrowed to requested
// keys when any are given.
func selectCategories(configured []asset.Category, requested []string) ([]asset.Category, error) {
	byKey := make(map[string]asset.Category, len(configured))
	var all []asset.Category
	for _, c := range configured {
		byKey[c.Key] = c
		if c.Aggregate {
			all = append(all, c)
		}
	}
	if len(requested) == 0 {
		if len(all) == 0 {
			return nil, eris.New("no categories have aggregate enabled")
		}
		return all, nil
	}

	out := make([]asset.Category, 0, len(requested))
	for _, k := range requested {
		c, ok := byKey[k]
		if !ok {
			return nil, eris.Errorf("category %q is not configured", k)
		}
		if !c.Aggregate {
			return nil, eris.Errorf("category %q is not aggregated", k)
		}
		out = append(out, c)
	}
	return out, nil
}

// formatAggregateResults writes one line per category to w.
func formatAggregateResults(out io.Writer, results []aggregate.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tASSETS\tHOUSEHOLDS\tUNMATCHED\tSTATUS\tELAPSED\tDETAIL")
	for _, r := range results {
		status, detail := "ok", r.Path
		if r.Err != nil {
			status, detail = "failed", truncate(r.Err.Error(), 80)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.Key, r.Assets, r.Households, r.Rural.Unmatched+r.Urban.Unmatched,
			status, r.Elapsed.Round(time.Millisecond), detail)
	}
	_ = w.Flush()
}
