package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coastal-risk/infra-access/internal/access"
	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/geo"
	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/polder"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Link households to their nearest infrastructure assets",
	Long: "Reads <origin>_<district>.csv household tables, finds the nearest asset per category, " +
		"computes haversine distance and polder membership, and writes <origin>_infra_access_<district>.csv.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("access"); err != nil {
			return err
		}

		districtFlags, _ := cmd.Flags().GetStringSlice("district")
		originFlags, _ := cmd.Flags().GetStringSlice("origin")
		if cmd.Flags().Changed("allow-partial") {
			cfg.Run.AllowPartial, _ = cmd.Flags().GetBool("allow-partial")
		}

		districts, err := selectDistricts(cfg.Districts, districtFlags)
		if err != nil {
			return err
		}
		origins, err := parseOrigins(originFlags)
		if err != nil {
			return err
		}

		proj, err := geo.NewProjector(cfg.Households.Proj4)
		if err != nil {
			return err
		}
		overlay, err := loadOverlay()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		catalog := asset.Load(ctx, cfg.Categories, cfg.IncomingDir(), cfg.Run.Concurrency)
		logCatalogErrors(catalog)

		runner := &access.Runner{
			Engine:        access.NewEngine(catalog, overlay, proj, cfg.Run.Concurrency),
			Log:           st,
			HouseholdsDir: cfg.HouseholdsDir(),
			AccessDir:     cfg.AccessDir(),
			Concurrency:   cfg.Run.Concurrency,
			AllowPartial:  cfg.Run.AllowPartial,
		}
		results, runErr := runner.Run(ctx, access.Units(districts, origins))
		formatUnitResults(os.Stdout, results)
		return runErr
	},
}

func init() {
	accessCmd.Flags().StringSlice("district", nil, "district to process (repeatable, default all configured)")
	accessCmd.Flags().StringSlice("origin", nil, "household origin: rural or urban (repeatable, default both)")
	accessCmd.Flags().Bool("allow-partial", false, "write tables even when some categories failed")
	rootCmd.AddCommand(accessCmd)
}

// selectDistricts returns the requested districts, or all configured ones
// when none were requested. Unknown districts are rejected.
func selectDistricts(configured, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return configured, nil
	}
	known := make(map[string]bool, len(configured))
	for _, d := range configured {
		known[d] = true
	}
	for _, d := range requested {
		if !known[d] {
			return nil, eris.Errorf("district %q is not configured", d)
		}
	}
	return requested, nil
}

func parseOrigins(requested []string) ([]household.Origin, error) {
	if len(requested) == 0 {
		return household.Origins, nil
	}
	out := make([]household.Origin, 0, len(requested))
	for _, s := range requested {
		o, err := household.ParseOrigin(s)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func loadOverlay() (*polder.Overlay, error) {
	path := cfg.PolderPath()
	if path == "" {
		zap.L().Warn("no polder layer configured, every household is outside")
		return nil, nil
	}
	polys, err := asset.LoadPolders(path, cfg.Polders.Layer, cfg.Polders.IDField, cfg.Polders.Proj4)
	if err != nil {
		return nil, err
	}
	return polder.NewOverlay(polys)
}

func logCatalogErrors(c *asset.Catalog) {
	keys, errs := c.Errors()
	for _, k := range keys {
		zap.L().Error("category unavailable", zap.String("category", k), zap.Error(errs[k]))
	}
}

// formatUnitResults writes one line per district × origin to w.
func formatUnitResults(out io.Writer, results []access.UnitResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DISTRICT\tORIGIN\tHOUSEHOLDS\tSTATUS\tELAPSED\tDETAIL")
	for _, r := range results {
		status, detail := "ok", r.Path
		if r.Err != nil {
			status = "failed"
			if r.Path != "" {
				status = "partial"
			}
			detail = truncate(r.Err.Error(), 80)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.District, r.Origin, r.Rows, status, r.Elapsed.Round(time.Millisecond), detail)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
