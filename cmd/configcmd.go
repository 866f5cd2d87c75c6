package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List configured infrastructure categories",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatCategories(os.Stdout, cfg.Categories, cfg.IncomingDir())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(categoriesCmd)
}

// writeConfig encodes c as YAML with any database password redacted.
func writeConfig(out io.Writer, c *config.Config) error {
	shown := *c
	shown.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return eris.Wrap(err, "config show")
	}
	return enc.Close()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// formatCategories writes one line per category with its resolved layer
// path and whether that path exists.
func formatCategories(out io.Writer, cats []asset.Category, base string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tAGGREGATE\tOUTPUT\tPATH\tFOUND")
	for _, c := range cats {
		path := asset.Resolve(base, c.Path)
		found := "yes"
		if _, err := os.Stat(path); err != nil {
			found = "no"
		}
		agg := "no"
		if c.Aggregate {
			agg = "yes"
			if c.ElectrifiedOnly {
				agg = "electrified"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Key, c.Name, agg, dash(c.Output), path, found)
	}
	_ = w.Flush()
}
