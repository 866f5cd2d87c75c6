package aggregate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/layer"
	"github.com/coastal-risk/infra-access/internal/store"
)

// Inputs holds the household side of an aggregation: linkage rows
// concatenated over districts and the wealth table, per origin.
type Inputs struct {
	Keys   []string // Link.IDs columns
	Links  map[household.Origin][]household.Link
	Wealth map[household.Origin]*household.Wealth
}

func (in *Inputs) column(key string) int {
	for i, k := range in.Keys {
		if k == key {
			return i
		}
	}
	return -1
}

// LoadInputs reads <accessDir>/<origin>_infra_access_<district>.csv for
// every district and <wealthDir>/<origin>_PCA_households.csv for both
// origins. Each linkage table must carry id_<key> for every key.
func LoadInputs(ctx context.Context, accessDir, wealthDir string, districts, keys []string) (*Inputs, error) {
	log := zap.L().With(zap.String("component", "aggregate"))
	in := &Inputs{
		Keys:   append([]string(nil), keys...),
		Links:  make(map[household.Origin][]household.Link, len(household.Origins)),
		Wealth: make(map[household.Origin]*household.Wealth, len(household.Origins)),
	}
	for _, o := range household.Origins {
		for _, d := range districts {
			path := filepath.Join(accessDir, household.AccessFileName(o, d))
			links, err := readLinks(ctx, path, keys)
			if err != nil {
				return nil, err
			}
			in.Links[o] = append(in.Links[o], links...)
		}

		path := filepath.Join(wealthDir, household.WealthFileName(o))
		w, err := readWealth(path)
		if err != nil {
			return nil, err
		}
		in.Wealth[o] = w
		log.Info("aggregate: inputs loaded",
			zap.String("origin", string(o)),
			zap.Int("links", len(in.Links[o])),
			zap.Int("wealth", w.Len()),
		)
	}
	return in, nil
}

func readLinks(ctx context.Context, path string, keys []string) ([]household.Link, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: open linkage table %s", path)
	}
	defer f.Close()
	links, err := household.ReadLinks(ctx, f, keys)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: read linkage table %s", path)
	}
	return links, nil
}

func readWealth(path string) (*household.Wealth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: open wealth table %s", path)
	}
	defer f.Close()
	w, err := household.ReadWealth(f)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: read wealth table %s", path)
	}
	return w, nil
}

// Result is the outcome of one category.
type Result struct {
	Key        string
	Path       string
	Assets     int
	Households int
	Rural      CountStats
	Urban      CountStats
	Err        error
	Elapsed    time.Duration
}

// Engine attaches household counts to asset layers and writes them to
// ResultsDir.
type Engine struct {
	Catalog *asset.Catalog
	Inputs  *Inputs
	Labels  []string
	Log     store.Recorder

	ResultsDir  string
	Format      string // gpkg or geojson
	LayerName   string
	Concurrency int
}

// OutputPath is where a category's aggregated layer is written. The
// configured output name keeps its stem; the extension follows Format.
func (e *Engine) OutputPath(cat asset.Category) string {
	name := cat.Output
	if name == "" {
		name = cat.Key + "_households"
	}
	ext := ".gpkg"
	if strings.EqualFold(e.Format, "geojson") {
		ext = ".geojson"
	}
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	return filepath.Join(e.ResultsDir, name)
}

// Run aggregates every category in cats with Aggregate set. Categories are
// independent: one failing does not stop the others. The returned error is
// non-nil when any category failed.
func (e *Engine) Run(ctx context.Context, cats []asset.Category) ([]Result, error) {
	log := zap.L().With(zap.String("component", "aggregate"))
	if e.Log == nil {
		e.Log = store.Discard{}
	}

	var todo []asset.Category
	for _, c := range cats {
		if c.Aggregate {
			todo = append(todo, c)
		}
	}

	results := make([]Result, len(todo))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}
	for i, cat := range todo {
		g.Go(func() error {
			res := e.runCategory(gctx, cat)
			results[i] = res
			if res.Err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("aggregation complete",
		zap.Int("categories", len(todo)),
		zap.Int64("failed", failed.Load()),
	)
	if n := failed.Load(); n > 0 {
		return results, eris.Errorf("aggregate: %d of %d categories failed", n, len(todo))
	}
	return results, nil
}

func (e *Engine) runCategory(ctx context.Context, cat asset.Category) Result {
	start := time.Now()
	out := Result{Key: cat.Key}
	cLog := zap.L().With(zap.String("component", "aggregate"), zap.String("category", cat.Key))

	id, err := e.Log.Start(ctx, store.RunEntry{Stage: store.StageAggregate, Category: cat.Key})
	if err != nil {
		cLog.Error("failed to record run start", zap.Error(err))
	}
	fail := func(err error) Result {
		out.Err = err
		out.Elapsed = time.Since(start)
		cLog.Error("category failed", zap.Error(err))
		if id != "" {
			if logErr := e.Log.Fail(ctx, id, err.Error()); logErr != nil {
				cLog.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "aggregate: cancelled"))
	}

	lyr, hh, err := e.aggregate(cat, &out)
	if err != nil {
		return fail(err)
	}
	path := e.OutputPath(cat)
	if err := layer.Write(path, lyr); err != nil {
		return fail(eris.Wrapf(err, "aggregate: write %s", cat.Key))
	}
	out.Path = path
	out.Households = hh
	out.Elapsed = time.Since(start)

	if id != "" {
		if err := e.Log.Complete(ctx, id, int64(hh)); err != nil {
			cLog.Error("failed to record run completion", zap.Error(err))
		}
	}
	cLog.Info("layer written",
		zap.String("path", path),
		zap.Int("assets", out.Assets),
		zap.Int("households", hh),
		zap.Int("rural_unmatched", out.Rural.Unmatched),
		zap.Int("urban_unmatched", out.Urban.Unmatched),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

func (e *Engine) aggregate(cat asset.Category, out *Result) (*layer.Layer, int, error) {
	t, err := e.Catalog.Table(cat.Key)
	if err != nil {
		return nil, 0, err
	}
	out.Assets = t.Len()

	col := e.Inputs.column(cat.Key)
	if col < 0 {
		return nil, 0, eris.Errorf("aggregate: no linkage column for %s", cat.Key)
	}

	counts := make(map[household.Origin]Counts, len(household.Origins))
	for _, o := range household.Origins {
		wealth := e.Inputs.Wealth[o]
		if wealth == nil {
			return nil, 0, eris.Errorf("aggregate: no %s wealth table", o)
		}
		var keep func(household.Link) bool
		if cat.ElectrifiedOnly {
			keep = Electrified(wealth)
		}
		c, stats, err := Count(e.Inputs.Links[o], col, wealth, e.Labels, t.Len(), keep)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "aggregate: count %s %s", cat.Key, o)
		}
		if o == household.Rural {
			out.Rural = stats
		} else {
			out.Urban = stats
		}
		counts[o] = c
	}

	rows, err := Build(t.Len(), counts[household.Rural], counts[household.Urban], e.Labels)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for _, r := range rows {
		total += r.Total
	}
	if want := out.Rural.Counted + out.Urban.Counted; total != want {
		return nil, 0, eris.Wrapf(ErrRowCount, "aggregate: %s counted %d households, expected %d", cat.Key, total, want)
	}

	lyr, err := Attach(t, rows, e.Labels, e.LayerName)
	if err != nil {
		return nil, 0, err
	}
	return lyr, total, nil
}
