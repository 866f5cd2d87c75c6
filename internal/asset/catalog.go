// Package asset loads the infrastructure reference layers once per run and
// hands them to the engines as an explicit catalog.
package asset

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coastal-risk/infra-access/internal/geo"
	"github.com/coastal-risk/infra-access/internal/layer"
	"github.com/coastal-risk/infra-access/internal/polder"
)

// Category is one configured infrastructure category.
type Category struct {
	Name            string `mapstructure:"name" yaml:"name"`
	Key             string `mapstructure:"key" yaml:"key"`
	Path            string `mapstructure:"path" yaml:"path"`
	Layer           string `mapstructure:"layer" yaml:"layer,omitempty"`
	Output          string `mapstructure:"output" yaml:"output,omitempty"`
	Aggregate       bool   `mapstructure:"aggregate" yaml:"aggregate"`
	ElectrifiedOnly bool   `mapstructure:"electrified_only" yaml:"electrified_only"`
	// Proj4 is the layer's source frame; empty means lon/lat.
	Proj4 string `mapstructure:"proj4" yaml:"proj4,omitempty"`
}

// Table is a loaded category. Asset ids are positions in Points, which
// parallel Layer.Features.
type Table struct {
	Category Category
	Layer    *layer.Layer
	Points   []geo.Point
}

// Len returns the number of assets.
func (t *Table) Len() int {
	return len(t.Points)
}

// NewTable derives lon/lat asset points from a layer, projecting from
// cat.Proj4 when set. Every feature needs a geometry; non-point geometries
// are represented by their first vertex.
func NewTable(cat Category, l *layer.Layer) (*Table, error) {
	proj, err := geo.NewProjector(cat.Proj4)
	if err != nil {
		return nil, eris.Wrapf(err, "asset: %s projection", cat.Key)
	}
	points := make([]geo.Point, len(l.Features))
	for i, f := range l.Features {
		p, ok := layer.Anchor(f.Geometry)
		if !ok {
			return nil, eris.Errorf("asset: %s feature %d has no geometry", cat.Key, i)
		}
		if p, err = proj.Project(p.Lon, p.Lat); err != nil {
			return nil, eris.Wrapf(err, "asset: %s feature %d", cat.Key, i)
		}
		points[i] = p
	}
	return &Table{Category: cat, Layer: l, Points: points}, nil
}

// Resolve joins a relative path onto base.
func Resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// Catalog holds the loaded tables and per-category load errors.
type Catalog struct {
	mu     sync.RWMutex
	cats   []Category
	tables map[string]*Table
	errs   map[string]error
}

// NewCatalog builds a catalog from tables that are already loaded.
func NewCatalog(tables ...*Table) *Catalog {
	c := &Catalog{tables: make(map[string]*Table), errs: make(map[string]error)}
	for _, t := range tables {
		c.cats = append(c.cats, t.Category)
		c.tables[t.Category.Key] = t
	}
	return c
}

// Load reads every category's layer relative to baseDir, at most
// concurrency at a time. A category that fails to load is recorded and
// does not stop the others.
func Load(ctx context.Context, cats []Category, baseDir string, concurrency int) *Catalog {
	c := &Catalog{
		cats:   append([]Category(nil), cats...),
		tables: make(map[string]*Table, len(cats)),
		errs:   make(map[string]error),
	}
	log := zap.L().With(zap.String("component", "asset"))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, cat := range cats {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				c.fail(cat.Key, eris.Wrapf(err, "asset: load %s", cat.Key))
				return nil
			}
			start := time.Now()
			path := Resolve(baseDir, cat.Path)
			l, err := layer.Read(path, cat.Layer)
			if err != nil {
				log.Error("asset: load failed", zap.String("category", cat.Key), zap.String("path", path), zap.Error(err))
				c.fail(cat.Key, eris.Wrapf(err, "asset: load %s", cat.Key))
				return nil
			}
			t, err := NewTable(cat, l)
			if err != nil {
				log.Error("asset: invalid layer", zap.String("category", cat.Key), zap.String("path", path), zap.Error(err))
				c.fail(cat.Key, err)
				return nil
			}
			c.mu.Lock()
			c.tables[cat.Key] = t
			c.mu.Unlock()
			log.Info("asset: loaded",
				zap.String("category", cat.Key),
				zap.Int("assets", t.Len()),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	_ = g.Wait()
	return c
}

func (c *Catalog) fail(key string, err error) {
	c.mu.Lock()
	c.errs[key] = err
	c.mu.Unlock()
}

// Categories returns the catalog's categories in configuration order.
func (c *Catalog) Categories() []Category {
	return append([]Category(nil), c.cats...)
}

// Table returns the loaded table for key, or the error that prevented it
// from loading.
func (c *Catalog) Table(key string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err, ok := c.errs[key]; ok {
		return nil, err
	}
	t, ok := c.tables[key]
	if !ok {
		return nil, eris.Errorf("asset: category %q is not configured", key)
	}
	return t, nil
}

// Errors returns the load errors keyed by category, sorted keys first.
func (c *Catalog) Errors() ([]string, map[string]error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.errs))
	errs := make(map[string]error, len(c.errs))
	for k, err := range c.errs {
		keys = append(keys, k)
		errs[k] = err
	}
	sort.Strings(keys)
	return keys, errs
}

// LoadPolders reads the embankment polygon layer, converts it to lon/lat
// from proj4 (empty means already lon/lat) and tags each polygon with the
// value of idField.
func LoadPolders(path, layerName, idField, proj4 string) ([]polder.Polygon, error) {
	proj, err := geo.NewProjector(proj4)
	if err != nil {
		return nil, eris.Wrap(err, "asset: polder projection")
	}
	l, err := layer.Read(path, layerName)
	if err != nil {
		return nil, eris.Wrap(err, "asset: load polders")
	}
	idx := l.FieldIndex(idField)
	if idx < 0 {
		return nil, eris.Errorf("asset: polder layer %s has no field %q", path, idField)
	}
	out := make([]polder.Polygon, len(l.Features))
	for i, f := range l.Features {
		g, err := layer.Reproject(f.Geometry, proj)
		if err != nil {
			return nil, eris.Wrapf(err, "asset: polder feature %d", i)
		}
		out[i] = polder.Polygon{ID: layer.FormatValue(f.Values[idx]), Geometry: g}
	}
	return out, nil
}
