// Package access links every household to its nearest asset in each
// configured infrastructure category and tags polder membership.
package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/geo"
	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/polder"
	"github.com/coastal-risk/infra-access/internal/spatial"
)

// ErrRowCount is returned when a category's output does not have exactly
// one value per household.
var ErrRowCount = errors.New("access: row count changed")

// Column is the nearest-asset linkage for one category, parallel to the
// household slice it was computed for.
type Column struct {
	Key  string
	IDs  []int
	Dist []float64 // km
}

// Result is the accessibility table for one household subpopulation.
type Result struct {
	Households []household.Household
	Points     []geo.Point
	Polder     []polder.Membership
	Columns    []Column // succeeded categories, configuration order
	Report     Report
}

type cachedIndex struct {
	once sync.Once
	ix   *spatial.Index
	err  error
}

// Engine runs the accessibility computation against a fixed catalog. It is
// safe for concurrent use; spatial indexes are built once per category on
// first use and shared.
type Engine struct {
	catalog     *asset.Catalog
	overlay     *polder.Overlay
	projector   *geo.Projector
	concurrency int

	mu      sync.Mutex
	indexes map[string]*cachedIndex
}

// NewEngine wires an engine. overlay and projector may be nil (no polders,
// coordinates already lon/lat). concurrency bounds the categories processed
// at once; zero means unbounded.
func NewEngine(catalog *asset.Catalog, overlay *polder.Overlay, projector *geo.Projector, concurrency int) *Engine {
	return &Engine{
		catalog:     catalog,
		overlay:     overlay,
		projector:   projector,
		concurrency: concurrency,
		indexes:     make(map[string]*cachedIndex),
	}
}

// Categories returns the categories the engine links against.
func (e *Engine) Categories() []asset.Category {
	return e.catalog.Categories()
}

func (e *Engine) index(key string) (*spatial.Index, error) {
	e.mu.Lock()
	c, ok := e.indexes[key]
	if !ok {
		c = &cachedIndex{}
		e.indexes[key] = c
	}
	e.mu.Unlock()

	c.once.Do(func() {
		t, err := e.catalog.Table(key)
		if err != nil {
			c.err = err
			return
		}
		c.ix, c.err = spatial.NewIndex(t.Points)
		if c.err != nil {
			c.err = eris.Wrapf(c.err, "access: index %s", key)
		}
	})
	return c.ix, c.err
}

// Run computes the accessibility table for hh. Duplicate household ids,
// projection failures and cancellation are fatal; a failing category is
// recorded in the report and its columns are left out.
func (e *Engine) Run(ctx context.Context, hh []household.Household) (*Result, error) {
	log := zap.L().With(zap.String("component", "access.engine"))

	if err := household.CheckUnique(hh); err != nil {
		return nil, eris.Wrap(err, "access: households")
	}

	points := make([]geo.Point, len(hh))
	for i, h := range hh {
		p, err := e.projector.Project(h.Long, h.Lat)
		if err != nil {
			return nil, eris.Wrapf(err, "access: household %s", h.HID)
		}
		points[i] = p
	}

	memberships := make([]polder.Membership, len(points))
	if e.overlay != nil {
		var overlaps int
		memberships, overlaps = e.overlay.LocateAll(points)
		if overlaps > 0 {
			log.Warn("households inside overlapping polders; last polder in layer order wins",
				zap.Int("households", overlaps),
			)
		}
	} else {
		for i := range memberships {
			memberships[i] = polder.Membership{Polder: 0, ID: polder.Outside}
		}
	}

	cats := e.catalog.Categories()
	columns := make([]Column, len(cats))
	outcomes := make([]Outcome, len(cats))

	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i, cat := range cats {
		g.Go(func() error {
			start := time.Now()
			col, err := e.link(gctx, cat.Key, points)
			outcomes[i] = Outcome{Key: cat.Key, Rows: len(col.IDs), Elapsed: time.Since(start), Err: err}
			if err != nil {
				log.Error("category failed", zap.String("category", cat.Key), zap.Error(err))
				return nil
			}
			columns[i] = col
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "access: run")
	}

	res := &Result{Households: hh, Points: points, Polder: memberships, Report: Report{Outcomes: outcomes}}
	for i, o := range outcomes {
		if o.Err == nil {
			res.Columns = append(res.Columns, columns[i])
		}
	}
	return res, nil
}

// link resolves the nearest asset of one category for every point and
// recomputes the distance with the haversine formula.
func (e *Engine) link(ctx context.Context, key string, points []geo.Point) (Column, error) {
	ix, err := e.index(key)
	if err != nil {
		return Column{}, err
	}
	matches, err := ix.NearestAll(ctx, points)
	if err != nil {
		return Column{}, eris.Wrapf(err, "access: nearest %s", key)
	}
	if err := checkMatches(key, len(points), matches, ix.Len()); err != nil {
		return Column{}, err
	}
	dist, err := geo.Distances(points, ix.Targets(matches))
	if err != nil {
		return Column{}, eris.Wrapf(err, "access: distances %s", key)
	}
	col := Column{Key: key, IDs: make([]int, len(matches)), Dist: dist}
	for i, m := range matches {
		col.IDs[i] = m.Index
	}
	return col, nil
}

// checkMatches requires exactly one match per household, each naming an
// asset inside [0, refs).
func checkMatches(key string, households int, matches []spatial.Match, refs int) error {
	if len(matches) != households {
		return eris.Wrapf(ErrRowCount, "%s: %d households, %d matches", key, households, len(matches))
	}
	for i, m := range matches {
		if m.Index < 0 || m.Index >= refs {
			return eris.Wrapf(ErrRowCount, "%s: household %d matched asset %d outside [0, %d)", key, i, m.Index, refs)
		}
	}
	return nil
}
