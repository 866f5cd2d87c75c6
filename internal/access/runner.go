package access

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/store"
)

// Unit is one district × origin household table.
type Unit struct {
	District string
	Origin   household.Origin
}

// UnitResult is the outcome of one unit.
type UnitResult struct {
	Unit
	Path    string // written table, empty when nothing was written
	Rows    int
	Report  Report
	Err     error
	Elapsed time.Duration
}

// Runner drives the engine over districts and origins, reading household
// tables from HouseholdsDir and writing linkage tables to AccessDir.
type Runner struct {
	Engine        *Engine
	Log           store.Recorder
	HouseholdsDir string
	AccessDir     string
	Concurrency   int
	// AllowPartial writes a table whose categories did not all succeed,
	// leaving out the failed columns. Failures are reported either way.
	AllowPartial bool
}

// Units expands districts × origins in a stable order.
func Units(districts []string, origins []household.Origin) []Unit {
	out := make([]Unit, 0, len(districts)*len(origins))
	for _, d := range districts {
		for _, o := range origins {
			out = append(out, Unit{District: d, Origin: o})
		}
	}
	return out
}

// Run processes every unit, at most Concurrency at a time. Units are
// independent: a failing unit does not stop the others. The returned error
// is non-nil when any unit or category failed.
func (r *Runner) Run(ctx context.Context, units []Unit) ([]UnitResult, error) {
	log := zap.L().With(zap.String("component", "access.runner"))
	if r.Log == nil {
		r.Log = store.Discard{}
	}

	results := make([]UnitResult, len(units))
	var written, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if r.Concurrency > 0 {
		g.SetLimit(r.Concurrency)
	}
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = UnitResult{Unit: u, Err: eris.Wrap(err, "access: cancelled")}
				failed.Add(1)
				return nil
			}
			res := r.runUnit(gctx, u)
			results[i] = res
			if res.Path != "" {
				written.Add(1)
			}
			if res.Err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("accessibility run complete",
		zap.Int("units", len(units)),
		zap.Int64("written", written.Load()),
		zap.Int64("failed", failed.Load()),
	)
	if n := failed.Load(); n > 0 {
		return results, eris.Errorf("access: %d of %d tables failed", n, len(units))
	}
	return results, nil
}

func (r *Runner) runUnit(ctx context.Context, u Unit) UnitResult {
	start := time.Now()
	out := UnitResult{Unit: u}
	uLog := zap.L().With(
		zap.String("component", "access.runner"),
		zap.String("district", u.District),
		zap.String("origin", string(u.Origin)),
	)

	entry := store.RunEntry{Stage: store.StageAccess, District: u.District, Origin: string(u.Origin)}
	tableID, err := r.Log.Start(ctx, entry)
	if err != nil {
		uLog.Error("failed to record run start", zap.Error(err))
	}

	fail := func(err error) UnitResult {
		out.Err = err
		out.Elapsed = time.Since(start)
		uLog.Error("table failed", zap.Error(err), zap.Duration("elapsed", out.Elapsed))
		if tableID != "" {
			if logErr := r.Log.Fail(ctx, tableID, err.Error()); logErr != nil {
				uLog.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return out
	}

	in := filepath.Join(r.HouseholdsDir, household.FileName(u.Origin, u.District))
	hh, err := readHouseholds(in)
	if err != nil {
		return fail(err)
	}

	res, err := r.Engine.Run(ctx, hh)
	if err != nil {
		return fail(eris.Wrapf(err, "access: %s", in))
	}
	out.Report = res.Report
	r.recordCategories(ctx, entry, res.Report, uLog)

	reportErr := res.Report.Err()
	if reportErr != nil && !r.AllowPartial {
		return fail(eris.Wrap(reportErr, "access: table not written"))
	}

	path := filepath.Join(r.AccessDir, household.AccessFileName(u.Origin, u.District))
	if err := WriteTable(path, res); err != nil {
		return fail(err)
	}
	out.Path = path
	out.Rows = len(res.Households)

	if reportErr != nil {
		// Partial table written; the unit still counts as failed.
		return fail(eris.Wrapf(reportErr, "access: partial table %s", path))
	}

	out.Elapsed = time.Since(start)
	if tableID != "" {
		if err := r.Log.Complete(ctx, tableID, int64(out.Rows)); err != nil {
			uLog.Error("failed to record run completion", zap.Error(err))
		}
	}
	uLog.Info("table written",
		zap.String("path", path),
		zap.Int("households", out.Rows),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

func (r *Runner) recordCategories(ctx context.Context, entry store.RunEntry, rep Report, uLog *zap.Logger) {
	now := time.Now()
	for _, o := range rep.Outcomes {
		e := entry
		e.Category = o.Key
		e.StartedAt = now.Add(-o.Elapsed)
		id, err := r.Log.Start(ctx, e)
		if err != nil {
			uLog.Error("failed to record category", zap.String("category", o.Key), zap.Error(err))
			continue
		}
		if id == "" {
			continue
		}
		if o.Err != nil {
			err = r.Log.Fail(ctx, id, o.Err.Error())
		} else {
			err = r.Log.Complete(ctx, id, int64(o.Rows))
		}
		if err != nil {
			uLog.Error("failed to record category outcome", zap.String("category", o.Key), zap.Error(err))
		}
	}
}

func readHouseholds(path string) ([]household.Household, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "access: open households %s", path)
	}
	defer f.Close()
	hh, err := household.ReadHouseholds(f)
	if err != nil {
		return nil, eris.Wrapf(err, "access: read households %s", path)
	}
	return hh, nil
}
