package access

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/geo"
	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/layer"
	"github.com/coastal-risk/infra-access/internal/polder"
	"github.com/coastal-risk/infra-access/internal/spatial"
)

func table(t *testing.T, key string, pts ...geo.Point) *asset.Table {
	t.Helper()
	l := &layer.Layer{Name: key, Fields: []layer.Field{{Name: "name", Kind: layer.Text}}}
	for i, p := range pts {
		l.Features = append(l.Features, layer.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}),
			Values:   []any{key + strconv.Itoa(i)},
		})
	}
	tbl, err := asset.NewTable(asset.Category{Name: key, Key: key}, l)
	require.NoError(t, err)
	return tbl
}

func households(pts ...geo.Point) []household.Household {
	hh := make([]household.Household, len(pts))
	for i, p := range pts {
		hh[i] = household.Household{
			HID: strconv.Itoa(1000 + i), DwellingTypeClass: "1", Long: p.Lon, Lat: p.Lat,
			ElectricClass: "1", WaterClass: "2", ToiletClass: "3",
		}
	}
	return hh
}

func TestRun_SingleAssetScenario(t *testing.T) {
	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	e := NewEngine(cat, nil, nil, 0)

	res, err := e.Run(context.Background(), households(
		geo.Point{Lon: 90.0, Lat: 23.0},
		geo.Point{Lon: 90.1, Lat: 23.1},
	))
	require.NoError(t, err)
	require.True(t, res.Report.OK())
	require.Len(t, res.Columns, 1)

	col := res.Columns[0]
	assert.Equal(t, "hospital", col.Key)
	assert.Equal(t, []int{0, 0}, col.IDs)
	assert.Equal(t, 0.0, col.Dist[0])
	assert.InDelta(t, 15.11, col.Dist[1], 0.02)
	assert.Equal(t, geo.Distance(geo.Point{Lon: 90.1, Lat: 23.1}, geo.Point{Lon: 90.0, Lat: 23.0}), col.Dist[1])

	for _, m := range res.Polder {
		assert.Equal(t, polder.Membership{Polder: 0, ID: polder.Outside}, m)
	}
}

func TestRun_IDsInRangeAndNearest(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	randPoint := func() geo.Point {
		return geo.Point{Lon: 88 + rng.Float64()*4, Lat: 21 + rng.Float64()*4}
	}

	var edu, shelter []geo.Point
	for range 40 {
		edu = append(edu, randPoint())
	}
	for range 7 {
		shelter = append(shelter, randPoint())
	}
	var hpts []geo.Point
	for range 300 {
		hpts = append(hpts, randPoint())
	}

	cat := asset.NewCatalog(table(t, "edu", edu...), table(t, "shelter", shelter...))
	res, err := NewEngine(cat, nil, nil, 2).Run(context.Background(), households(hpts...))
	require.NoError(t, err)
	require.Len(t, res.Columns, 2)

	refs := map[string][]geo.Point{"edu": edu, "shelter": shelter}
	for _, col := range res.Columns {
		ref := refs[col.Key]
		require.Len(t, col.IDs, len(hpts))
		for i, id := range col.IDs {
			require.GreaterOrEqual(t, id, 0)
			require.Less(t, id, len(ref))

			best := math.Inf(1)
			for _, r := range ref {
				best = math.Min(best, geo.Distance(hpts[i], r))
			}
			assert.InDelta(t, best, col.Dist[i], 1e-6, "%s household %d", col.Key, i)
		}
	}
}

func TestRun_PolderMembership(t *testing.T) {
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{
		{{89.9, 22.9}, {89.9, 23.05}, {90.05, 23.05}, {90.05, 22.9}, {89.9, 22.9}},
	})
	require.NoError(t, err)
	overlay, err := polder.NewOverlay([]polder.Polygon{{ID: "43/2", Geometry: poly}})
	require.NoError(t, err)

	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	res, err := NewEngine(cat, overlay, nil, 0).Run(context.Background(), households(
		geo.Point{Lon: 90.0, Lat: 23.0},
		geo.Point{Lon: 90.1, Lat: 23.1},
	))
	require.NoError(t, err)
	assert.Equal(t, polder.Membership{Polder: 1, ID: "43/2"}, res.Polder[0])
	assert.Equal(t, polder.Membership{Polder: 0, ID: polder.Outside}, res.Polder[1])
}

func TestRun_IsolatesFailingCategory(t *testing.T) {
	cat := asset.NewCatalog(
		table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}),
		table(t, "shelter"),
	)
	res, err := NewEngine(cat, nil, nil, 0).Run(context.Background(), households(geo.Point{Lon: 90.2, Lat: 23.2}))
	require.NoError(t, err)

	assert.False(t, res.Report.OK())
	assert.Equal(t, []string{"hospital"}, res.Report.Succeeded())
	failed := res.Report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "shelter", failed[0].Key)
	assert.True(t, errors.Is(failed[0].Err, spatial.ErrEmptyReference))

	require.Len(t, res.Columns, 1)
	assert.Equal(t, "hospital", res.Columns[0].Key)
	assert.Contains(t, res.Report.Err().Error(), "shelter")
}

func TestRun_DuplicateHID(t *testing.T) {
	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	hh := households(geo.Point{Lon: 90, Lat: 23}, geo.Point{Lon: 91, Lat: 22})
	hh[1].HID = hh[0].HID

	_, err := NewEngine(cat, nil, nil, 0).Run(context.Background(), hh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, household.ErrDuplicateHID))
}

func TestRun_ProjectsHouseholds(t *testing.T) {
	proj, err := geo.NewProjector(geo.WorldMercatorDef)
	require.NoError(t, err)

	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 0.0}))
	hh := households(geo.Point{Lon: 6378137 * math.Pi / 2, Lat: 0})

	res, err := NewEngine(cat, nil, proj, 0).Run(context.Background(), hh)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, res.Points[0].Lon, 1e-6)
	assert.InDelta(t, 0.0, res.Points[0].Lat, 1e-6)
	assert.InDelta(t, 0.0, res.Columns[0].Dist[0], 1e-3)
}

func TestRun_NoHouseholds(t *testing.T) {
	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	res, err := NewEngine(cat, nil, nil, 0).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Columns, 1)
	assert.Empty(t, res.Columns[0].IDs)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	_, err := NewEngine(cat, nil, nil, 0).Run(ctx, households(geo.Point{Lon: 90, Lat: 23}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_IndexBuiltOnce(t *testing.T) {
	cat := asset.NewCatalog(table(t, "hospital", geo.Point{Lon: 90.0, Lat: 23.0}))
	e := NewEngine(cat, nil, nil, 0)

	a, err := e.index("hospital")
	require.NoError(t, err)
	b, err := e.index("hospital")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = e.index("roadnode")
	require.Error(t, err)
}

func TestCheckMatches(t *testing.T) {
	ok := []spatial.Match{{Index: 0}, {Index: 2}}
	require.NoError(t, checkMatches("edu", 2, ok, 3))

	err := checkMatches("edu", 3, ok, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRowCount))
	assert.Contains(t, err.Error(), "3 households, 2 matches")

	err = checkMatches("edu", 2, []spatial.Match{{Index: 0}, {Index: 3}}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRowCount))
	assert.Contains(t, err.Error(), "asset 3 outside [0, 3)")

	err = checkMatches("edu", 1, []spatial.Match{{Index: -1}}, 3)
	assert.True(t, errors.Is(err, ErrRowCount))
}
