package layer

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/coastal-risk/infra-access/internal/geo"
)

// shapeToGeom converts a go-shp geometry to go-geom. Unsupported or nil
// shapes return nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return polyLineToMultiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		return polygonToMultiPolygon(s.Parts, s.Points)
	default:
		return nil
	}
}

func multiPoint(points []shp.Point) geom.T {
	if len(points) == 0 {
		return nil
	}
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return geom.NewMultiPointFlat(geom.XY, flat)
}

// partBounds returns the [start, end) point range of each shapefile part.
func partBounds(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < 0 || int(start) > end || end > n {
			continue
		}
		out = append(out, [2]int{int(start), end})
	}
	return out
}

func polyLineToMultiLineString(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	mls := geom.NewMultiLineString(geom.XY)
	for i, b := range partBounds(parts, len(points)) {
		ls := geom.NewLineStringFlat(geom.XY, flatCoords(points[b[0]:b[1]]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("layer: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon keeps every ring as its own polygon. Membership
// tests combine the rings with the even-odd rule, so holes still subtract.
func polygonToMultiPolygon(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for i, b := range partBounds(parts, len(points)) {
		ring := geom.NewLinearRingFlat(geom.XY, flatCoords(points[b[0]:b[1]]))
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("layer: skipping malformed polygon ring", zap.Int("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("layer: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatCoords(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// Reproject returns a copy of g with every vertex converted to lon/lat by p.
// Only the first two ordinates of each vertex are transformed.
func Reproject(g geom.T, p *geo.Projector) (geom.T, error) {
	if g == nil || p.Identity() {
		return g, nil
	}
	stride := g.Stride()
	flat := append([]float64(nil), g.FlatCoords()...)
	for i := 0; i+1 < len(flat); i += stride {
		pt, err := p.Project(flat[i], flat[i+1])
		if err != nil {
			return nil, eris.Wrapf(err, "layer: reproject vertex %d", i/stride)
		}
		flat[i], flat[i+1] = pt.Lon, pt.Lat
	}

	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(t.Layout(), flat), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(t.Layout(), flat, geom.NewMultiPointFlatOptionWithEnds(t.Ends())), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(t.Layout(), flat), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(t.Layout(), flat, t.Ends()), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(t.Layout(), flat, t.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(t.Layout(), flat, t.Endss()), nil
	default:
		return nil, eris.Errorf("layer: cannot reproject %T", g)
	}
}
