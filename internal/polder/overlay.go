// Package polder tags household points with the embanked area (polder) that
// contains them.
package polder

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/coastal-risk/infra-access/internal/geo"
)

// Outside is the polder id written for households outside every polder.
const Outside = "0"

// Polygon is one embankment polygon and its polder identifier.
type Polygon struct {
	ID       string
	Geometry geom.T
}

// Membership is the overlay result for one point.
type Membership struct {
	Polder int    // 1 when inside a polder, else 0
	ID     string // polder id, Outside when Polder is 0
}

type area struct {
	id     string
	bounds *geom.Bounds
	rings  [][]float64
}

// Overlay answers point-in-polygon membership against a fixed polder set.
type Overlay struct {
	areas []area
}

// NewOverlay prepares the polygons for membership tests. Rings of a polygon
// are combined with the even-odd rule, so holes and multi-part polygons are
// both honoured.
func NewOverlay(polygons []Polygon) (*Overlay, error) {
	o := &Overlay{areas: make([]area, 0, len(polygons))}
	for i, p := range polygons {
		rings, err := ringsOf(p.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "polder: polygon %d (%s)", i, p.ID)
		}
		if len(rings) == 0 {
			continue
		}
		o.areas = append(o.areas, area{id: p.ID, bounds: p.Geometry.Bounds(), rings: rings})
	}
	return o, nil
}

func ringsOf(g geom.T) ([][]float64, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonRings(t), nil
	case *geom.MultiPolygon:
		var rings [][]float64
		for i := 0; i < t.NumPolygons(); i++ {
			rings = append(rings, polygonRings(t.Polygon(i))...)
		}
		return rings, nil
	case nil:
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}

func polygonRings(p *geom.Polygon) [][]float64 {
	rings := make([][]float64, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		if r.NumCoords() < 3 {
			continue
		}
		rings = append(rings, r.FlatCoords())
	}
	return rings
}

// Len returns the number of usable polygons.
func (o *Overlay) Len() int {
	return len(o.areas)
}

func (a *area) contains(c geom.Coord) bool {
	if !a.bounds.OverlapsPoint(geom.XY, c) {
		return false
	}
	inside := false
	for _, ring := range a.rings {
		if xy.IsPointInRing(geom.XY, c, ring) {
			inside = !inside
		}
	}
	return inside
}

// Locate returns the membership of p. When polders overlap the last matching
// polygon in layer order wins; matches reports how many polygons contained p.
func (o *Overlay) Locate(p geo.Point) (m Membership, matches int) {
	m = Membership{Polder: 0, ID: Outside}
	c := geom.Coord{p.Lon, p.Lat}
	for i := range o.areas {
		if o.areas[i].contains(c) {
			m = Membership{Polder: 1, ID: o.areas[i].id}
			matches++
		}
	}
	return m, matches
}

// LocateAll tags every point and returns the number of points that fell in
// more than one polder.
func (o *Overlay) LocateAll(points []geo.Point) ([]Membership, int) {
	out := make([]Membership, len(points))
	overlaps := 0
	for i, p := range points {
		m, n := o.Locate(p)
		out[i] = m
		if n > 1 {
			overlaps++
		}
	}
	return out, overlaps
}
