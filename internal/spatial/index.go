// Package spatial provides the nearest-neighbour index used to link households
// to the closest asset of a category.
//
// Reference points are embedded on the unit sphere and stored in an S2 shape
// index, so nearest means smallest great-circle angle. Distances returned by
// the index are chord angles and must not be persisted; callers recompute
// kilometers with geo.Distance.
package spatial

import (
	"context"
	"errors"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"

	"github.com/coastal-risk/infra-access/internal/geo"
)

// ErrEmptyReference is returned when an index is built over zero points.
var ErrEmptyReference = errors.New("spatial: reference point set is empty")

// Match is the nearest reference point for one query point.
type Match struct {
	Index int            // position in the reference slice
	Angle s1.ChordAngle // index-space distance, not kilometers
}

// Index answers nearest-reference queries. It is built once and may be
// queried from several goroutines.
type Index struct {
	points []geo.Point
	shapes *s2.ShapeIndex
}

// NewIndex builds an index over the reference points. Points keep their
// slice position as id. Ties between equidistant references are resolved by
// S2 traversal order and are not otherwise specified.
func NewIndex(points []geo.Point) (*Index, error) {
	if len(points) == 0 {
		return nil, ErrEmptyReference
	}

	vec := make(s2.PointVector, len(points))
	for i, p := range points {
		vec[i] = p.S2()
	}

	shapes := s2.NewShapeIndex()
	shapes.Add(&vec)
	shapes.Build()

	ref := make([]geo.Point, len(points))
	copy(ref, points)
	return &Index{points: ref, shapes: shapes}, nil
}

// Len returns the number of reference points.
func (ix *Index) Len() int {
	return len(ix.points)
}

// Point returns the reference point with the given id.
func (ix *Index) Point(id int) geo.Point {
	return ix.points[id]
}

func (ix *Index) newQuery() *s2.EdgeQuery {
	return s2.NewClosestEdgeQuery(ix.shapes, s2.NewClosestEdgeQueryOptions().MaxResults(1))
}

func nearest(q *s2.EdgeQuery, p geo.Point) (Match, error) {
	results := q.FindEdges(s2.NewMinDistanceToPointTarget(p.S2()))
	if len(results) == 0 {
		return Match{}, eris.Errorf("spatial: no reference found for (%f, %f)", p.Lon, p.Lat)
	}
	r := results[0]
	return Match{Index: int(r.EdgeID()), Angle: r.Distance()}, nil
}

// Nearest returns the reference point closest to p.
func (ix *Index) Nearest(p geo.Point) (Match, error) {
	return nearest(ix.newQuery(), p)
}

// NearestAll resolves every query point, reusing one query object.
func (ix *Index) NearestAll(ctx context.Context, points []geo.Point) ([]Match, error) {
	q := ix.newQuery()
	out := make([]Match, len(points))
	for i, p := range points {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "spatial: nearest all")
		}
		m, err := nearest(q, p)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Targets returns the reference point of every match, in match order.
func (ix *Index) Targets(matches []Match) []geo.Point {
	out := make([]geo.Point, len(matches))
	for i, m := range matches {
		out[i] = ix.points[m.Index]
	}
	return out
}
