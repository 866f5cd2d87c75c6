// Package layer reads and writes vector feature layers (ESRI Shapefile,
// GeoPackage, GeoJSON) as an in-memory table of geometries and attributes.
package layer

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/coastal-risk/infra-access/internal/geo"
)

// Kind is the storage type of an attribute column.
type Kind int

const (
	// Text columns hold strings.
	Text Kind = iota
	// Integer columns hold int64 values.
	Integer
	// Real columns hold float64 values.
	Real
)

// String returns the SQL type name used for the kind.
func (k Kind) String() string {
	switch k {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Field describes one attribute column.
type Field struct {
	Name string
	Kind Kind
}

// Feature is one row: a geometry plus one value per layer field. Values are
// nil, string, int64 or float64.
type Feature struct {
	Geometry geom.T
	Values   []any
}

// Layer is a named feature table.
type Layer struct {
	Name     string
	Fields   []Field
	Features []Feature
}

// FieldIndex returns the position of the named field, or -1. Matching is
// case-insensitive, as shapefile field names are.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// AddField appends a column, filling existing features with the given values.
// values must have one entry per feature.
func (l *Layer) AddField(f Field, values []any) error {
	if len(values) != len(l.Features) {
		return eris.Errorf("layer: field %s has %d values for %d features", f.Name, len(values), len(l.Features))
	}
	if l.FieldIndex(f.Name) >= 0 {
		return eris.Errorf("layer: field %s already exists", f.Name)
	}
	l.Fields = append(l.Fields, f)
	for i := range l.Features {
		l.Features[i].Values = append(l.Features[i].Values, values[i])
	}
	return nil
}

// Clone returns a copy whose field list and value slices can be extended
// without touching l. Geometries are shared.
func (l *Layer) Clone() *Layer {
	out := &Layer{
		Name:     l.Name,
		Fields:   append([]Field(nil), l.Fields...),
		Features: make([]Feature, len(l.Features)),
	}
	for i, f := range l.Features {
		out.Features[i] = Feature{Geometry: f.Geometry, Values: append([]any(nil), f.Values...)}
	}
	return out
}

// Anchor returns the representative location of a geometry: the point itself
// for point layers, otherwise the first coordinate.
func Anchor(g geom.T) (geo.Point, bool) {
	if g == nil {
		return geo.Point{}, false
	}
	flat := g.FlatCoords()
	if len(flat) < 2 {
		return geo.Point{}, false
	}
	return geo.Point{Lon: flat[0], Lat: flat[1]}, true
}

// FormatValue renders an attribute value the way it is written to CSV.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Read loads a layer, choosing the reader by file extension. name selects a
// table inside multi-layer containers and is ignored for shapefiles.
func Read(path, name string) (*Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path)
	case ".gpkg":
		return ReadGeoPackage(path, name)
	case ".geojson", ".json":
		return ReadGeoJSON(path)
	default:
		return nil, eris.Errorf("layer: unsupported format %q", path)
	}
}

// Write persists a layer, choosing the writer by file extension.
func Write(path string, l *Layer) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		return WriteGeoPackage(path, l)
	case ".geojson", ".json":
		return WriteGeoJSON(path, l)
	default:
		return eris.Errorf("layer: unsupported output format %q", path)
	}
}
