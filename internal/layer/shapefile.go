package layer

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReadShapefile reads every record of a shapefile. Attribute values are
// typed from the dBase field definitions; blank values become nil. Records
// whose shape cannot be converted keep a nil geometry so record order, and
// with it positional ids, is preserved.
func ReadShapefile(path string) (*Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	dbf := reader.Fields()
	l := &Layer{
		Name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Fields: make([]Field, len(dbf)),
	}
	for i, f := range dbf {
		l.Fields[i] = Field{Name: strings.TrimRight(f.String(), "\x00"), Kind: dbfKind(f)}
	}

	var unsupported int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			unsupported++
		}
		values := make([]any, len(dbf))
		for i := range dbf {
			values[i] = parseAttribute(reader.Attribute(i), l.Fields[i].Kind)
		}
		l.Features = append(l.Features, Feature{Geometry: g, Values: values})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "layer: read shapefile %s", path)
	}

	if unsupported > 0 {
		zap.L().Debug("layer: shapefile records without usable geometry",
			zap.String("path", path),
			zap.Int("records", unsupported),
		)
	}
	return l, nil
}

func dbfKind(f shp.Field) Kind {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return Integer
		}
		return Real
	case 'F':
		return Real
	default:
		return Text
	}
}

func parseAttribute(raw string, kind Kind) any {
	val := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if val == "" {
		return nil
	}
	switch kind {
	case Integer:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
		// Wide numeric columns sometimes overflow int64 or carry a decimal
		// point despite a zero precision.
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case Real:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return val
}
