package layer

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/coastal-risk/infra-access/internal/safefile"
)

// WriteGeoJSON writes l as a FeatureCollection. Property order follows the
// JSON encoder (sorted keys), so output is stable across runs.
func WriteGeoJSON(path string, l *Layer) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, len(l.Features))}
	for i, f := range l.Features {
		if len(f.Values) != len(l.Fields) {
			return eris.Errorf("layer: feature %d has %d values for %d fields", i, len(f.Values), len(l.Fields))
		}
		props := make(map[string]any, len(l.Fields))
		for j, field := range l.Fields {
			props[field.Name] = f.Values[j]
		}
		fc.Features[i] = &geojson.Feature{Geometry: f.Geometry, Properties: props}
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrapf(err, "layer: encode geojson %s", path)
	}

	out, err := safefile.Create(path)
	if err != nil {
		return err
	}
	defer out.Abort()
	if _, err := out.Write(data); err != nil {
		return eris.Wrapf(err, "layer: write geojson %s", path)
	}
	return out.Commit()
}

// ReadGeoJSON reads a FeatureCollection. Fields are the union of property
// names in sorted order; a numeric column whose values are all whole numbers
// is typed Integer.
func ReadGeoJSON(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read geojson %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "layer: decode geojson %s", path)
	}

	seen := map[string]bool{}
	var names []string
	for _, f := range fc.Features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	l := &Layer{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Fields:   make([]Field, len(names)),
		Features: make([]Feature, len(fc.Features)),
	}
	for j, name := range names {
		l.Fields[j] = Field{Name: name, Kind: jsonKind(fc.Features, name)}
	}
	for i, f := range fc.Features {
		values := make([]any, len(names))
		for j, name := range names {
			v := f.Properties[name]
			if n, ok := v.(float64); ok && l.Fields[j].Kind == Integer {
				v = int64(n)
			}
			values[j] = v
		}
		l.Features[i] = Feature{Geometry: f.Geometry, Values: values}
	}
	return l, nil
}

func jsonKind(features []*geojson.Feature, name string) Kind {
	numeric, whole := false, true
	for _, f := range features {
		switch v := f.Properties[name].(type) {
		case nil:
		case float64:
			numeric = true
			if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
				whole = false
			}
		default:
			return Text
		}
	}
	switch {
	case !numeric:
		return Text
	case whole:
		return Integer
	default:
		return Real
	}
}
