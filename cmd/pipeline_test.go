package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/coastal-risk/infra-access/internal/layer"
)

func writePoints(t *testing.T, path string, coords ...[2]float64) {
	t.Helper()
	l := &layer.Layer{Name: "points", Fields: []layer.Field{{Name: "label", Kind: layer.Text}}}
	for i, c := range coords {
		l.Features = append(l.Features, layer.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{c[0], c[1]}),
			Values:   []any{string(rune('a' + i))},
		})
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, layer.WriteGeoPackage(path, l))
}

func TestPipeline_AccessThenAggregate(t *testing.T) {
	base := t.TempDir()
	writePoints(t, filepath.Join(base, "incoming", "hospitals.gpkg"), [2]float64{90.0, 23.0}, [2]float64{91.0, 22.0})
	writePoints(t, filepath.Join(base, "incoming", "shelters.gpkg"), [2]float64{90.5, 22.5})

	hh := "hid,dwelling_type_class,Long,Lat,electric_class,water_class,toilet_class\n"
	require.NoError(t, os.MkdirAll(filepath.Join(base, "hh"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "hh", "rural_Feni.csv"),
		[]byte(hh+"1,1,90.0,23.0,1,1,1\n2,1,90.1,23.1,0,1,1\n3,2,90.9,22.1,1,2,2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "hh", "urban_Feni.csv"),
		[]byte(hh+"4,1,91.0,22.0,1,1,1\n5,1,90.2,23.0,1,1,1\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(base, "wealth"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "wealth", "rural_PCA_households.csv"),
		[]byte("hid,wealth_group\n1,Q1\n2,Q3\n3,Q5\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "wealth", "urban_PCA_households.csv"),
		[]byte("hid,wealth_group\n4,Q2\n5,Q2\n"), 0o644))

	cfgYAML := `
paths:
  base: ` + base + `
  incoming: incoming
  households: hh
  access: access
  wealth: wealth
  results: results
districts: [Feni]
categories:
  - {name: Hospitals, key: hospital, path: hospitals.gpkg, output: hospital_households.gpkg, aggregate: true}
  - {name: Shelters, key: shelter, path: shelters.gpkg, output: shelter_households.gpkg, aggregate: true}
polders:
  path: ""
households:
  proj4: ""
store:
  driver: sqlite
  database_url: ` + filepath.Join(base, "runs.db") + `
log:
  level: error
`
	cfgPath := filepath.Join(base, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	rootCmd.SetArgs([]string{"--config", cfgPath, "access"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.FileExists(t, filepath.Join(base, "access", "rural_infra_access_Feni.csv"))
	assert.FileExists(t, filepath.Join(base, "access", "urban_infra_access_Feni.csv"))

	rootCmd.SetArgs([]string{"--config", cfgPath, "aggregate"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	out, err := layer.Read(filepath.Join(base, "results", "hospital_households.gpkg"), "nodes")
	require.NoError(t, err)
	require.Len(t, out.Features, 2)
	hhIdx := out.FieldIndex("households")
	require.GreaterOrEqual(t, hhIdx, 0)
	assert.Equal(t, int64(3), out.Features[0].Values[hhIdx])
	assert.Equal(t, int64(2), out.Features[1].Values[hhIdx])
	assert.Equal(t, int64(1), out.Features[0].Values[out.FieldIndex("urban_wealthQ4")], "urban Q2 count lands in the Q4-named column")

	shelters, err := layer.Read(filepath.Join(base, "results", "shelter_households.gpkg"), "nodes")
	require.NoError(t, err)
	require.Len(t, shelters.Features, 1)
	assert.Equal(t, int64(5), shelters.Features[0].Values[shelters.FieldIndex("households")])
}
