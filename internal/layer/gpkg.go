package layer

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/coastal-risk/infra-access/internal/safefile"
)

const (
	gpkgApplicationID = 1196444487 // "GPKG"
	gpkgUserVersion   = 10300
	srsWGS84          = 4326
	geometryColumn    = "geom"
	fidColumn         = "fid"
)

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AXIS["Latitude",NORTH],AXIS["Longitude",EAST],AUTHORITY["EPSG","4326"]]`

// Envelope sizes in bytes, indexed by the header's envelope indicator.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL REFERENCES gpkg_contents(table_name),
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL REFERENCES gpkg_spatial_ref_sys(srs_id),
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	PRIMARY KEY (table_name, column_name)
);
`

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ReadGeoPackage reads a feature table from a GeoPackage. An empty name
// selects the first feature table in name order. The integer primary key
// is not exposed as a field; features come back in key order.
func ReadGeoPackage(path, name string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "layer: open geopackage %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open geopackage %s", path)
	}
	defer func() { _ = db.Close() }()

	table, geomCol, err := featureTable(db, name)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: geopackage %s", path)
	}

	fields, order, err := tableColumns(db, table, geomCol)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: geopackage %s table %s", path, table)
	}

	cols := []string{quoteIdent(geomCol)}
	for _, f := range fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + quoteIdent(table) + " ORDER BY " + order
	rows, err := db.Query(query)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: query %s in %s", table, path)
	}
	defer func() { _ = rows.Close() }()

	l := &Layer{Name: table, Fields: fields}
	for rows.Next() {
		var blob []byte
		values := make([]any, len(fields))
		dest := make([]any, len(fields)+1)
		dest[0] = &blob
		for i := range values {
			dest[i+1] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "layer: scan %s in %s", table, path)
		}
		g, err := decodeGeometry(blob)
		if err != nil {
			return nil, eris.Wrapf(err, "layer: feature %d of %s in %s", len(l.Features), table, path)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		l.Features = append(l.Features, Feature{Geometry: g, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "layer: iterate %s in %s", table, path)
	}
	return l, nil
}

func featureTable(db *sql.DB, name string) (string, string, error) {
	var table, column string
	var err error
	if name == "" {
		err = db.QueryRow(`SELECT table_name, column_name FROM gpkg_geometry_columns ORDER BY table_name LIMIT 1`).Scan(&table, &column)
	} else {
		err = db.QueryRow(`SELECT table_name, column_name FROM gpkg_geometry_columns WHERE table_name = ?`, name).Scan(&table, &column)
	}
	if err == sql.ErrNoRows {
		if name == "" {
			return "", "", eris.New("no feature tables")
		}
		return "", "", eris.Errorf("no feature table %q", name)
	}
	if err != nil {
		return "", "", eris.Wrap(err, "read gpkg_geometry_columns")
	}
	return table, column, nil
}

// tableColumns returns the attribute fields of table (excluding the
// geometry and integer primary key) and the ORDER BY expression.
func tableColumns(db *sql.DB, table, geomCol string) ([]Field, string, error) {
	rows, err := db.Query("PRAGMA table_info(" + quoteIdent(table) + ")")
	if err != nil {
		return nil, "", eris.Wrap(err, "table info")
	}
	defer func() { _ = rows.Close() }()

	order := "rowid"
	var fields []Field
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, "", eris.Wrap(err, "scan table info")
		}
		if strings.EqualFold(name, geomCol) {
			continue
		}
		if pk > 0 && strings.Contains(strings.ToUpper(typ), "INT") {
			order = quoteIdent(name)
			continue
		}
		fields = append(fields, Field{Name: name, Kind: sqlKind(typ)})
	}
	return fields, order, eris.Wrap(rows.Err(), "iterate table info")
}

func sqlKind(typ string) Kind {
	t := strings.ToUpper(typ)
	switch {
	case strings.Contains(t, "INT"):
		return Integer
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return Real
	default:
		return Text
	}
}

// decodeGeometry strips the GeoPackage binary header and parses the WKB body.
func decodeGeometry(b []byte) (geom.T, error) {
	if b == nil {
		return nil, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("not a geopackage geometry blob")
	}
	flags := b[3]
	if flags&0x20 != 0 {
		return nil, eris.New("extended geopackage geometry not supported")
	}
	env := int(flags>>1) & 0x07
	if env >= len(envelopeSizes) {
		return nil, eris.Errorf("invalid envelope indicator %d", env)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	off := 8 + envelopeSizes[env]
	if len(b) <= off {
		return nil, eris.New("truncated geopackage geometry blob")
	}
	g, err := wkb.Unmarshal(b[off:])
	if err != nil {
		return nil, eris.Wrap(err, "decode wkb")
	}
	return g, nil
}

// encodeGeometry prefixes the WKB encoding with a little-endian GeoPackage
// header. Non-point geometries carry an XY envelope.
func encodeGeometry(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode wkb")
	}
	var buf bytes.Buffer
	flags := byte(0x01)
	_, isPoint := g.(*geom.Point)
	withEnvelope := !isPoint && len(g.FlatCoords()) > 0
	if withEnvelope {
		flags |= 1 << 1
	}
	buf.Write([]byte{'G', 'P', 0, flags})
	_ = binary.Write(&buf, binary.LittleEndian, int32(srsWGS84))
	if withEnvelope {
		b := g.Bounds()
		_ = binary.Write(&buf, binary.LittleEndian, [4]float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)})
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

func geometryTypeName(l *Layer) string {
	name := ""
	for _, f := range l.Features {
		var n string
		switch f.Geometry.(type) {
		case nil:
			continue
		case *geom.Point:
			n = "POINT"
		case *geom.MultiPoint:
			n = "MULTIPOINT"
		case *geom.LineString:
			n = "LINESTRING"
		case *geom.MultiLineString:
			n = "MULTILINESTRING"
		case *geom.Polygon:
			n = "POLYGON"
		case *geom.MultiPolygon:
			n = "MULTIPOLYGON"
		default:
			return "GEOMETRY"
		}
		if name != "" && name != n {
			return "GEOMETRY"
		}
		name = n
	}
	if name == "" {
		return "GEOMETRY"
	}
	return name
}

func layerBounds(l *Layer) *geom.Bounds {
	var b *geom.Bounds
	for _, f := range l.Features {
		if f.Geometry == nil || len(f.Geometry.FlatCoords()) == 0 {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(f.Geometry)
	}
	return b
}

// WriteGeoPackage writes l as the only feature table of a new GeoPackage at
// path, replacing any existing file once the write has succeeded.
func WriteGeoPackage(path string, l *Layer) error {
	if l.Name == "" {
		return eris.New("layer: geopackage layer needs a name")
	}
	for _, f := range l.Fields {
		if strings.EqualFold(f.Name, fidColumn) || strings.EqualFold(f.Name, geometryColumn) {
			return eris.Errorf("layer: field name %q is reserved in geopackage output", f.Name)
		}
	}

	tmp, err := safefile.TempPath(path)
	if err != nil {
		return err
	}
	if err := writeGeoPackage(tmp, l); err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(tmp + "-journal")
		return eris.Wrapf(err, "layer: write geopackage %s", path)
	}
	return safefile.Publish(tmp, path)
}

func writeGeoPackage(path string, l *Layer) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "open")
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "close")
		}
	}()
	// A single connection keeps the pragmas and the transaction on one handle.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA application_id = " + strconv.Itoa(gpkgApplicationID),
		"PRAGMA user_version = " + strconv.Itoa(gpkgUserVersion),
	} {
		if _, err := db.Exec(stmt); err != nil {
			return eris.Wrapf(err, "exec %s", stmt)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(gpkgSchema); err != nil {
		return eris.Wrap(err, "create metadata tables")
	}
	if _, err := tx.Exec(`INSERT INTO gpkg_spatial_ref_sys VALUES
		('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
		('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
		('WGS 84 geodetic', ?, 'EPSG', ?, ?, 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid')`,
		srsWGS84, srsWGS84, wgs84WKT); err != nil {
		return eris.Wrap(err, "insert spatial reference systems")
	}

	cols := []string{
		quoteIdent(fidColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(geometryColumn) + " " + geometryTypeName(l),
	}
	for _, f := range l.Fields {
		cols = append(cols, quoteIdent(f.Name)+" "+f.Kind.String())
	}
	if _, err := tx.Exec("CREATE TABLE " + quoteIdent(l.Name) + " (" + strings.Join(cols, ", ") + ")"); err != nil {
		return eris.Wrapf(err, "create table %s", l.Name)
	}

	var minX, minY, maxX, maxY any
	if b := layerBounds(l); b != nil {
		minX, minY, maxX, maxY = b.Min(0), b.Min(1), b.Max(0), b.Max(1)
	}
	if _, err := tx.Exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`, l.Name, l.Name, minX, minY, maxX, maxY, srsWGS84); err != nil {
		return eris.Wrap(err, "insert gpkg_contents")
	}
	if _, err := tx.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, ?, ?, ?, 0, 0)`,
		l.Name, geometryColumn, geometryTypeName(l), srsWGS84); err != nil {
		return eris.Wrap(err, "insert gpkg_geometry_columns")
	}

	names := []string{quoteIdent(geometryColumn)}
	marks := []string{"?"}
	for _, f := range l.Fields {
		names = append(names, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	stmt, err := tx.Prepare("INSERT INTO " + quoteIdent(l.Name) + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		return eris.Wrap(err, "prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(l.Fields)+1)
	for i, f := range l.Features {
		if len(f.Values) != len(l.Fields) {
			return eris.Errorf("feature %d has %d values for %d fields", i, len(f.Values), len(l.Fields))
		}
		blob, err := encodeGeometry(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "feature %d", i)
		}
		args[0] = blob
		copy(args[1:], f.Values)
		if _, err := stmt.Exec(args...); err != nil {
			return eris.Wrapf(err, "insert feature %d", i)
		}
	}

	return eris.Wrap(tx.Commit(), "commit")
}
