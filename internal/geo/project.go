package geo

import (
	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// lonLatDef is the proj4 definition of the geographic output frame.
const lonLatDef = "+proj=longlat +datum=WGS84 +no_defs"

// WorldMercatorDef is the proj4 definition of EPSG:3395, the frame the
// synthetic household generator writes its Long/Lat columns in.
const WorldMercatorDef = "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs"

// BTMDef is the proj4 definition of the Bangladesh Transverse Mercator
// grid used by several national infrastructure layers.
const BTMDef = "+proj=tmerc +lat_0=0 +lon_0=90 +k=0.9996 +x_0=500000 +y_0=-2000000 +ellps=evrst30 +towgs84=283.7,735.9,261.1,0,0,0,0 +units=m +no_defs"

// Projector converts source-frame coordinates to WGS84 longitude/latitude.
// The zero value is the identity.
type Projector struct {
	def   string
	trans proj.Transformer
}

// NewProjector builds a Projector for the given proj4 definition. An empty
// definition means the input is already longitude/latitude.
func NewProjector(def string) (*Projector, error) {
	if def == "" {
		return &Projector{}, nil
	}
	src, err := proj.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: parse projection %q", def)
	}
	dst, err := proj.Parse(lonLatDef)
	if err != nil {
		return nil, eris.Wrap(err, "geo: parse lon/lat projection")
	}
	trans, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: build transform from %q", def)
	}
	return &Projector{def: def, trans: trans}, nil
}

// Identity reports whether p leaves coordinates unchanged.
func (p *Projector) Identity() bool {
	return p == nil || p.trans == nil
}

// Project converts (x, y) to a lon/lat Point.
func (p *Projector) Project(x, y float64) (Point, error) {
	if p.Identity() {
		return Point{Lon: x, Lat: y}, nil
	}
	lon, lat, err := p.trans(x, y)
	if err != nil {
		return Point{}, eris.Wrapf(err, "geo: project (%f, %f)", x, y)
	}
	return Point{Lon: lon, Lat: lat}, nil
}
