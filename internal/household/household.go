// Package household reads the synthetic household tables, their wealth
// scores, and the household→asset linkage tables written by the
// accessibility stage.
package household

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// ErrDuplicateHID is returned when a household id appears more than once in
// a table that is joined on hid.
var ErrDuplicateHID = errors.New("household: duplicate hid")

// Origin tags the rural or urban subpopulation.
type Origin string

// Subpopulations, in processing order.
const (
	Rural Origin = "rural"
	Urban Origin = "urban"
)

// Origins lists every origin in processing order.
var Origins = []Origin{Rural, Urban}

// ParseOrigin validates an origin name.
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(strings.ToLower(strings.TrimSpace(s))); o {
	case Rural, Urban:
		return o, nil
	default:
		return "", eris.Errorf("household: unknown origin %q (want rural or urban)", s)
	}
}

// FileName is the household table name for one district and origin.
func FileName(origin Origin, district string) string {
	return string(origin) + "_" + district + ".csv"
}

// AccessFileName is the linkage table name for one district and origin.
func AccessFileName(origin Origin, district string) string {
	return string(origin) + "_infra_access_" + district + ".csv"
}

// WealthFileName is the wealth score table name for one origin.
func WealthFileName(origin Origin) string {
	return string(origin) + "_PCA_households.csv"
}

// Household is one row of the synthetic population. Class attributes are
// carried through verbatim.
type Household struct {
	HID               string  `csv:"hid"`
	DwellingTypeClass string  `csv:"dwelling_type_class"`
	Long              float64 `csv:"Long"`
	Lat               float64 `csv:"Lat"`
	ElectricClass     string  `csv:"electric_class"`
	WaterClass        string  `csv:"water_class"`
	ToiletClass       string  `csv:"toilet_class"`
}

// ReadHouseholds decodes a household table. All seven columns are required;
// extra columns are ignored.
func ReadHouseholds(r io.Reader) ([]Household, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err == io.EOF {
		return nil, eris.New("household: table has no header")
	}
	if err != nil {
		return nil, eris.Wrap(err, "household: read header")
	}
	dec.DisallowMissingColumns = true

	var out []Household
	for {
		var h Household
		err := dec.Decode(&h)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "household: decode row %d", len(out)+1)
		}
		out = append(out, h)
	}
	return out, nil
}

// CheckUnique returns ErrDuplicateHID if two households share an id.
func CheckUnique(hh []Household) error {
	seen := make(map[string]struct{}, len(hh))
	for _, h := range hh {
		if _, ok := seen[h.HID]; ok {
			return eris.Wrapf(ErrDuplicateHID, "hid %s", h.HID)
		}
		seen[h.HID] = struct{}{}
	}
	return nil
}

// Electrified reports whether an electric_class value denotes a connected
// household (class 1, written either as an integer or a float).
func Electrified(class string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(class), 64)
	return err == nil && v == 1
}
