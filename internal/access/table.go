package access

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/safefile"
)

// PolderIDColumn is the column carrying the polder identifier.
const PolderIDColumn = "Polder no."

var baseHeader = []string{
	"hid", "dwelling_type_class", "electric_class", "water_class", "toilet_class",
	"longitude", "latitude", "polder", PolderIDColumn,
}

// Header returns the table header for res: household attributes, polder
// tags, then dist_<key> for every column followed by id_<key>.
func Header(res *Result) []string {
	h := append([]string(nil), baseHeader...)
	for _, c := range res.Columns {
		h = append(h, household.DistColumn(c.Key))
	}
	for _, c := range res.Columns {
		h = append(h, household.IDColumn(c.Key))
	}
	return h
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Encode writes res as CSV. Floats use the shortest exact representation so
// identical inputs always produce identical bytes.
func Encode(w io.Writer, res *Result) error {
	for _, c := range res.Columns {
		if len(c.IDs) != len(res.Households) || len(c.Dist) != len(res.Households) {
			return eris.Wrapf(ErrRowCount, "column %s", c.Key)
		}
	}
	if len(res.Points) != len(res.Households) || len(res.Polder) != len(res.Households) {
		return eris.Wrap(ErrRowCount, "household attributes")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header(res)); err != nil {
		return eris.Wrap(err, "access: write header")
	}
	record := make([]string, 0, len(baseHeader)+2*len(res.Columns))
	for i, h := range res.Households {
		record = append(record[:0],
			h.HID, h.DwellingTypeClass, h.ElectricClass, h.WaterClass, h.ToiletClass,
			formatFloat(res.Points[i].Lon), formatFloat(res.Points[i].Lat),
			strconv.Itoa(res.Polder[i].Polder), res.Polder[i].ID,
		)
		for _, c := range res.Columns {
			record = append(record, formatFloat(c.Dist[i]))
		}
		for _, c := range res.Columns {
			record = append(record, strconv.Itoa(c.IDs[i]))
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrapf(err, "access: write row %d", i+1)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "access: flush table")
}

// WriteTable writes res to path. The file only appears once fully written.
func WriteTable(path string, res *Result) error {
	f, err := safefile.Create(path)
	if err != nil {
		return err
	}
	defer f.Abort()
	if err := Encode(f, res); err != nil {
		return eris.Wrapf(err, "access: write %s", path)
	}
	return f.Commit()
}
