package household

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

type wealthRow struct {
	HID           string `csv:"hid"`
	WealthGroup   string `csv:"wealth_group"`
	ElectricClass string `csv:"electric_class,omitempty"`
}

// Wealth maps household ids to their wealth band for one origin.
type Wealth struct {
	Groups map[string]string
	// Electric holds electric_class per hid when the table carries it, and
	// is nil otherwise.
	Electric map[string]string
}

// Len returns the number of households with a wealth band.
func (w *Wealth) Len() int {
	return len(w.Groups)
}

// ReadWealth decodes a wealth score table (hid, wealth_group and optionally
// electric_class). A repeated hid is an error, since the table is joined on
// hid and duplicates would double-count households.
func ReadWealth(r io.Reader) (*Wealth, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err == io.EOF {
		return nil, eris.New("household: wealth table has no header")
	}
	if err != nil {
		return nil, eris.Wrap(err, "household: read wealth header")
	}

	hasHID, hasGroup, hasElectric := false, false, false
	for _, col := range dec.Header() {
		switch col {
		case "hid":
			hasHID = true
		case "wealth_group":
			hasGroup = true
		case "electric_class":
			hasElectric = true
		}
	}
	if !hasHID || !hasGroup {
		return nil, eris.New("household: wealth table needs hid and wealth_group columns")
	}

	w := &Wealth{Groups: make(map[string]string)}
	if hasElectric {
		w.Electric = make(map[string]string)
	}
	for line := 1; ; line++ {
		var row wealthRow
		err := dec.Decode(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "household: decode wealth row %d", line)
		}
		if _, dup := w.Groups[row.HID]; dup {
			return nil, eris.Wrapf(ErrDuplicateHID, "wealth table hid %s", row.HID)
		}
		w.Groups[row.HID] = row.WealthGroup
		if hasElectric {
			w.Electric[row.HID] = row.ElectricClass
		}
	}
	return w, nil
}
