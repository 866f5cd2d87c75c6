package household

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Link is one row of a linkage table: a household and the nearest asset id
// for each requested category key.
type Link struct {
	HID           string
	ElectricClass string
	IDs           []int // parallel to the keys passed to StreamLinks
}

// IDColumn is the linkage column holding the nearest asset id for key.
func IDColumn(key string) string {
	return "id_" + key
}

// DistColumn is the linkage column holding the distance in km for key.
func DistColumn(key string) string {
	return "dist_" + key
}

// StreamLinks reads a linkage table and sends one Link per row. The header
// must contain hid and id_<key> for every key; electric_class is optional.
// Both channels are closed when reading completes; at most one error is sent.
func StreamLinks(ctx context.Context, r io.Reader, keys []string) (<-chan Link, <-chan error) {
	linkCh := make(chan Link, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(linkCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.ReuseRecord = true

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("household: linkage table has no header")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "household: read linkage header")
			return
		}
		cols := make(map[string]int, len(header))
		for i, name := range header {
			cols[strings.TrimSpace(name)] = i
		}

		hidCol, ok := cols["hid"]
		if !ok {
			errCh <- eris.New("household: linkage table has no hid column")
			return
		}
		elecCol, hasElec := cols["electric_class"]
		idCols := make([]int, len(keys))
		for i, key := range keys {
			c, ok := cols[IDColumn(key)]
			if !ok {
				errCh <- eris.Errorf("household: linkage table has no %s column", IDColumn(key))
				return
			}
			idCols[i] = c
		}

		for row := 1; ; row++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "household: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "household: read linkage row %d", row)
				return
			}

			link := Link{HID: record[hidCol], IDs: make([]int, len(keys))}
			if hasElec {
				link.ElectricClass = record[elecCol]
			}
			for i, c := range idCols {
				id, err := parseID(record[c])
				if err != nil {
					errCh <- eris.Wrapf(err, "household: row %d column %s", row, IDColumn(keys[i]))
					return
				}
				link.IDs[i] = id
			}

			select {
			case linkCh <- link:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "household: context cancelled")
				return
			}
		}
	}()

	return linkCh, errCh
}

// ReadLinks drains StreamLinks into a slice.
func ReadLinks(ctx context.Context, r io.Reader, keys []string) ([]Link, error) {
	linkCh, errCh := StreamLinks(ctx, r, keys)
	var out []Link
	for link := range linkCh {
		out = append(out, link)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

// parseID accepts integer ids, and whole-valued floats as written by
// tools that promote id columns to float.
func parseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("invalid asset id %q", s)
	}
	return int(f), nil
}
