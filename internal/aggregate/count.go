// Package aggregate turns household→asset links into per-asset household
// counts stratified by wealth band, and attaches them to the asset layers.
package aggregate

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/coastal-risk/infra-access/internal/household"
)

// ErrRowCount is returned when counted households do not add up to the
// households that entered the join.
var ErrRowCount = errors.New("aggregate: row count changed")

// Counts maps an asset id to household counts, one per wealth label.
type Counts map[int][]int

// Total returns the number of households counted.
func (c Counts) Total() int {
	n := 0
	for _, row := range c {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// CountStats describes the join behind a Counts.
type CountStats struct {
	Links     int // link rows offered
	Unmatched int // link rows with no wealth record (dropped by the inner join)
	Filtered  int // matched rows rejected by the filter
	Counted   int
}

// Count inner-joins links with wealth on hid, keeps rows accepted by keep
// (nil keeps all), and counts households per (asset id, wealth label). col
// selects the id within Link.IDs. Ids must fall in [0, assets) and every
// wealth band must be one of labels.
func Count(links []household.Link, col int, wealth *household.Wealth, labels []string, assets int, keep func(household.Link) bool) (Counts, CountStats, error) {
	stats := CountStats{Links: len(links)}
	labelIdx := make(map[string]int, len(labels))
	for i, l := range labels {
		labelIdx[l] = i
	}

	seen := make(map[string]struct{}, len(links))
	counts := make(Counts)
	for _, l := range links {
		if _, dup := seen[l.HID]; dup {
			return nil, stats, eris.Wrapf(household.ErrDuplicateHID, "aggregate: link hid %s", l.HID)
		}
		seen[l.HID] = struct{}{}

		group, ok := wealth.Groups[l.HID]
		if !ok {
			stats.Unmatched++
			continue
		}
		if keep != nil && !keep(l) {
			stats.Filtered++
			continue
		}
		if col < 0 || col >= len(l.IDs) {
			return nil, stats, eris.Errorf("aggregate: link %s has no id column %d", l.HID, col)
		}
		id := l.IDs[col]
		if id < 0 || id >= assets {
			return nil, stats, eris.Errorf("aggregate: household %s links to asset %d outside [0, %d)", l.HID, id, assets)
		}
		li, ok := labelIdx[group]
		if !ok {
			return nil, stats, eris.Errorf("aggregate: household %s has unknown wealth group %q", l.HID, group)
		}
		row := counts[id]
		if row == nil {
			row = make([]int, len(labels))
			counts[id] = row
		}
		row[li]++
		stats.Counted++
	}
	return counts, stats, nil
}

// Electrified returns a filter keeping households with electric_class 1,
// read from the wealth table when it has the column and from the link row
// otherwise.
func Electrified(wealth *household.Wealth) func(household.Link) bool {
	return func(l household.Link) bool {
		class := l.ElectricClass
		if wealth != nil && wealth.Electric != nil {
			if c, ok := wealth.Electric[l.HID]; ok {
				class = c
			}
		}
		return household.Electrified(class)
	}
}
