package aggregate

import (
	"github.com/rotisserie/eris"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/household"
	"github.com/coastal-risk/infra-access/internal/layer"
)

// Row is the aggregation record of one asset. Rural and Urban hold counts in
// wealth label order.
type Row struct {
	ID         int
	Rural      []int
	RuralTotal int
	Urban      []int
	UrbanTotal int
	Total      int
}

// Build combines rural and urban counts for assets 0..assets-1. Every asset
// gets a row; a side with no links contributes zeros.
func Build(assets int, rural, urban Counts, labels []string) ([]Row, error) {
	for id := range rural {
		if id < 0 || id >= assets {
			return nil, eris.Errorf("aggregate: rural count for unknown asset %d", id)
		}
	}
	for id := range urban {
		if id < 0 || id >= assets {
			return nil, eris.Errorf("aggregate: urban count for unknown asset %d", id)
		}
	}

	rows := make([]Row, assets)
	for id := range rows {
		r := Row{ID: id, Rural: make([]int, len(labels)), Urban: make([]int, len(labels))}
		copy(r.Rural, rural[id])
		copy(r.Urban, urban[id])
		for i := range labels {
			r.RuralTotal += r.Rural[i]
			r.UrbanTotal += r.Urban[i]
		}
		r.Total = r.RuralTotal + r.UrbanTotal
		rows[id] = r
	}
	return rows, nil
}

// RuralColumns names the rural count columns in label order.
func RuralColumns(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = "rural_wealth" + l
	}
	return out
}

// UrbanColumns names the urban count columns. Names run in reverse label
// order while the values stay in label order, so the column named after the
// last label holds the first label's count. Downstream consumers depend on
// this naming.
func UrbanColumns(labels []string) []string {
	out := make([]string, len(labels))
	for i := range labels {
		out[i] = "urban_wealth" + labels[len(labels)-1-i]
	}
	return out
}

// Attach returns a copy of the asset layer named name with the category's
// id column and the count columns appended.
func Attach(t *asset.Table, rows []Row, labels []string, name string) (*layer.Layer, error) {
	if len(rows) != t.Len() || len(t.Layer.Features) != t.Len() {
		return nil, eris.Wrapf(ErrRowCount, "aggregate: %s has %d assets and %d rows", t.Category.Key, t.Len(), len(rows))
	}
	out := t.Layer.Clone()
	if name != "" {
		out.Name = name
	}

	n := len(rows)
	column := func(f func(Row) int) []any {
		vals := make([]any, n)
		for i, r := range rows {
			vals[i] = int64(f(r))
		}
		return vals
	}

	add := func(name string, vals []any) error {
		return out.AddField(layer.Field{Name: name, Kind: layer.Integer}, vals)
	}
	if err := add(household.IDColumn(t.Category.Key), column(func(r Row) int { return r.ID })); err != nil {
		return nil, eris.Wrap(err, "aggregate: attach")
	}
	for i, name := range RuralColumns(labels) {
		if err := add(name, column(func(r Row) int { return r.Rural[i] })); err != nil {
			return nil, eris.Wrap(err, "aggregate: attach")
		}
	}
	if err := add("rural_households", column(func(r Row) int { return r.RuralTotal })); err != nil {
		return nil, eris.Wrap(err, "aggregate: attach")
	}
	for i, name := range UrbanColumns(labels) {
		if err := add(name, column(func(r Row) int { return r.Urban[i] })); err != nil {
			return nil, eris.Wrap(err, "aggregate: attach")
		}
	}
	if err := add("urban_households", column(func(r Row) int { return r.UrbanTotal })); err != nil {
		return nil, eris.Wrap(err, "aggregate: attach")
	}
	if err := add("households", column(func(r Row) int { return r.Total })); err != nil {
		return nil, eris.Wrap(err, "aggregate: attach")
	}
	return out, nil
}
