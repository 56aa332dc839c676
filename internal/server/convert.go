package server

import (
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/store"
)

func toWireDataset(ds *store.Dataset, autocomplete map[string][]string) gateway.Dataset {
	cols := make([]gateway.Column, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		cols = append(cols, gateway.Column{Name: c.Name, Kind: c.Kind, Editable: c.Editable})
	}
	return gateway.Dataset{
		ID:           ds.ID,
		Name:         ds.Name,
		Columns:      cols,
		RowCount:     ds.RowCount,
		Autocomplete: autocomplete,
		CreatedAt:    ds.CreatedAt,
		UpdatedAt:    ds.UpdatedAt,
	}
}

func toWireRows(rows []store.Row) []gateway.Row {
	out := make([]gateway.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, gateway.Row{ID: r.ID, Status: r.Status, Priority: r.Priority, Values: r.Values})
	}
	return out
}

func toWireKpis(k store.Kpis) gateway.Kpis {
	return gateway.Kpis{Count: k.Count, Total: k.Total, Mean: k.Mean, Min: k.Min, Max: k.Max}
}

func toWireGroups(groups []store.Group) []gateway.Group {
	out := make([]gateway.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, gateway.Group{Key: g.Key, Sum: g.Sum, Mean: g.Mean, Min: g.Min, Max: g.Max, Count: g.Count})
	}
	return out
}

func toStoreFilters(filters []gateway.Filter) []store.Filter {
	out := make([]store.Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, store.Filter{Column: f.Column, Value: f.Value})
	}
	return out
}
