package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// MaxAutocompleteValues caps the distinct values offered per column.
const MaxAutocompleteValues = 200

// Filter is one (column, value) predicate
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Kpis summarizes the amount column of a row set
type Kpis struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Group is one aggregate bucket of a grouped view
type Group struct {
	Key   string  `json:"key"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

/*
Filter returns the rows matching filters together with their KPIs.
Filters on different columns are combined with AND, filters on the same
column with OR. Entries with an empty column or value, and columns the
dataset does not have, are ignored. "_row_id" matches the row ID exactly;
every other column matches a case-insensitive substring.
*/
func (s *Store) Filter(ctx context.Context, datasetID string, filters []Filter) ([]Row, Kpis, error) {
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, Kpis{}, err
	}
	all, err := loadRows(ctx, s.db, datasetID)
	if err != nil {
		return nil, Kpis{}, err
	}
	matched := applyFilters(ds, all, filters)
	return matched, computeKpis(ds, matched), nil
}

// Group aggregates the filtered rows by column, largest sum first.
func (s *Store) Group(ctx context.Context, datasetID string, filters []Filter, column string) ([]Group, error) {
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if !ds.HasColumn(column) && !isDerivedColumn(column) {
		return nil, fmt.Errorf("column %q: %w", column, ErrUnknownColumn)
	}
	all, err := loadRows(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}
	return groupRows(ds, applyFilters(ds, all, filters), column), nil
}

// Kpis computes the KPIs of the whole dataset
func (s *Store) Kpis(ctx context.Context, datasetID string) (Kpis, error) {
	return datasetKpis(ctx, s.db, datasetID)
}

func datasetKpis(ctx context.Context, q queryer, datasetID string) (Kpis, error) {
	ds, err := getDataset(ctx, q, datasetID)
	if err != nil {
		return Kpis{}, err
	}
	all, err := loadRows(ctx, q, datasetID)
	if err != nil {
		return Kpis{}, err
	}
	return computeKpis(ds, all), nil
}

// Autocomplete returns up to MaxAutocompleteValues sorted distinct values per column,
// including the derived status and priority columns. Saved lists for a column are
// merged with its cell values.
func (s *Store) Autocomplete(ctx context.Context, datasetID string) (map[string][]string, error) {
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	all, err := loadRows(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}
	saved, err := autocompleteLists(ctx, s.db)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ds.Columns)+2)
	for _, c := range ds.Columns {
		names = append(names, c.Name)
	}
	names = append(names, ColRowStatus, ColPriority)

	out := make(map[string][]string, len(names))
	for _, name := range names {
		seen := map[string]struct{}{}
		for _, v := range saved[name] {
			seen[v] = struct{}{}
		}
		for i := range all {
			v := strings.TrimSpace(cellValue(&all[i], name))
			if v != "" {
				seen[v] = struct{}{}
			}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		if len(values) > MaxAutocompleteValues {
			values = values[:MaxAutocompleteValues]
		}
		out[name] = values
	}
	return out, nil
}

func applyFilters(ds *Dataset, rows []Row, filters []Filter) []Row {
	type clause struct {
		column string
		values []string
	}
	var clauses []*clause
	byColumn := map[string]*clause{}
	for _, f := range filters {
		if f.Column == "" || f.Value == "" {
			continue
		}
		if !ds.HasColumn(f.Column) && !isDerivedColumn(f.Column) {
			continue
		}
		c, ok := byColumn[f.Column]
		if !ok {
			c = &clause{column: f.Column}
			byColumn[f.Column] = c
			clauses = append(clauses, c)
		}
		c.values = append(c.values, f.Value)
	}

	// "_row_id" values that are not integers are dropped; a clause left empty is skipped.
	for _, c := range clauses {
		if c.column != ColRowID {
			continue
		}
		var ids []string
		for _, v := range c.values {
			if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				ids = append(ids, strconv.FormatInt(id, 10))
			}
		}
		c.values = ids
	}

	out := make([]Row, 0, len(rows))
	for i := range rows {
		keep := true
		for _, c := range clauses {
			if len(c.values) == 0 {
				continue
			}
			if !matchesAny(&rows[i], c.column, c.values) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, rows[i])
		}
	}
	return out
}

func matchesAny(r *Row, column string, values []string) bool {
	cell := cellValue(r, column)
	if column == ColRowID {
		for _, v := range values {
			if cell == v {
				return true
			}
		}
		return false
	}
	cell = strings.ToLower(cell)
	for _, v := range values {
		if strings.Contains(cell, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func computeKpis(ds *Dataset, rows []Row) Kpis {
	k := Kpis{Count: len(rows)}
	amount := AmountColumn(ds.Columns)
	if amount == "" || len(rows) == 0 {
		return k
	}
	k.Min = math.Inf(1)
	k.Max = math.Inf(-1)
	for i := range rows {
		v := ParseAmount(rows[i].Values[amount])
		k.Total += v
		k.Min = math.Min(k.Min, v)
		k.Max = math.Max(k.Max, v)
	}
	k.Mean = k.Total / float64(len(rows))
	return k
}

func groupRows(ds *Dataset, rows []Row, column string) []Group {
	amount := AmountColumn(ds.Columns)
	groups := map[string]*Group{}
	var order []string
	for i := range rows {
		key := cellValue(&rows[i], column)
		g, ok := groups[key]
		if !ok {
			g = &Group{Key: key, Min: math.Inf(1), Max: math.Inf(-1)}
			groups[key] = g
			order = append(order, key)
		}
		var v float64
		if amount != "" {
			v = ParseAmount(rows[i].Values[amount])
		}
		g.Sum += v
		g.Count++
		g.Min = math.Min(g.Min, v)
		g.Max = math.Max(g.Max, v)
	}

	out := make([]Group, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.Mean = g.Sum / float64(g.Count)
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sum != out[j].Sum {
			return out[i].Sum > out[j].Sum
		}
		return out[i].Key < out[j].Key
	})
	return out
}
