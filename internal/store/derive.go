package store

import (
	"strconv"
	"strings"
)

var (
	payGroupNames = []string{"pay group", "grupo de pago", "paygroup"}
	amountNames   = []string{"monto", "total", "amount", "total amount"}
)

// findPayGroupColumn returns the first column whose name identifies the pay group.
func findPayGroupColumn(columns []Column) string {
	return findColumn(columns, payGroupNames)
}

// AmountColumn returns the column KPIs and group aggregates are computed on, or "".
func AmountColumn(columns []Column) string {
	return findColumn(columns, amountNames)
}

func findColumn(columns []Column, names []string) string {
	for _, c := range columns {
		lower := strings.ToLower(strings.TrimSpace(c.Name))
		for _, n := range names {
			if lower == n {
				return c.Name
			}
		}
	}
	return ""
}

// PriorityFor maps a pay-group cell to a row priority.
func PriorityFor(payGroup string) string {
	val := strings.ToUpper(strings.TrimSpace(payGroup))
	switch {
	case val == "SCF" || val == "INTERCOMPANY":
		return PriorityHigh
	case strings.HasPrefix(val, "PAY GROUP"):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// rowStatus is Incomplete when any user column is blank or "0".
func rowStatus(columns []Column, values map[string]string) string {
	for _, c := range columns {
		v := strings.TrimSpace(values[c.Name])
		if v == "" || v == "0" {
			return StatusIncomplete
		}
	}
	return StatusComplete
}

// deriveRow recomputes the status and priority of r. Active priority rules
// loaded with ds override the pay-group priority.
func deriveRow(ds *Dataset, r *Row) {
	r.Status = rowStatus(ds.Columns, r.Values)
	base := PriorityMedium
	if ds.PayGroupColumn != "" {
		base = PriorityFor(r.Values[ds.PayGroupColumn])
	}
	r.Priority = applyRules(ds.rules, r.Values, base)
}

// ParseAmount parses a money cell, ignoring "$" and "," separators. Unparseable cells count as 0.
func ParseAmount(s string) float64 {
	s = cleanAmount(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func cleanAmount(s string) string {
	return strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
}

// cellValue returns the value of a user or derived column.
func cellValue(r *Row, column string) string {
	switch column {
	case ColRowID:
		return strconv.FormatInt(r.ID, 10)
	case ColRowStatus:
		return r.Status
	case ColPriority:
		return r.Priority
	default:
		return r.Values[column]
	}
}

func isDerivedColumn(column string) bool {
	return column == ColRowID || column == ColRowStatus || column == ColPriority
}
