// Package models provides the record types that flow through the EFT pipeline:
// raw input batches, typed transactions, anomaly records, per-bank daily
// aggregates and the batch quality report.
package models

import (
	"math"
	"sort"
)

// RawRecord is one untyped input row keyed by column name. A missing key, a nil
// value or a floating-point NaN all count as null.
type RawRecord map[string]any

// Batch is a bounded, ordered collection of raw records sharing one column set.
type Batch struct {
	Columns []string    `json:"columns"`
	Records []RawRecord `json:"records"`
}

// NewBatch builds a batch. When columns is empty the column set is the sorted union
// of record keys.
func NewBatch(columns []string, records []RawRecord) Batch {
	if len(columns) == 0 {
		columns = columnsOf(records)
	}
	return Batch{Columns: columns, Records: records}
}

func columnsOf(records []RawRecord) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Len returns the number of records.
func (b Batch) Len() int {
	return len(b.Records)
}

// HasColumn reports whether the column is part of the batch schema.
func (b Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Clone copies the batch and every record map so stages never share mutable state
// with their input.
func (b Batch) Clone() Batch {
	out := Batch{
		Columns: append([]string(nil), b.Columns...),
		Records: make([]RawRecord, len(b.Records)),
	}
	for i, r := range b.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// Clone returns a shallow copy of the record.
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Value returns the column value and whether it is non-null.
func (r RawRecord) Value(column string) (any, bool) {
	v, ok := r[column]
	if !ok || IsNull(v) {
		return nil, false
	}
	return v, true
}

// IsNull reports whether v is a null cell.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	default:
		return false
	}
}
