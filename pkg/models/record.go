package models

import (
	"encoding/json"
	"sort"
)

// RawRecord is a row as read from a feed: column name to cell text.
type RawRecord map[string]string

// CanonicalRecord is a normalized row. It is immutable once built.
type CanonicalRecord struct {
	values map[string]string
}

// NewCanonicalRecord copies values so later changes to the source map are not observed.
func NewCanonicalRecord(values map[string]string) CanonicalRecord {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return CanonicalRecord{values: cp}
}

func (r CanonicalRecord) Get(column string) string {
	return r.values[column]
}

func (r CanonicalRecord) Lookup(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

func (r CanonicalRecord) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

func (r CanonicalRecord) Len() int {
	return len(r.values)
}

// Columns returns the column names in lexical order.
func (r CanonicalRecord) Columns() []string {
	cols := make([]string, 0, len(r.values))
	for k := range r.values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Map returns a copy of the underlying values.
func (r CanonicalRecord) Map() map[string]string {
	cp := make(map[string]string, len(r.values))
	for k, v := range r.values {
		cp[k] = v
	}
	return cp
}

func (r CanonicalRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.values)
}

func (r *CanonicalRecord) UnmarshalJSON(b []byte) error {
	values := map[string]string{}
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	r.values = values
	return nil
}

// SideRecord is a canonical record with its origin in the input feed.
type SideRecord struct {
	Side   Side            `json:"side"`
	Row    int             `json:"row"`
	Record CanonicalRecord `json:"record"`
}
