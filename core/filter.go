package core

import (
	"encoding/json"
	"fmt"
)

// Filter is a predicate over events. All present keys must hold; within one
// multi-valued key any value may match. An absent key or empty list is a
// wildcard. Tag constraints are keyed by single-letter tag name; the raw
// "#X" wire keys are translated at the boundary by ParseFilter, the core
// never sees them.
type Filter struct {
	IDs     []EventID
	Authors []PubKey
	Kinds   []int
	Since   int64
	Until   int64
	Limit   int
	Tags    map[byte][]string
}

// Wildcard returns true if f has no kind, author, or tag constraints, i.e.
// the subscription index cannot narrow candidates for it.
func (f *Filter) Wildcard() bool {
	return len(f.Kinds) == 0 && len(f.Authors) == 0 && len(f.Tags) == 0
}

// Matches returns whether e satisfies every constraint present in f.
func (f *Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsPubKey(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && e.CreatedAt > f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !tagValueIn(e, name, values) {
			return false
		}
	}
	return true
}

func containsID(ids []EventID, id EventID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func containsPubKey(pks []PubKey, pk PubKey) bool {
	for _, x := range pks {
		if x == pk {
			return true
		}
	}
	return false
}

func containsInt(xs []int, x int) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}

func tagValueIn(e *Event, name byte, values []string) bool {
	for _, t := range e.Tags {
		if t.Name() != name || len(t) < 2 {
			continue
		}
		for _, v := range values {
			if t[1] == v {
				return true
			}
		}
	}
	return false
}

// rawFilter mirrors the dynamic wire shape of a filter, where tag
// constraints appear as "#X" keys alongside the fixed ones.
type rawFilter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// ParseFilter decodes the wire encoding of a filter, translating "#X" keys
// into typed tag constraints.
func ParseFilter(b []byte) (*Filter, error) {
	var raw rawFilter
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal filter: %s", err)
	}
	f := &Filter{
		Since: raw.Since,
		Until: raw.Until,
		Limit: raw.Limit,
	}
	for _, s := range raw.IDs {
		id, err := NewEventID(s)
		if err != nil {
			return nil, fmt.Errorf("filter id %q: %s", s, err)
		}
		f.IDs = append(f.IDs, id)
	}
	for _, s := range raw.Authors {
		pk, err := NewPubKey(s)
		if err != nil {
			return nil, fmt.Errorf("filter author %q: %s", s, err)
		}
		f.Authors = append(f.Authors, pk)
	}
	f.Kinds = raw.Kinds

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal filter keys: %s", err)
	}
	for k, v := range fields {
		if len(k) != 2 || k[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(v, &values); err != nil {
			return nil, fmt.Errorf("unmarshal tag constraint %q: %s", k, err)
		}
		if f.Tags == nil {
			f.Tags = make(map[byte][]string)
		}
		f.Tags[k[1]] = values
	}
	return f, nil
}
