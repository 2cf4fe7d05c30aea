// Package locality implements the attribute maps describing where a log
// server sits (zone, rack, region, data hall) and the derived index used by
// the replication policy engine to reason about which of a log set's
// currently-present servers can satisfy a policy.
package locality

import "sort"

// Data is a key -> value attribute map describing one server's placement,
// e.g. {"zone": "us-east-1a", "dc": "us-east"}.
type Data map[string]string

// Get returns the value for key and whether it was present.
func (d Data) Get(key string) (string, bool) {
	v, ok := d[key]
	return v, ok
}

// Clone returns an independent copy of d.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Entry is a dense index into a log set's server slice, exposed to the
// policy engine without leaking the log set's own bookkeeping.
type Entry int

// Set is the derived, currently-present view of a log set's servers: a dense
// array of entries plus their localities, rebuilt whenever server presence
// changes (see logset.LogSet.UpdateLocalitySet). The policy engine selects
// replicas only from a Set, never from absent servers.
type Set struct {
	entries    []Entry
	localities map[Entry]Data
}

// NewSet builds a Set from the given present entries and their localities.
// present and localities must have the same length and correspond by index.
func NewSet(present []Entry, localities []Data) *Set {
	s := &Set{
		entries:    append([]Entry(nil), present...),
		localities: make(map[Entry]Data, len(present)),
	}
	for i, e := range present {
		s.localities[e] = localities[i]
	}
	return s
}

// Entries returns the present entries, in ascending order.
func (s *Set) Entries() []Entry {
	out := append([]Entry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Locality returns the locality data for entry, or nil if entry is absent
// from the set.
func (s *Set) Locality(e Entry) Data {
	return s.localities[e]
}

// Len returns the number of present entries.
func (s *Set) Len() int {
	return len(s.entries)
}

// Contains reports whether e is present in the set.
func (s *Set) Contains(e Entry) bool {
	_, ok := s.localities[e]
	return ok
}
