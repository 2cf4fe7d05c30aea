// Package policy implements the replication policy engine: given a
// candidate LocalitySet and a set of already-chosen servers, select
// additional servers so the union satisfies a configured placement rule
// (e.g. "any 3 of the present servers" or "across 3 availability zones").
//
// The quorum arithmetic here is grounded on the teacher's
// coordinator/internal/algorithm/quorum.go; the deterministic, sorted
// selection walk is grounded on the teacher's consistent-hash ring walk in
// coordinator/internal/algorithm/consistent_hash.go, adapted from "walk the
// ring picking unique physical nodes" to "walk the present-server set
// picking entries that satisfy a zone-diversity constraint".
package policy

import (
	"fmt"
	"sort"

	"github.com/devrev/pairdb/txlog/internal/locality"
)

// Policy decides whether a chosen subset of a LocalitySet satisfies a
// placement rule, and can extend a partial selection to a satisfying one.
type Policy interface {
	// Description returns a short human-readable description, used in
	// error messages and trace logging.
	Description() string

	// SatisfiedBy reports whether chosen (deduplicated, restricted to
	// entries present in set) satisfies the policy.
	SatisfiedBy(set *locality.Set, chosen []locality.Entry) bool

	// SelectAdditional returns the union of also with the minimal
	// additional entries from set needed to satisfy the policy, chosen
	// deterministically. also must already be present in set. Returns an
	// error if set cannot satisfy the policy even using every present
	// entry — a condition §4.1 and §7 treat as a fatal programmer error at
	// the caller (not enough healthy servers).
	SelectAdditional(set *locality.Set, also []locality.Entry) ([]locality.Entry, error)
}

// majorityOf mirrors the teacher's QuorumCalculator; kept distinct
// from AnyN's fixed N because "majority of whatever happens to be present"
// and "a caller-specified fixed replica count" are different policies with
// the same arithmetic shape.
func majorityOf(total int) int {
	return (total / 2) + 1
}

// AnyN requires at least N distinct, present servers — no locality
// diversity constraint. This is the Go analog of the teacher's
// "quorum"/"one"/"all" consistency levels, generalized to an arbitrary
// count.
type AnyN struct {
	N int
}

// Majority builds an AnyN requiring a strict majority of total servers,
// matching the teacher's QuorumCalculator.CalculateQuorum.
func Majority(total int) AnyN {
	return AnyN{N: majorityOf(total)}
}

func (p AnyN) Description() string {
	return fmt.Sprintf("any %d", p.N)
}

func (p AnyN) SatisfiedBy(set *locality.Set, chosen []locality.Entry) bool {
	return countPresent(set, chosen) >= p.N
}

func (p AnyN) SelectAdditional(set *locality.Set, also []locality.Entry) ([]locality.Entry, error) {
	chosen := presentUnique(set, also)
	if len(chosen) >= p.N {
		return chosen, nil
	}
	for _, e := range sortedCandidates(set, chosen) {
		chosen = append(chosen, e)
		if len(chosen) >= p.N {
			return chosen, nil
		}
	}
	return nil, fmt.Errorf("policy %q: only %d of %d required present servers available", p.Description(), len(chosen), p.N)
}

// AcrossZones requires Count total servers spanning at least Zones distinct
// values of ZoneKey — the Go analog of FDB's "across 3 zoneid" replication
// policy referenced in spec §4.1 and exercised by scenario S5.
type AcrossZones struct {
	ZoneKey string
	Zones   int
	Count   int
}

func (p AcrossZones) Description() string {
	return fmt.Sprintf("%d across %d %s", p.Count, p.Zones, p.ZoneKey)
}

func (p AcrossZones) SatisfiedBy(set *locality.Set, chosen []locality.Entry) bool {
	c := presentUnique(set, chosen)
	if len(c) < p.Count {
		return false
	}
	return len(distinctZones(set, c, p.ZoneKey)) >= p.Zones
}

func (p AcrossZones) SelectAdditional(set *locality.Set, also []locality.Entry) ([]locality.Entry, error) {
	if countDistinctZonesInSet(set, p.ZoneKey) < p.Zones {
		return nil, fmt.Errorf("policy %q: fewer than %d distinct %q values present", p.Description(), p.Zones, p.ZoneKey)
	}

	chosen := presentUnique(set, also)
	zonesUsed := distinctZones(set, chosen, p.ZoneKey)

	remaining := sortedCandidates(set, chosen)

	// Pass 1: prefer entries from zones not yet represented, to cover the
	// required zone diversity as cheaply as possible.
	var leftover []locality.Entry
	for _, e := range remaining {
		if p.SatisfiedBy(set, chosen) {
			break
		}
		z := set.Locality(e)[p.ZoneKey]
		if _, used := zonesUsed[z]; used {
			leftover = append(leftover, e)
			continue
		}
		chosen = append(chosen, e)
		zonesUsed[z] = struct{}{}
	}

	// Pass 2: fill out the remaining count from whatever is left, zone
	// diversity no longer being the blocker.
	for i := 0; !p.SatisfiedBy(set, chosen) && i < len(leftover); i++ {
		chosen = append(chosen, leftover[i])
	}

	if !p.SatisfiedBy(set, chosen) {
		return nil, fmt.Errorf("policy %q: present servers cannot satisfy policy even using all of them", p.Description())
	}
	return chosen, nil
}

func countPresent(set *locality.Set, entries []locality.Entry) int {
	return len(presentUnique(set, entries))
}

func presentUnique(set *locality.Set, entries []locality.Entry) []locality.Entry {
	seen := make(map[locality.Entry]struct{}, len(entries))
	out := make([]locality.Entry, 0, len(entries))
	for _, e := range entries {
		if !set.Contains(e) {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// sortedCandidates returns the present entries of set not already in
// chosen, in ascending order — the deterministic walk order required so
// that get_push_locations (spec §4.1) is reproducible given the same
// membership.
func sortedCandidates(set *locality.Set, chosen []locality.Entry) []locality.Entry {
	excluded := make(map[locality.Entry]struct{}, len(chosen))
	for _, e := range chosen {
		excluded[e] = struct{}{}
	}
	out := make([]locality.Entry, 0, set.Len())
	for _, e := range set.Entries() {
		if _, ok := excluded[e]; !ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func distinctZones(set *locality.Set, entries []locality.Entry, zoneKey string) map[string]struct{} {
	zones := make(map[string]struct{})
	for _, e := range entries {
		zones[set.Locality(e)[zoneKey]] = struct{}{}
	}
	return zones
}

func countDistinctZonesInSet(set *locality.Set, zoneKey string) int {
	return len(distinctZones(set, set.Entries(), zoneKey))
}
