// Package logset implements a single replication group of log servers: the
// LogSet type of spec §3/§4.1, including the preferred-placement hash and
// the policy-driven push-location selection.
package logset

import (
	"fmt"
	"sync"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/policy"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/txerr"
)

// BestPolicyKind selects the preferred-placement hashing rule described in
// spec §4.1.
type BestPolicyKind int

const (
	// HasBestPolicyNone means the policy engine alone picks servers; there
	// is no single preferred server per tag.
	HasBestPolicyNone BestPolicyKind = iota
	// HasBestPolicyID hashes tag.ID (with a legacy special case for the
	// txs tag) into the log server slice.
	HasBestPolicyID
)

// LogSet is an immutable-for-the-epoch replication group, with the
// exception that individual servers may transition present/absent (spec
// §3 "Lifecycle").
type LogSet struct {
	Handles           []*handle.Handle
	ReplicationFactor int
	AntiQuorum        int
	Policy            policy.Policy
	Locality          tag.Locality
	IsLocal           bool
	HasBestPolicy     BestPolicyKind

	// mu guards localitySet and serializes GetPushLocations. The original
	// source reuses alsoServers/resultEntries/newLocations across calls as
	// an allocation optimization and documents that this makes the method
	// non-reentrant on one LogSet (spec §5); here those slices are local to
	// each call, and a call made while mu is already held deadlocks.
	mu          sync.Mutex
	localitySet *locality.Set
}

// New constructs a LogSet, validating the invariants of spec §3. A
// violation is a fatal programmer error per spec §7 and is returned as an
// *txerr.LogError with code ErrFatalInvariant for the caller to route
// through txerr.Abort.
func New(handles []*handle.Handle, localities []locality.Data, replicationFactor, antiQuorum int, pol policy.Policy, loc tag.Locality, isLocal bool, hasBestPolicy BestPolicyKind) (*LogSet, error) {
	if replicationFactor < 1 {
		return nil, txerr.FatalInvariant("replication_factor must be >= 1", nil).WithDetail("replication_factor", replicationFactor)
	}
	if antiQuorum < 0 || antiQuorum >= replicationFactor {
		return nil, txerr.FatalInvariant("anti_quorum must satisfy 0 <= anti_quorum < replication_factor", nil).
			WithDetail("anti_quorum", antiQuorum).WithDetail("replication_factor", replicationFactor)
	}
	if len(handles) < replicationFactor {
		return nil, txerr.FatalInvariant("log_servers.len() must be >= replication_factor", nil).
			WithDetail("log_servers", len(handles)).WithDetail("replication_factor", replicationFactor)
	}
	if len(localities) != len(handles) {
		return nil, txerr.FatalInvariant("tlog_localities.len() must equal log_servers.len()", nil).
			WithDetail("localities", len(localities)).WithDetail("log_servers", len(handles))
	}

	ls := &LogSet{
		Handles:           handles,
		ReplicationFactor: replicationFactor,
		AntiQuorum:        antiQuorum,
		Policy:            pol,
		Locality:          loc,
		IsLocal:           isLocal,
		HasBestPolicy:     hasBestPolicy,
	}
	ls.updateLocalitySetLocked(localities)
	return ls, nil
}

// ReadQuorum is the number of children a merged cursor must see agree on a
// version before emitting it: replication_factor - anti_quorum (spec
// §4.3).
func (ls *LogSet) ReadQuorum() int {
	return ls.ReplicationFactor - ls.AntiQuorum
}

// BestLocationFor returns the index this tag prefers under the configured
// HasBestPolicy, or (-1, false) if HasBestPolicyNone.
func (ls *LogSet) BestLocationFor(t tag.Tag) (int, bool) {
	switch ls.HasBestPolicy {
	case HasBestPolicyNone:
		return -1, false
	case HasBestPolicyID:
		return int(t.OldSlotID()) % len(ls.Handles), true
	default:
		panic(fmt.Sprintf("logset: unsupported HasBestPolicy %d", ls.HasBestPolicy))
	}
}

// UpdateLocalitySet rebuilds the derived, present-only LocalitySet from the
// handles' current state. Must be called whenever a handle transitions
// present/absent (spec §4.1); callers typically do this from the handle's
// OnChange notification.
func (ls *LogSet) UpdateLocalitySet() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	localities := make([]locality.Data, len(ls.Handles))
	for i, h := range ls.Handles {
		localities[i] = h.Locality()
	}
	ls.updateLocalitySetLocked(localities)
}

func (ls *LogSet) updateLocalitySetLocked(localities []locality.Data) {
	var present []locality.Entry
	var presentLoc []locality.Data
	for i, h := range ls.Handles {
		if _, ok := h.Get(); ok {
			present = append(present, locality.Entry(i))
			presentLoc = append(presentLoc, localities[i])
		}
	}
	ls.localitySet = locality.NewSet(present, presentLoc)
}

// LocalitySet returns the current derived present-server view.
func (ls *LogSet) LocalitySet() *locality.Set {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.localitySet
}

// GetPushLocations is the placement primitive of spec §4.1: given the tags
// a message carries, it appends the (offset-shifted) indices of every log
// server that should receive the message to out.
//
// Not reentrant on the same LogSet — see the mu field's doc comment.
func (ls *LogSet) GetPushLocations(tags []tag.Tag, out *[]int, offset int) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var preferred []int
	if ls.HasBestPolicy != HasBestPolicyNone {
		for _, t := range tags {
			if t.Locality == ls.Locality || t.Locality == tag.LocalitySpecial || ls.Locality == tag.LocalitySpecial ||
				(ls.IsLocal && t.Locality == tag.LocalityLogRouter) {
				if loc, ok := ls.BestLocationFor(t); ok {
					preferred = append(preferred, loc)
				}
			}
		}
	}
	preferred = uniquifyInts(preferred)

	alsoServers := make([]locality.Entry, 0, len(preferred))
	for _, loc := range preferred {
		if !ls.localitySet.Contains(locality.Entry(loc)) {
			// The preferred server for this tag is currently absent; the
			// policy engine below will have to make do with whoever is
			// present, same as the original's reliance on the locality
			// map only containing present servers.
			continue
		}
		alsoServers = append(alsoServers, locality.Entry(loc))
	}

	chosen, err := ls.Policy.SelectAdditional(ls.localitySet, alsoServers)
	if err != nil {
		return txerr.FatalInvariant(fmt.Sprintf("get_push_locations: policy could not be satisfied from present servers: %v", err), err)
	}

	seen := make(map[int]struct{}, len(chosen))
	for _, loc := range preferred {
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		*out = append(*out, offset+loc)
	}
	for _, e := range chosen {
		loc := int(e)
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		*out = append(*out, offset+loc)
	}
	return nil
}

func uniquifyInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
