// Package tag implements the opaque (locality, id) identifiers that route
// messages to log servers and back out to consumers.
package tag

import "fmt"

// Locality partitions tags into scopes. Positive small values denote
// region-local localities (region index into the cluster's configured
// regions). The negative values below are distinguished special scopes.
type Locality int8

const (
	// LocalitySpecial tags are broadcast to every log set regardless of its
	// own locality.
	LocalitySpecial Locality = -1
	// LocalityLogRouter tags are routed to the remote-region log router of
	// the local log set that produced them.
	LocalityLogRouter Locality = -2
	// LocalityTxs is the legacy system tag locality, retained for upgrades
	// from older generations of the cluster.
	LocalityTxs Locality = -3
)

// Tag identifies a stream of messages. Equality and hashing use both fields.
type Tag struct {
	Locality Locality
	ID       uint32
}

// TxsTag is the well-known legacy transaction-system tag.
var TxsTag = Tag{Locality: LocalityTxs, ID: 0}

// txsTagOldID is the fixed slot the legacy txs tag mapped to before
// per-tag hashing was introduced; best_location_for special-cases it so
// clusters upgrading from that generation keep reading from the same slot.
const txsTagOldID = 0

func (t Tag) String() string {
	return fmt.Sprintf("%d:%d", t.Locality, t.ID)
}

// Uniquify removes duplicate tags, preserving the first occurrence's order.
func Uniquify(tags []Tag) []Tag {
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// OldSlotID returns the slot this tag maps to under the legacy
// HasBestPolicyId scheme, honoring the txs-tag special case.
func (t Tag) OldSlotID() uint32 {
	if t == TxsTag {
		return txsTagOldID
	}
	return t.ID
}
