// Package version implements the ordered (version, subsequence) pair that
// tags every message flowing through the transaction log.
package version

import "fmt"

// MessageVersion orders every message in the log. Version is assigned by a
// commit coordinator; Subsequence is assigned by the push accumulator
// starting at 1 for the first message of a given Version. Subsequence 0 is a
// sentinel meaning "boundary between versions" — no real message ever carries
// it.
type MessageVersion struct {
	Version     uint64
	Subsequence uint32
}

// Boundary returns the sentinel version marking the start of Version v,
// strictly before any real message committed at v.
func Boundary(v uint64) MessageVersion {
	return MessageVersion{Version: v, Subsequence: 0}
}

// IsBoundary reports whether mv is a version-boundary sentinel.
func (mv MessageVersion) IsBoundary() bool {
	return mv.Subsequence == 0
}

// Less reports whether mv orders strictly before other, lexicographically by
// (Version, Subsequence).
func (mv MessageVersion) Less(other MessageVersion) bool {
	if mv.Version != other.Version {
		return mv.Version < other.Version
	}
	return mv.Subsequence < other.Subsequence
}

// LessOrEqual reports whether mv orders at or before other.
func (mv MessageVersion) LessOrEqual(other MessageVersion) bool {
	return mv == other || mv.Less(other)
}

// Min returns the lexicographically smaller of a and b.
func Min(a, b MessageVersion) MessageVersion {
	if a.Less(b) {
		return a
	}
	return b
}

// Max returns the lexicographically larger of a and b.
func Max(a, b MessageVersion) MessageVersion {
	if a.Less(b) {
		return b
	}
	return a
}

func (mv MessageVersion) String() string {
	return fmt.Sprintf("%d/%d", mv.Version, mv.Subsequence)
}
