// Package cursor implements the peek cursor family of spec §4.3: a common
// contract (Cursor) with four variants — ServerCursor, MergedCursor,
// SetCursor, and MultiCursor — that merge one or many per-server streams
// into a single per-tag, version-ordered message stream.
//
// The cooperative, single-threaded suspension points of the original
// (await on network reply, await on handle change) are expressed here as
// context-cancellable blocking calls and closed-channel notifications,
// following the same mutex-guarded-state-plus-accessor texture the teacher
// uses for StreamContext (storage-node/internal/service/streaming_service.go).
package cursor

import (
	"context"

	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// Message is one decoded tagged message as returned by a peek reply.
type Message struct {
	Version version.MessageVersion
	Tags    []tag.Tag
	Body    []byte
}

// Reply is one log server's answer to a peek request: spec §6 "Peek
// reply" — a version range filtered to the requested tag, plus the two
// server-side watermarks callers need to reason about durability and
// popping.
type Reply struct {
	Begin, End       version.MessageVersion
	Messages         []Message
	MaxKnownVersion  uint64
	PoppedVersion    uint64
}

// Source fetches peek replies from one log server. A real implementation
// issues the RPC described informally in spec §6; the wire format and
// transport are out of scope for this subsystem (spec §1), so Source is
// left as a seam any transport can implement.
type Source interface {
	Peek(ctx context.Context, begin version.MessageVersion, end version.MessageVersion, t tag.Tag, sequence int) (Reply, error)
}

// Cursor is the common contract every peek cursor variant implements,
// matching spec §4.3's operation table one-to-one.
type Cursor interface {
	// HasMessage reports whether a message is currently buffered and
	// ready. False only at a version boundary.
	HasMessage() bool
	// GetMessage returns the current message's body. Only callable if
	// HasMessage().
	GetMessage() []byte
	// GetTags returns the current message's tags. Only callable if
	// HasMessage().
	GetTags() []tag.Tag
	// Version returns the smallest possible (version, subsequence) of
	// the current or next message. Non-decreasing across NextMessage.
	Version() version.MessageVersion
	// NextMessage advances past the current message.
	NextMessage()
	// AdvanceTo skips forward to v, dropping any buffered messages
	// strictly before it.
	AdvanceTo(v version.MessageVersion)
	// GetMore suspends until new data is available or Version() would
	// change, returning early if ctx is done.
	GetMore(ctx context.Context) error
	// OnFailed returns a channel that closes once the underlying
	// server(s) are considered failed.
	OnFailed() <-chan struct{}
	// IsActive is false iff the cursor is exhausted or its servers are
	// failed or absent.
	IsActive() bool
	// IsExhausted is true iff no further messages are possible.
	IsExhausted() bool
	// Popped is a lower bound on messages the cursor might have skipped
	// due to popping. Non-decreasing across NextMessage/AdvanceTo.
	Popped() uint64
	// MaxKnownVersion is a version the underlying server(s) have observed
	// in this epoch: a ServerCursor reports its last reply's watermark,
	// MergedCursor and SetCursor the smallest such value among their
	// non-exhausted children, and MultiCursor the largest value seen
	// across its epochs. 0 is always a valid result.
	MaxKnownVersion() uint64
	// CloneNoMore returns a cheap snapshot that may be read but must not
	// have GetMore called on it.
	CloneNoMore() Cursor
}
