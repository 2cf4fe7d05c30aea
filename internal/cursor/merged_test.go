package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/txlog/internal/cursor"
)

// TestMergedCursorEmitsOnceQuorumAcks exercises scenario S2: 3 children
// (RF=3, AQ=1, quorum=2), two have the message at v=20, one does not yet.
// The merged cursor must emit as soon as 2 of 3 agree.
func TestMergedCursorEmitsOnceQuorumAcks(t *testing.T) {
	v := mv(20, 1)
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c2 := newFakeCursor(mv(0, 0))
	c0.setMessage(v, []byte("x"))
	c1.setMessage(v, []byte("x"))
	// c2 has no message yet but is still active (reported nothing at v).

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1, c2}, 2)
	assert.True(t, mc.HasMessage())
	assert.Equal(t, v, mc.Version())
	assert.Equal(t, []byte("x"), mc.GetMessage())
}

// TestMergedCursorWithholdsBelowQuorum: only 1 of 3 children report the
// message and the rest are exhausted (permanently gone) — quorum can never
// be reached, so the cursor must report !HasMessage() and, ultimately,
// exhaustion.
func TestMergedCursorWithholdsBelowQuorum(t *testing.T) {
	v := mv(20, 1)
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c2 := newFakeCursor(mv(0, 0))
	c0.setMessage(v, []byte("x"))
	c1.setExhausted()
	c2.setExhausted()

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1, c2}, 2)
	assert.False(t, mc.HasMessage())
	assert.True(t, mc.IsExhausted())
}

// TestMergedCursorLosingAckingChildrenOnRecompute mirrors S2's second
// half: once both the acking child and the never-reporting child are gone,
// a later recompute (triggered here by AdvanceTo, which always
// recomputes) must find quorum unreachable even though the message was
// momentarily visible.
func TestMergedCursorLosingAckingChildrenOnRecompute(t *testing.T) {
	v := mv(20, 1)
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c2 := newFakeCursor(mv(0, 0))
	c0.setMessage(v, []byte("x"))
	c1.setMessage(v, []byte("x"))

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1, c2}, 2)
	require.True(t, mc.HasMessage())

	// c1 (one of the two acking children) and c2 both fail permanently;
	// only c0 remains at v, which is below the quorum of 2.
	c1.setExhausted()
	c2.setExhausted()
	mc.AdvanceTo(v)
	assert.False(t, mc.HasMessage())
	assert.True(t, mc.IsExhausted())
}

// TestMergedCursorIgnoresStaleHasMessageFromInactiveChild covers the S2
// "kill one of the two acking servers" half directly against a child that,
// like a real ServerCursor whose handle just went absent, still reports
// HasMessage()==true at v because nothing ever clears it on failure (only
// IsActive() flips). The quorum count must not credit such a child.
func TestMergedCursorIgnoresStaleHasMessageFromInactiveChild(t *testing.T) {
	v := mv(20, 1)
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c2 := newFakeCursor(mv(0, 0))
	c0.setMessage(v, []byte("x"))
	c1.setMessage(v, []byte("x"))

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1, c2}, 2)
	require.True(t, mc.HasMessage())

	// c1 goes inactive without its cached hasMsg/version being reset, the
	// way a real ServerCursor behaves when its handle.Clear()s.
	c1.mu.Lock()
	c1.active = false
	c1.mu.Unlock()
	mc.AdvanceTo(v)

	assert.False(t, mc.HasMessage())
}

func TestMergedCursorPoppedIsMaxAcrossChildren(t *testing.T) {
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c0.mu.Lock()
	c0.poppedVersion = 10
	c0.mu.Unlock()
	c1.mu.Lock()
	c1.poppedVersion = 40
	c1.mu.Unlock()

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1}, 1)
	assert.Equal(t, uint64(40), mc.Popped())
}

func TestMergedCursorNextMessageAdvancesServedChildren(t *testing.T) {
	v := mv(5, 1)
	c0 := newFakeCursor(mv(0, 0))
	c1 := newFakeCursor(mv(0, 0))
	c0.setMessage(v, []byte("x"))
	c1.setMessage(v, []byte("x"))

	mc := cursor.NewMerged([]cursor.Cursor{c0, c1}, 2)
	require.True(t, mc.HasMessage())
	mc.NextMessage()

	assert.False(t, c0.HasMessage())
	assert.False(t, c1.HasMessage())
}
