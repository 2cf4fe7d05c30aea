package cursor

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// MultiCursor chains cursors across a sequence of epochs into one stream
// (spec §4.3 "Multi cursor", scenario S4): once the cursor for epoch i is
// exhausted, it moves on to epoch i+1's cursor. Each child cursor must
// already be bounded to its own epoch's [begin, end) range.
type MultiCursor struct {
	mu sync.Mutex

	cursors []Cursor
	idx     int

	poppedBaseline uint64
	knownBaseline  uint64

	failedCh   chan struct{}
	failedOnce sync.Once
}

// NewMulti creates a MultiCursor over cursors, ordered oldest epoch first.
func NewMulti(cursors []Cursor) *MultiCursor {
	if len(cursors) == 0 {
		panic("cursor: NewMulti requires at least one cursor")
	}
	mc := &MultiCursor{
		cursors:  cursors,
		failedCh: make(chan struct{}),
	}
	go mc.watchLastFailure()
	return mc
}

func (mc *MultiCursor) watchLastFailure() {
	last := mc.cursors[len(mc.cursors)-1]
	<-last.OnFailed()
	mc.failedOnce.Do(func() { close(mc.failedCh) })
}

func (mc *MultiCursor) OnFailed() <-chan struct{} {
	return mc.failedCh
}

func (mc *MultiCursor) current() Cursor {
	return mc.cursors[mc.idx]
}

// advanceEpochLocked moves past exhausted epochs, folding their watermarks
// into the running baseline so Popped/MaxKnownVersion stay monotonic
// across the epoch boundary.
func (mc *MultiCursor) advanceEpochLocked() {
	for mc.idx < len(mc.cursors)-1 && mc.cursors[mc.idx].IsExhausted() {
		if p := mc.cursors[mc.idx].Popped(); p > mc.poppedBaseline {
			mc.poppedBaseline = p
		}
		if k := mc.cursors[mc.idx].MaxKnownVersion(); k > mc.knownBaseline {
			mc.knownBaseline = k
		}
		mc.idx++
	}
}

func (mc *MultiCursor) HasMessage() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.current().HasMessage()
}

func (mc *MultiCursor) GetMessage() []byte {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.current().GetMessage()
}

func (mc *MultiCursor) GetTags() []tag.Tag {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.current().GetTags()
}

func (mc *MultiCursor) Version() version.MessageVersion {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.current().Version()
}

func (mc *MultiCursor) NextMessage() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.current().NextMessage()
	mc.advanceEpochLocked()
}

func (mc *MultiCursor) AdvanceTo(v version.MessageVersion) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.advanceEpochLocked()
	for i := mc.idx; i < len(mc.cursors); i++ {
		mc.cursors[i].AdvanceTo(v)
	}
	mc.advanceEpochLocked()
}

func (mc *MultiCursor) GetMore(ctx context.Context) error {
	mc.mu.Lock()
	cur := mc.current()
	mc.mu.Unlock()

	if err := cur.GetMore(ctx); err != nil {
		return err
	}

	mc.mu.Lock()
	mc.advanceEpochLocked()
	mc.mu.Unlock()
	return nil
}

func (mc *MultiCursor) IsActive() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return !mc.isExhaustedLocked()
}

func (mc *MultiCursor) IsExhausted() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.isExhaustedLocked()
}

func (mc *MultiCursor) isExhaustedLocked() bool {
	return mc.idx == len(mc.cursors)-1 && mc.cursors[mc.idx].IsExhausted()
}

func (mc *MultiCursor) Popped() uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	p := mc.current().Popped()
	if mc.poppedBaseline > p {
		return mc.poppedBaseline
	}
	return p
}

func (mc *MultiCursor) MaxKnownVersion() uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	k := mc.current().MaxKnownVersion()
	if mc.knownBaseline > k {
		return mc.knownBaseline
	}
	return k
}

func (mc *MultiCursor) CloneNoMore() Cursor {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	clones := make([]Cursor, len(mc.cursors))
	for i, c := range mc.cursors {
		clones[i] = c.CloneNoMore()
	}
	clone := &MultiCursor{
		cursors:        clones,
		idx:            mc.idx,
		poppedBaseline: mc.poppedBaseline,
		knownBaseline:  mc.knownBaseline,
		failedCh:       mc.failedCh,
	}
	return clone
}
