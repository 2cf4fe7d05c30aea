package cursor_test

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/txlog/internal/cursor"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// fakeCursor is a directly-controllable cursor.Cursor stand-in for testing
// MergedCursor/SetCursor/MultiCursor in isolation from ServerCursor's RPC
// plumbing.
type fakeCursor struct {
	mu sync.Mutex

	hasMsg     bool
	curVersion version.MessageVersion
	body       []byte
	tags       []tag.Tag

	exhausted       bool
	active          bool
	poppedVersion   uint64
	maxKnownVersion uint64

	failedCh chan struct{}

	getMoreCh chan struct{} // if non-nil, GetMore blocks until this closes
}

func newFakeCursor(v version.MessageVersion) *fakeCursor {
	return &fakeCursor{curVersion: v, active: true, failedCh: make(chan struct{})}
}

func (f *fakeCursor) HasMessage() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.hasMsg }
func (f *fakeCursor) GetMessage() []byte { f.mu.Lock(); defer f.mu.Unlock(); return f.body }
func (f *fakeCursor) GetTags() []tag.Tag { f.mu.Lock(); defer f.mu.Unlock(); return f.tags }
func (f *fakeCursor) Version() version.MessageVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curVersion
}

func (f *fakeCursor) NextMessage() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasMsg = false
}

func (f *fakeCursor) AdvanceTo(v version.MessageVersion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.curVersion.Less(v) {
		f.curVersion = v
		f.hasMsg = false
	}
}

func (f *fakeCursor) GetMore(ctx context.Context) error {
	f.mu.Lock()
	ch := f.getMoreCh
	f.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeCursor) OnFailed() <-chan struct{} { return f.failedCh }
func (f *fakeCursor) IsActive() bool            { f.mu.Lock(); defer f.mu.Unlock(); return f.active }
func (f *fakeCursor) IsExhausted() bool         { f.mu.Lock(); defer f.mu.Unlock(); return f.exhausted }
func (f *fakeCursor) Popped() uint64            { f.mu.Lock(); defer f.mu.Unlock(); return f.poppedVersion }
func (f *fakeCursor) MaxKnownVersion() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxKnownVersion
}
func (f *fakeCursor) CloneNoMore() cursor.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := &fakeCursor{
		hasMsg:          f.hasMsg,
		curVersion:      f.curVersion,
		body:            f.body,
		tags:            f.tags,
		exhausted:       f.exhausted,
		active:          f.active,
		poppedVersion:   f.poppedVersion,
		maxKnownVersion: f.maxKnownVersion,
		failedCh:        f.failedCh,
		getMoreCh:       f.getMoreCh,
	}
	return clone
}

func (f *fakeCursor) setMessage(v version.MessageVersion, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasMsg = true
	f.curVersion = v
	f.body = body
}

func (f *fakeCursor) setExhausted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhausted = true
	f.active = false
	f.hasMsg = false
}
