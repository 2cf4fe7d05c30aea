package cursor

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// MergedCursor combines the N replica cursors of one log set for a single
// tag, serving a message only once quorum of them agree on it (spec §4.3
// "Merged cursor"). quorum is normally logset.LogSet.ReadQuorum().
type MergedCursor struct {
	mu sync.Mutex

	children []Cursor
	quorum   int

	hasMsg     bool
	curVersion version.MessageVersion
	served     int // index into children of the one GetMessage/GetTags reads from

	exhausted       bool
	poppedVersion   uint64
	maxKnownVersion uint64

	failedCh   chan struct{}
	failedOnce sync.Once
}

// NewMerged creates a MergedCursor over children, requiring quorum of them
// to agree before a message is released to the caller.
func NewMerged(children []Cursor, quorum int) *MergedCursor {
	mc := &MergedCursor{
		children: children,
		quorum:   quorum,
		failedCh: make(chan struct{}),
	}
	mc.recomputeLocked()
	go mc.watchFailures()
	return mc
}

func (mc *MergedCursor) watchFailures() {
	failed := make(chan int, len(mc.children))
	for i, c := range mc.children {
		i := i
		c := c
		go func() {
			<-c.OnFailed()
			failed <- i
		}()
	}
	count := 0
	active := len(mc.children)
	for range failed {
		count++
		if active-count < mc.quorum {
			mc.failedOnce.Do(func() { close(mc.failedCh) })
			return
		}
	}
}

func (mc *MergedCursor) OnFailed() <-chan struct{} {
	return mc.failedCh
}

// recomputeLocked derives hasMsg/curVersion/exhausted/poppedVersion/
// maxKnownVersion from the children's current state. Must hold mc.mu.
func (mc *MergedCursor) recomputeLocked() {
	var popped uint64
	allExhausted := true
	minKnown := ^uint64(0)
	haveKnown := false

	for _, c := range mc.children {
		if p := c.Popped(); p > popped {
			popped = p
		}
		if !c.IsExhausted() {
			allExhausted = false
			if mk := c.MaxKnownVersion(); !haveKnown || mk < minKnown {
				minKnown = mk
				haveKnown = true
			}
		} else if mk := c.MaxKnownVersion(); !haveKnown {
			minKnown = mk
		}
	}
	mc.poppedVersion = popped
	if haveKnown {
		mc.maxKnownVersion = minKnown
	}

	if allExhausted {
		mc.exhausted = true
		mc.hasMsg = false
		return
	}

	haveMin := false
	var v version.MessageVersion
	for _, c := range mc.children {
		if c.HasMessage() {
			cv := c.Version()
			if !haveMin || cv.Less(v) {
				v = cv
				haveMin = true
			}
		}
	}
	if !haveMin {
		// Nobody has a ready message yet; report the earliest boundary any
		// active child is sitting at so the caller knows where GetMore
		// will land, but don't claim a message exists.
		for _, c := range mc.children {
			if c.IsActive() {
				cv := c.Version()
				if !haveMin || cv.Less(v) {
					v = cv
					haveMin = true
				}
			}
		}
		mc.hasMsg = false
		mc.curVersion = v
		return
	}

	countAtV, notYetReported := 0, 0
	served := -1
	for i, c := range mc.children {
		if c.IsActive() && c.HasMessage() && c.Version() == v {
			countAtV++
			if served < 0 {
				served = i
			}
			continue
		}
		if c.IsActive() && !c.HasMessage() {
			notYetReported++
		}
	}

	if countAtV >= mc.quorum {
		mc.hasMsg = true
		mc.curVersion = v
		mc.served = served
		return
	}
	if countAtV+notYetReported >= mc.quorum {
		mc.hasMsg = false
		mc.curVersion = v
		return
	}
	// Quorum can never be reached at v: too many replicas are already past
	// it or permanently gone. Nothing more this cursor can do.
	mc.exhausted = true
	mc.hasMsg = false
}

func (mc *MergedCursor) HasMessage() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.hasMsg
}

func (mc *MergedCursor) GetMessage() []byte {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.children[mc.served].GetMessage()
}

func (mc *MergedCursor) GetTags() []tag.Tag {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.children[mc.served].GetTags()
}

func (mc *MergedCursor) Version() version.MessageVersion {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.curVersion
}

func (mc *MergedCursor) NextMessage() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	v := mc.curVersion
	for _, c := range mc.children {
		if c.HasMessage() && c.Version() == v {
			c.NextMessage()
		}
	}
	mc.recomputeLocked()
}

func (mc *MergedCursor) AdvanceTo(v version.MessageVersion) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, c := range mc.children {
		c.AdvanceTo(v)
	}
	mc.recomputeLocked()
}

func (mc *MergedCursor) GetMore(ctx context.Context) error {
	mc.mu.Lock()
	if mc.hasMsg || mc.exhausted {
		mc.mu.Unlock()
		return nil
	}
	toFetch := make([]Cursor, 0, len(mc.children))
	for _, c := range mc.children {
		if c.IsActive() && !c.HasMessage() {
			toFetch = append(toFetch, c)
		}
	}
	mc.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(toFetch))
	wg.Add(len(toFetch))
	for i, c := range toFetch {
		i, c := i, c
		go func() {
			defer wg.Done()
			errs[i] = c.GetMore(ctx)
		}()
	}
	wg.Wait()

	var err error
	for _, e := range errs {
		err = multierr.Append(err, e)
	}

	mc.mu.Lock()
	mc.recomputeLocked()
	mc.mu.Unlock()
	return err
}

func (mc *MergedCursor) IsActive() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return !mc.exhausted
}

func (mc *MergedCursor) IsExhausted() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.exhausted
}

func (mc *MergedCursor) Popped() uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.poppedVersion
}

func (mc *MergedCursor) MaxKnownVersion() uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.maxKnownVersion
}

func (mc *MergedCursor) CloneNoMore() Cursor {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	children := make([]Cursor, len(mc.children))
	for i, c := range mc.children {
		children[i] = c.CloneNoMore()
	}
	clone := &MergedCursor{
		children:        children,
		quorum:          mc.quorum,
		hasMsg:          mc.hasMsg,
		curVersion:      mc.curVersion,
		served:          mc.served,
		exhausted:       mc.exhausted,
		poppedVersion:   mc.poppedVersion,
		maxKnownVersion: mc.maxKnownVersion,
		failedCh:        mc.failedCh,
	}
	return clone
}
