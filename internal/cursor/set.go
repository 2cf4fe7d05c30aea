package cursor

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/policy"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// SetCursor merges cursors drawn from more than one log set (e.g. a
// primary set plus a satellite set) for the same tag, serving a message
// once the servers currently reporting it satisfy the configured
// replication policy rather than a plain numeric quorum (spec §4.3
// "Set cursor"). entries records which locality.Entry each child
// corresponds to in full, the candidate set the policy is evaluated
// against.
type SetCursor struct {
	mu sync.Mutex

	children []Cursor
	entries  []locality.Entry
	full     *locality.Set
	pol      policy.Policy

	hasMsg     bool
	curVersion version.MessageVersion
	served     int

	exhausted       bool
	poppedVersion   uint64
	maxKnownVersion uint64

	failedCh   chan struct{}
	failedOnce sync.Once
}

// NewSet creates a SetCursor. len(children) must equal len(entries).
func NewSet(children []Cursor, entries []locality.Entry, full *locality.Set, pol policy.Policy) *SetCursor {
	sc := &SetCursor{
		children: children,
		entries:  entries,
		full:     full,
		pol:      pol,
		failedCh: make(chan struct{}),
	}
	sc.recomputeLocked()
	go sc.watchFailures()
	return sc
}

func (sc *SetCursor) watchFailures() {
	failed := make(chan int, len(sc.children))
	for i, c := range sc.children {
		i, c := i, c
		go func() {
			<-c.OnFailed()
			failed <- i
		}()
	}
	bad := make(map[int]struct{})
	for idx := range failed {
		bad[idx] = struct{}{}
		remaining := make([]locality.Entry, 0, len(sc.entries))
		for i, e := range sc.entries {
			if _, isBad := bad[i]; !isBad {
				remaining = append(remaining, e)
			}
		}
		if !sc.pol.SatisfiedBy(sc.full, remaining) {
			sc.failedOnce.Do(func() { close(sc.failedCh) })
			return
		}
	}
}

func (sc *SetCursor) OnFailed() <-chan struct{} {
	return sc.failedCh
}

func (sc *SetCursor) recomputeLocked() {
	var popped uint64
	allExhausted := true
	minKnown := ^uint64(0)
	haveKnown := false
	for _, c := range sc.children {
		if p := c.Popped(); p > popped {
			popped = p
		}
		if !c.IsExhausted() {
			allExhausted = false
			if mk := c.MaxKnownVersion(); !haveKnown || mk < minKnown {
				minKnown = mk
				haveKnown = true
			}
		}
	}
	sc.poppedVersion = popped
	if haveKnown {
		sc.maxKnownVersion = minKnown
	}

	if allExhausted {
		sc.exhausted = true
		sc.hasMsg = false
		return
	}

	haveMin := false
	var v version.MessageVersion
	for _, c := range sc.children {
		if c.HasMessage() {
			cv := c.Version()
			if !haveMin || cv.Less(v) {
				v = cv
				haveMin = true
			}
		}
	}
	if !haveMin {
		for _, c := range sc.children {
			if c.IsActive() {
				cv := c.Version()
				if !haveMin || cv.Less(v) {
					v = cv
					haveMin = true
				}
			}
		}
		sc.hasMsg = false
		sc.curVersion = v
		return
	}

	var atV []locality.Entry
	var pending []locality.Entry
	served := -1
	for i, c := range sc.children {
		if c.IsActive() && c.HasMessage() && c.Version() == v {
			atV = append(atV, sc.entries[i])
			if served < 0 {
				served = i
			}
			continue
		}
		if c.IsActive() && !c.HasMessage() {
			pending = append(pending, sc.entries[i])
		}
	}

	if sc.pol.SatisfiedBy(sc.full, atV) {
		sc.hasMsg = true
		sc.curVersion = v
		sc.served = served
		return
	}
	if sc.pol.SatisfiedBy(sc.full, append(append([]locality.Entry{}, atV...), pending...)) {
		sc.hasMsg = false
		sc.curVersion = v
		return
	}
	sc.exhausted = true
	sc.hasMsg = false
}

func (sc *SetCursor) HasMessage() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.hasMsg
}

func (sc *SetCursor) GetMessage() []byte {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.children[sc.served].GetMessage()
}

func (sc *SetCursor) GetTags() []tag.Tag {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.children[sc.served].GetTags()
}

func (sc *SetCursor) Version() version.MessageVersion {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.curVersion
}

func (sc *SetCursor) NextMessage() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	v := sc.curVersion
	for _, c := range sc.children {
		if c.HasMessage() && c.Version() == v {
			c.NextMessage()
		}
	}
	sc.recomputeLocked()
}

func (sc *SetCursor) AdvanceTo(v version.MessageVersion) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, c := range sc.children {
		c.AdvanceTo(v)
	}
	sc.recomputeLocked()
}

func (sc *SetCursor) GetMore(ctx context.Context) error {
	sc.mu.Lock()
	if sc.hasMsg || sc.exhausted {
		sc.mu.Unlock()
		return nil
	}
	toFetch := make([]Cursor, 0, len(sc.children))
	for _, c := range sc.children {
		if c.IsActive() && !c.HasMessage() {
			toFetch = append(toFetch, c)
		}
	}
	sc.mu.Unlock()

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

	sc.mu.Lock()
	sc.recomputeLocked()
	sc.mu.Unlock()
	return err
}

func (sc *SetCursor) IsActive() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return !sc.exhausted
}

func (sc *SetCursor) IsExhausted() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.exhausted
}

func (sc *SetCursor) Popped() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.poppedVersion
}

func (sc *SetCursor) MaxKnownVersion() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.maxKnownVersion
}

func (sc *SetCursor) CloneNoMore() Cursor {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	children := make([]Cursor, len(sc.children))
	for i, c := range sc.children {
		children[i] = c.CloneNoMore()
	}
	clone := &SetCursor{
		children:        children,
		entries:         append([]locality.Entry(nil), sc.entries...),
		full:            sc.full,
		pol:             sc.pol,
		hasMsg:          sc.hasMsg,
		curVersion:      sc.curVersion,
		served:          sc.served,
		exhausted:       sc.exhausted,
		poppedVersion:   sc.poppedVersion,
		maxKnownVersion: sc.maxKnownVersion,
		failedCh:        sc.failedCh,
	}
	return clone
}
