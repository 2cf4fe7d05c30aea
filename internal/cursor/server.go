package cursor

import (
	"context"
	"math"
	"sync"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// NoEnd marks an unbounded peek range: the cursor reads until the caller
// stops asking, never becoming exhausted on its own account.
var NoEnd = version.MessageVersion{Version: math.MaxUint64, Subsequence: math.MaxUint32}

// ServerCursor wraps one log-server handle plus a tag filter and a
// [begin, end) version range (spec §4.3 "Server cursor"). When
// parallelGetMore is set it keeps one extra fetch in flight so the cursor
// does not stall a full round-trip at a version boundary; that request
// carries an increasing sequence number so a reordered reply is never
// delivered ahead of the one the cursor is still consuming.
type ServerCursor struct {
	mu sync.Mutex

	h      *handle.Handle
	source Source
	tag    tag.Tag
	begin  version.MessageVersion
	end    version.MessageVersion

	messages []Message
	idx      int

	curVersion      version.MessageVersion
	hasMsg          bool
	exhausted       bool
	poppedVersion   uint64
	maxKnownVersion uint64

	parallelGetMore bool
	sequence        int
	pending         chan fetchResult

	noMore bool

	failedOnce sync.Once
	failedCh   chan struct{}
	stopCh     chan struct{}
}

type fetchResult struct {
	reply Reply
	err   error
}

// NewServer creates a ServerCursor over h, reading tag t in [begin, end).
func NewServer(h *handle.Handle, source Source, t tag.Tag, begin, end version.MessageVersion, parallelGetMore bool) *ServerCursor {
	sc := &ServerCursor{
		h:               h,
		source:          source,
		tag:             t,
		begin:           begin,
		end:             end,
		curVersion:      begin,
		parallelGetMore: parallelGetMore,
		failedCh:        make(chan struct{}),
		stopCh:          make(chan struct{}),
	}
	go sc.watchFailure()
	return sc
}

// Close releases the background failure watcher. Not part of the Cursor
// contract (the original's reference-counted drop has no direct Go
// analog); callers that construct ServerCursor directly should call it
// when done.
func (sc *ServerCursor) Close() {
	select {
	case <-sc.stopCh:
	default:
		close(sc.stopCh)
	}
}

func (sc *ServerCursor) watchFailure() {
	for {
		if _, present := sc.h.Get(); !present {
			sc.failedOnce.Do(func() { close(sc.failedCh) })
			return
		}
		select {
		case <-sc.h.OnChange():
		case <-sc.stopCh:
			return
		}
	}
}

func (sc *ServerCursor) HasMessage() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.hasMsg
}

func (sc *ServerCursor) GetMessage() []byte {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.messages[sc.idx].Body
}

func (sc *ServerCursor) GetTags() []tag.Tag {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.messages[sc.idx].Tags
}

func (sc *ServerCursor) Version() version.MessageVersion {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.curVersion
}

func (sc *ServerCursor) NextMessage() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.idx++
	if sc.idx < len(sc.messages) {
		sc.curVersion = sc.messages[sc.idx].Version
		sc.hasMsg = true
		return
	}
	sc.hasMsg = false
	sc.curVersion = version.Boundary(sc.begin.Version)
	sc.messages = nil
	sc.idx = 0
}

func (sc *ServerCursor) AdvanceTo(v version.MessageVersion) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for sc.idx < len(sc.messages) && sc.messages[sc.idx].Version.Less(v) {
		sc.idx++
	}
	if sc.idx < len(sc.messages) {
		sc.curVersion = sc.messages[sc.idx].Version
		sc.hasMsg = true
		return
	}
	sc.hasMsg = false
	sc.messages = nil
	sc.idx = 0
	if sc.begin.Less(v) {
		sc.begin = v
	}
	sc.curVersion = sc.begin
}

func (sc *ServerCursor) GetMore(ctx context.Context) error {
	sc.mu.Lock()
	if sc.noMore {
		sc.mu.Unlock()
		panic("cursor: GetMore called on a clone-no-more snapshot")
	}
	if sc.hasMsg || sc.exhausted {
		sc.mu.Unlock()
		return nil
	}
	begin := sc.begin
	end := sc.end
	seq := sc.sequence
	sc.sequence++
	pending := sc.pending
	sc.pending = nil
	sc.mu.Unlock()

	var fr fetchResult
	if pending != nil {
		select {
		case fr = <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		reply, err := sc.source.Peek(ctx, begin, end, sc.tag, seq)
		fr = fetchResult{reply: reply, err: err}
	}
	if fr.err != nil {
		return fr.err
	}

	sc.mu.Lock()
	sc.applyReplyLocked(fr.reply)
	if sc.parallelGetMore && !sc.exhausted {
		sc.launchPrefetchLocked(ctx)
	}
	sc.mu.Unlock()
	return nil
}

func (sc *ServerCursor) applyReplyLocked(reply Reply) {
	sc.messages = reply.Messages
	sc.idx = 0
	sc.maxKnownVersion = reply.MaxKnownVersion
	if reply.PoppedVersion > sc.poppedVersion {
		sc.poppedVersion = reply.PoppedVersion
	}
	sc.begin = reply.End

	if len(sc.messages) > 0 {
		sc.hasMsg = true
		sc.curVersion = sc.messages[0].Version
	} else {
		sc.hasMsg = false
		sc.curVersion = reply.End
		if !reply.End.Less(sc.end) {
			sc.exhausted = true
		}
	}
}

func (sc *ServerCursor) launchPrefetchLocked(ctx context.Context) {
	ch := make(chan fetchResult, 1)
	sc.pending = ch
	begin, end, t, seq := sc.begin, sc.end, sc.tag, sc.sequence
	sc.sequence++
	go func() {
		reply, err := sc.source.Peek(ctx, begin, end, t, seq)
		ch <- fetchResult{reply: reply, err: err}
	}()
}

func (sc *ServerCursor) OnFailed() <-chan struct{} {
	return sc.failedCh
}

func (sc *ServerCursor) IsActive() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.exhausted {
		return false
	}
	_, present := sc.h.Get()
	return present
}

func (sc *ServerCursor) IsExhausted() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.exhausted
}

func (sc *ServerCursor) Popped() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.poppedVersion
}

func (sc *ServerCursor) MaxKnownVersion() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.maxKnownVersion
}

func (sc *ServerCursor) CloneNoMore() Cursor {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	clone := &ServerCursor{
		h:               sc.h,
		source:          sc.source,
		tag:             sc.tag,
		begin:           sc.begin,
		end:             sc.end,
		messages:        append([]Message(nil), sc.messages...),
		idx:             sc.idx,
		curVersion:      sc.curVersion,
		hasMsg:          sc.hasMsg,
		exhausted:       sc.exhausted,
		poppedVersion:   sc.poppedVersion,
		maxKnownVersion: sc.maxKnownVersion,
		noMore:          true,
		failedCh:        sc.failedCh,
		stopCh:          make(chan struct{}),
	}
	return clone
}
