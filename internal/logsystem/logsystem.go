// Package logsystem ties one epoch's log sets together behind the
// operations spec §4 describes at the log-system level: Push, Peek,
// Pop, ConfirmEpochLive, and the recovery handshake (EndEpoch,
// OnCoreStateChanged, ToCoreState). It implements push.Placer so the
// push accumulator can place messages without importing this package.
package logsystem

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/txlog/internal/cursor"
	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/logset"
	"github.com/devrev/pairdb/txlog/internal/push"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/txerr"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// PushClient is the seam a real transport implements to deliver a framed
// push buffer to one log server (spec §6 "Push request"). Left abstract
// for the same reason cursor.Source is: wire transport is out of scope
// here (spec §1).
type PushClient interface {
	Push(ctx context.Context, iface handle.Interface, ver uint64, buf []byte, tagOffsets map[tag.Tag][]int) error
}

// PopClient is the seam for the pop RPC (spec §6 "Pop request").
type PopClient interface {
	Pop(ctx context.Context, iface handle.Interface, t tag.Tag, upTo version.MessageVersion) error
}

// CoreState is the persisted, recovery-visible summary of a LogSystem, the
// Go analog of the original's DBCoreState/logSystemConfig distilled down
// to what this subsystem needs to hand off across a recovery (spec §5,
// supplemented from original_source/fdbserver/LogSystem.h's toCoreState).
type CoreState struct {
	Epoch    int64
	EndVersion uint64
	Ended    bool
	Sets     []SetCoreState
}

// SetCoreState is one log set's contribution to CoreState.
type SetCoreState struct {
	ServerIDs         []string
	ReplicationFactor int
	AntiQuorum        int
	PolicyDescription string
	Locality          tag.Locality
	IsLocal           bool
}

// LogSystem owns every log set active in one epoch.
type LogSystem struct {
	logger *zap.Logger

	Epoch int64

	mu   sync.RWMutex
	sets []*logset.LogSet

	routerTags []tag.Tag

	ended      bool
	endVersion uint64

	pushClient PushClient
	popClient  PopClient

	changeMu sync.Mutex
	changeCh chan struct{}

	failedOnce sync.Once
	failedCh   chan struct{}
}

// New constructs a LogSystem for one epoch from its already-built log
// sets. routerTags are the log-router tags used to fan out to remote
// regions (spec §4.2 point 2); pass nil if this epoch has no remote
// destination.
func New(logger *zap.Logger, epoch int64, sets []*logset.LogSet, routerTags []tag.Tag, pushClient PushClient, popClient PopClient) *LogSystem {
	ls := &LogSystem{
		logger:     logger,
		Epoch:      epoch,
		sets:       sets,
		routerTags: routerTags,
		pushClient: pushClient,
		popClient:  popClient,
		changeCh:   make(chan struct{}),
		failedCh:   make(chan struct{}),
	}
	for _, set := range sets {
		go ls.watchSet(set)
	}
	return ls
}

// watchSet closes this LogSystem's failure channel once more than
// AntiQuorum of a set's handles are absent. Mirrors the per-set failure monitor the original keeps as part
// of ILogSystem's quorum tracking.
func (ls *LogSystem) watchSet(set *logset.LogSet) {
	changed := make(chan struct{}, len(set.Handles))
	for _, h := range set.Handles {
		h := h
		go func() {
			for {
				<-h.OnChange()
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}()
	}
	for {
		absent := 0
		for _, h := range set.Handles {
			if _, present := h.Get(); !present {
				absent++
			}
		}
		if absent > set.AntiQuorum {
			ls.failedOnce.Do(func() { close(ls.failedCh) })
			return
		}
		<-changed
	}
}

// OnError returns a channel that closes once more than AntiQuorum of the
// handles of some log set in this epoch are absent.
func (ls *LogSystem) OnError() <-chan struct{} {
	return ls.failedCh
}

// OnCoreStateChanged returns a channel that closes the next time EndEpoch
// is called, mirroring handle.Handle's change-notification pattern.
func (ls *LogSystem) OnCoreStateChanged() <-chan struct{} {
	ls.changeMu.Lock()
	defer ls.changeMu.Unlock()
	return ls.changeCh
}

// EndEpoch fences this epoch at endVer: no push at or past it is
// accepted, and OnCoreStateChanged fires so recovery can proceed (spec §5).
func (ls *LogSystem) EndEpoch(endVer uint64) {
	ls.mu.Lock()
	ls.ended = true
	ls.endVersion = endVer
	ls.mu.Unlock()

	ls.changeMu.Lock()
	close(ls.changeCh)
	ls.changeCh = make(chan struct{})
	ls.changeMu.Unlock()
}

// ToCoreState snapshots this epoch's configuration for persistence or
// handoff to the next epoch's recovery.
func (ls *LogSystem) ToCoreState() CoreState {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	cs := CoreState{Epoch: ls.Epoch, Ended: ls.ended, EndVersion: ls.endVersion}
	for _, set := range ls.sets {
		sc := SetCoreState{
			ReplicationFactor: set.ReplicationFactor,
			AntiQuorum:        set.AntiQuorum,
			PolicyDescription: set.Policy.Description(),
			Locality:          set.Locality,
			IsLocal:           set.IsLocal,
		}
		for _, h := range set.Handles {
			iface, _ := h.Get()
			sc.ServerIDs = append(sc.ServerIDs, iface.ServerID)
		}
		cs.Sets = append(cs.Sets, sc)
	}
	return cs
}

// NumLocalServerBuffers implements push.Placer.
func (ls *LogSystem) NumLocalServerBuffers() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	n := 0
	for _, set := range ls.sets {
		if set.IsLocal {
			n += len(set.Handles)
		}
	}
	return n
}

// GetPushLocations implements push.Placer: accumulates placements across
// every local log set, offsetting each set's indices by the running
// buffer count so far.
func (ls *LogSystem) GetPushLocations(tags []tag.Tag) ([]int, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	var out []int
	offset := 0
	for _, set := range ls.sets {
		if !set.IsLocal {
			continue
		}
		if err := set.GetPushLocations(tags, &out, offset); err != nil {
			return nil, err
		}
		offset += len(set.Handles)
	}
	return out, nil
}

// HasRemoteLogs implements push.Placer.
func (ls *LogSystem) HasRemoteLogs() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.routerTags) > 0
}

// RandomRouterTag implements push.Placer, picking uniformly among the
// configured router tags (spec §9 open question 2: decided in favor of
// uniform random over round-robin, see DESIGN.md).
func (ls *LogSystem) RandomRouterTag() tag.Tag {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if len(ls.routerTags) == 0 {
		return tag.Tag{Locality: tag.LocalityLogRouter, ID: 0}
	}
	return ls.routerTags[rand.IntN(len(ls.routerTags))]
}

// Push delivers one commit's already-accumulated, per-server buffers
// (built via the push package) at version ver, waiting for each local
// log set's read quorum of acknowledgements and tolerating up to its
// anti-quorum worth of failures (spec §4.2, §4.1).
func (ls *LogSystem) Push(ctx context.Context, acc *push.Accumulator, ver uint64) error {
	ls.mu.RLock()
	sets := ls.sets
	ended := ls.ended
	endVer := ls.endVersion
	ls.mu.RUnlock()

	if ended && ver >= endVer {
		return txerr.EpochEnded("push: epoch has ended")
	}

	if id := debugIDFromContext(ctx); id != "" {
		ls.logger.Debug("push", zap.String("debug_id", id), zap.Uint64("version", ver))
	}

	offset := 0
	for _, set := range sets {
		if !set.IsLocal {
			continue
		}
		n := len(set.Handles)
		if err := ls.pushToSet(ctx, set, offset, acc, ver); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

func (ls *LogSystem) pushToSet(ctx context.Context, set *logset.LogSet, offset int, acc *push.Accumulator, ver uint64) error {
	n := len(set.Handles)
	acks := make(chan error, n)
	for i, h := range set.Handles {
		i, h := i, h
		go func() {
			iface, present := h.Get()
			if !present {
				acks <- txerr.NotActive("push: server absent", nil)
				return
			}
			acks <- ls.pushClient.Push(ctx, iface, ver, acc.Buffer(offset+i), acc.TagOffsets(offset+i))
		}()
	}

	needed := set.ReadQuorum()
	succeeded, failed := 0, 0
	var errs error
	for i := 0; i < n; i++ {
		err := <-acks
		if err == nil {
			succeeded++
			if succeeded >= needed {
				return nil
			}
			continue
		}
		failed++
		errs = multierror.Append(errs, err)
		if failed > set.AntiQuorum {
			return txerr.PolicyUnsatisfiable("push: could not reach read quorum on log set", errs).
				WithDetail("locality", int(set.Locality)).WithDetail("succeeded", succeeded).WithDetail("failed", failed)
		}
	}
	return txerr.PolicyUnsatisfiable("push: could not reach read quorum on log set", errs)
}

// Pop advances the durable pop watermark for tag t to upTo across every
// server in every log set that could hold it (spec §4 "Pop").
func (ls *LogSystem) Pop(ctx context.Context, t tag.Tag, upTo version.MessageVersion) error {
	ls.mu.RLock()
	sets := ls.sets
	ls.mu.RUnlock()

	var errs error
	for _, set := range sets {
		for _, h := range set.Handles {
			iface, present := h.Get()
			if !present {
				continue
			}
			if err := ls.popClient.Pop(ctx, iface, t, upTo); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs
}

// ConfirmEpochLive checks that every log set can still reach its read
// quorum right now, the liveness check original_source/LogSystem.h calls
// confirmEpochLive and this subsystem's spec supplements (SPEC_FULL.md).
func (ls *LogSystem) ConfirmEpochLive(ctx context.Context) error {
	ls.mu.RLock()
	sets := ls.sets
	ended := ls.ended
	ls.mu.RUnlock()
	if id := debugIDFromContext(ctx); id != "" {
		ls.logger.Debug("confirm_epoch_live", zap.String("debug_id", id))
	}
	if ended {
		return txerr.EpochEnded("confirm_epoch_live: epoch has ended")
	}
	for _, set := range sets {
		present := 0
		for _, h := range set.Handles {
			if _, ok := h.Get(); ok {
				present++
			}
		}
		if present < set.ReadQuorum() {
			return txerr.PolicyUnsatisfiable("confirm_epoch_live: log set below read quorum", nil).
				WithDetail("locality", int(set.Locality)).WithDetail("present", present).WithDetail("required", set.ReadQuorum())
		}
	}
	return nil
}

// bestSetForTag returns the log set that should serve peeks for t,
// following the locality-match rule GetPushLocations uses for preferred
// placement, except that log-router tags are not matched to local sets;
// with no match it falls back to the first set (spec §4.1).
func (ls *LogSystem) bestSetForTag(t tag.Tag) *logset.LogSet {
	for _, set := range ls.sets {
		if t.Locality == set.Locality || t.Locality == tag.LocalitySpecial || set.Locality == tag.LocalitySpecial {
			return set
		}
	}
	if len(ls.sets) > 0 {
		return ls.sets[0]
	}
	return nil
}

// Peek returns a merged, quorum-respecting cursor over every server in
// the log set responsible for tag t, covering [begin, end) (spec §4.3).
// Pass cursor.NoEnd for an unbounded read.
func (ls *LogSystem) Peek(source cursor.Source, t tag.Tag, begin, end version.MessageVersion, parallelGetMore bool) (cursor.Cursor, error) {
	ls.mu.RLock()
	set := ls.bestSetForTag(t)
	ls.mu.RUnlock()
	if set == nil {
		return nil, txerr.Internal("peek: no log set configured", nil)
	}

	children := make([]cursor.Cursor, len(set.Handles))
	for i, h := range set.Handles {
		children[i] = cursor.NewServer(h, source, t, begin, end, parallelGetMore)
	}
	return cursor.NewMerged(children, set.ReadQuorum()), nil
}

// PeekSingle returns a cursor over exactly one server in the log set
// responsible for tag t, bypassing the quorum merge to read that one
// server's tail directly (spec §5).
func (ls *LogSystem) PeekSingle(source cursor.Source, t tag.Tag, begin, end version.MessageVersion, serverIndex int, parallelGetMore bool) (cursor.Cursor, error) {
	ls.mu.RLock()
	set := ls.bestSetForTag(t)
	ls.mu.RUnlock()
	if set == nil || serverIndex < 0 || serverIndex >= len(set.Handles) {
		return nil, txerr.Internal("peek_single: server index out of range", nil)
	}
	return cursor.NewServer(set.Handles[serverIndex], source, t, begin, end, parallelGetMore), nil
}

// Sets returns the log sets backing this epoch, for callers (recovery,
// telemetry) that need to walk them directly.
func (ls *LogSystem) Sets() []*logset.LogSet {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.sets
}

// Ended reports whether EndEpoch has been called, and its fenced version.
func (ls *LogSystem) Ended() (bool, uint64) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.ended, ls.endVersion
}

// Describe returns a short human-readable summary of this epoch's shape,
// the Go analog of the original's debugID-tagged describe() used in trace
// logging.
func (ls *LogSystem) Describe() string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return fmt.Sprintf("epoch=%d sets=%d ended=%v endVersion=%d", ls.Epoch, len(ls.sets), ls.ended, ls.endVersion)
}

// debugIDKey is the context key WithDebugID/debugIDFromContext use to
// thread an optional trace identifier through Push/ConfirmEpochLive calls,
// the analog of the original's Optional<UID> debugID parameters.
type debugIDKey struct{}

// WithDebugID attaches a debug identifier to ctx for tracing a single
// push or liveness check through the logs this package emits.
func WithDebugID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, debugIDKey{}, id)
}

// debugIDFromContext extracts the identifier WithDebugID attached, if any.
func debugIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(debugIDKey{}).(string)
	return id
}
