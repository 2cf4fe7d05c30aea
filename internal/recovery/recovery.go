// Package recovery implements the epoch transition of spec §5: fencing
// the old epoch's log sets, computing the version at which it safely
// ends, and standing up the new epoch behind a durability gate until the
// coordinator has persisted its core state.
package recovery

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/logset"
	"github.com/devrev/pairdb/txlog/internal/logsystem"
	"github.com/devrev/pairdb/txlog/internal/membership"
	"github.com/devrev/pairdb/txlog/internal/push"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/txerr"
)

// FenceClient is the seam a real transport implements to stop an old
// epoch's log server from accepting further pushes and report back the
// highest version it has durably recorded (spec §5 "Fencing").
type FenceClient interface {
	Fence(ctx context.Context, iface handle.Interface, epoch int64) (knownVersion uint64, err error)
}

// RecoverAndEndEpoch fences every server in every log set of old, then
// computes and applies the version at which old's epoch ends: for each
// set, one past the ReadQuorum-th highest version reported by its
// successfully fenced servers (at least a read quorum durably hold data
// up to that reported version); the epoch as a whole ends at the minimum of those
// per-set versions, so no set is asked to hand off data it cannot prove
// it has (spec §5, scenario S6).
//
// A set whose number of successful fences is below its AntiQuorum
// tolerance (more than AntiQuorum servers unreachable) makes recovery of
// this epoch impossible and is returned as ErrPolicyUnsatisfiable.
func RecoverAndEndEpoch(ctx context.Context, logger *zap.Logger, old *logsystem.LogSystem, client FenceClient) (uint64, error) {
	sets := old.Sets()
	if len(sets) == 0 {
		return 0, txerr.Internal("recover_and_end_epoch: epoch has no log sets", nil)
	}

	haveEnd := false
	var endVersion uint64
	var errs error

	for _, set := range sets {
		v, err := fenceSet(ctx, old.Epoch, set, client)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if !haveEnd || v < endVersion {
			endVersion = v
			haveEnd = true
		}
	}
	if errs != nil || !haveEnd {
		return 0, txerr.PolicyUnsatisfiable("recover_and_end_epoch: a log set could not be fenced", errs)
	}

	old.EndEpoch(endVersion)
	logger.Info("ended epoch", zap.Int64("epoch", old.Epoch), zap.Uint64("end_version", endVersion))
	return endVersion, nil
}

func fenceSet(ctx context.Context, epoch int64, set *logset.LogSet, client FenceClient) (uint64, error) {
	n := len(set.Handles)
	type result struct {
		version uint64
		err     error
	}
	results := make(chan result, n)
	for _, h := range set.Handles {
		h := h
		go func() {
			iface, present := h.Get()
			if !present {
				results <- result{err: txerr.NotActive("fence: server absent", nil)}
				return
			}
			v, err := client.Fence(ctx, iface, epoch)
			results <- result{version: v, err: err}
		}()
	}

	var versions []uint64
	var errs error
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			errs = multierror.Append(errs, r.err)
			continue
		}
		versions = append(versions, r.version)
	}

	failed := n - len(versions)
	if failed > set.AntiQuorum {
		return 0, txerr.PolicyUnsatisfiable("fence: more than anti_quorum servers unreachable", errs).
			WithDetail("locality", int(set.Locality)).WithDetail("failed", failed).WithDetail("anti_quorum", set.AntiQuorum)
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	quorum := set.ReadQuorum()
	if quorum > len(versions) {
		quorum = len(versions)
	}
	// versions[quorum-1] is the quorum-th highest reported version: at
	// least `quorum` of the successfully fenced servers durably hold data
	// up to and including it, so it is the last recoverable version.
	// end_version is the first *unrecoverable* one, one past that (spec
	// §4.4, scenario S6).
	return versions[quorum-1] + 1, nil
}

// ProvisionalEpoch wraps a freshly constructed logsystem.LogSystem for
// the epoch recovery is standing up, holding pushes until the
// coordinator durably records its core state (spec §5 "Core state
// handshake"): accepting pushes before that point risks committing data
// under an epoch recovery might still abandon.
type ProvisionalEpoch struct {
	ls *logsystem.LogSystem

	mu        sync.Mutex
	written   bool
	writtenCh chan struct{}
}

// NewEpoch constructs the next epoch's LogSystem from its log sets,
// gated behind CoreStateWritten.
func NewEpoch(logger *zap.Logger, epoch int64, sets []*logset.LogSet, routerTags []tag.Tag, pushClient logsystem.PushClient, popClient logsystem.PopClient) *ProvisionalEpoch {
	return &ProvisionalEpoch{
		ls:        logsystem.New(logger, epoch, sets, routerTags, pushClient, popClient),
		writtenCh: make(chan struct{}),
	}
}

// CoreStateWritten releases the durability gate: once called, Push
// proceeds instead of failing with ErrNotActive.
func (p *ProvisionalEpoch) CoreStateWritten() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.written {
		return
	}
	p.written = true
	close(p.writtenCh)
}

// IsWritten reports whether CoreStateWritten has been called.
func (p *ProvisionalEpoch) IsWritten() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// LogSystem returns the wrapped LogSystem for peek/pop/recovery calls,
// which are safe to make against a provisional epoch (only Push is
// gated).
func (p *ProvisionalEpoch) LogSystem() *logsystem.LogSystem {
	return p.ls
}

// Push delegates to the wrapped LogSystem once the core state has been
// durably written; otherwise it fails fast rather than accepting data
// that might have to be discarded if recovery is abandoned.
func (p *ProvisionalEpoch) Push(ctx context.Context, acc *push.Accumulator, ver uint64) error {
	if !p.IsWritten() {
		return txerr.NotActive("push: epoch core state not yet durable", nil)
	}
	return p.ls.Push(ctx, acc, ver)
}

// StopRejoins retires the servers of the ended epoch's log sets from
// registry, so a late rejoin cannot resurrect a handle the new epoch has
// already moved past (spec §5, supplemented from
// original_source/fdbserver/LogSystem.h's stopRejoins). Only handles that
// are present when it is called are retired: an absent handle carries no
// server ID, so it is skipped and its server can still rejoin.
func StopRejoins(old *logsystem.LogSystem, registry *membership.Registry) {
	for _, set := range old.Sets() {
		for _, h := range set.Handles {
			iface, _ := h.Get()
			if iface.ServerID == "" {
				continue
			}
			registry.StopRejoins(iface.ServerID)
		}
	}
}
