package logsystem_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/logset"
	"github.com/devrev/pairdb/txlog/internal/logsystem"
	"github.com/devrev/pairdb/txlog/internal/policy"
	"github.com/devrev/pairdb/txlog/internal/push"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// fakePushClient lets a test control which server IDs ack a push and which
// fail, mirroring scenario S2's "two of three servers acknowledge".
type fakePushClient struct {
	mu     sync.Mutex
	failAt map[string]bool
}

func (c *fakePushClient) Push(ctx context.Context, iface handle.Interface, ver uint64, buf []byte, tagOffsets map[tag.Tag][]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt[iface.ServerID] {
		return errors.New("fake push failure")
	}
	return nil
}

type fakePopClient struct{}

func (fakePopClient) Pop(ctx context.Context, iface handle.Interface, t tag.Tag, upTo version.MessageVersion) error {
	return nil
}

func newHandles(ids ...string) []*handle.Handle {
	handles := make([]*handle.Handle, len(ids))
	for i, id := range ids {
		handles[i] = handle.New(locality.Data{})
		handles[i].Set(handle.Interface{ServerID: id})
	}
	return handles
}

// TestPushSucceedsOnceAntiQuorumSlackAcks exercises scenario S2's write
// side: RF=3, AQ=1 means a push must succeed once 2 of 3 servers ack, even
// though the third fails outright.
func TestPushSucceedsOnceAntiQuorumSlackAcks(t *testing.T) {
	handles := newHandles("s0", "s1", "s2")
	set, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)

	pushClient := &fakePushClient{failAt: map[string]bool{"s2": true}}
	ls := logsystem.New(zap.NewNop(), 1, []*logset.LogSet{set}, nil, pushClient, fakePopClient{})

	acc := push.New(ls)
	acc.AddTag(tag.Tag{Locality: 0, ID: 1})
	require.NoError(t, acc.AddMessage([]byte("x"), false))

	err = ls.Push(context.Background(), acc, 10)
	assert.NoError(t, err)
}

// TestPushFailsWhenMoreThanAntiQuorumServersFail mirrors the other half of
// S2: with AQ=1, two failures out of three servers exceeds the slack and
// the push must report an error.
func TestPushFailsWhenMoreThanAntiQuorumServersFail(t *testing.T) {
	handles := newHandles("s0", "s1", "s2")
	set, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)

	pushClient := &fakePushClient{failAt: map[string]bool{"s1": true, "s2": true}}
	ls := logsystem.New(zap.NewNop(), 1, []*logset.LogSet{set}, nil, pushClient, fakePopClient{})

	acc := push.New(ls)
	acc.AddTag(tag.Tag{Locality: 0, ID: 1})
	require.NoError(t, acc.AddMessage([]byte("x"), false))

	err = ls.Push(context.Background(), acc, 10)
	assert.Error(t, err)
}

// TestPushRejectedAtOrPastFencedVersion matches spec §4.2's "if the epoch
// ended, push never completes ... will be invisible in all future epochs":
// once EndEpoch fences at a version, a push at or past it is rejected
// immediately instead of attempting delivery.
func TestPushRejectedAtOrPastFencedVersion(t *testing.T) {
	handles := newHandles("s0")
	set, err := logset.New(handles, []locality.Data{{}}, 1, 0, policy.AnyN{N: 1}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)

	ls := logsystem.New(zap.NewNop(), 1, []*logset.LogSet{set}, nil, &fakePushClient{}, fakePopClient{})
	ls.EndEpoch(30)

	acc := push.New(ls)
	acc.AddTag(tag.Tag{Locality: 0, ID: 1})
	require.NoError(t, acc.AddMessage([]byte("x"), false))

	err = ls.Push(context.Background(), acc, 30)
	assert.Error(t, err)
}

// TestConfirmEpochLiveFailsBelowReadQuorum exercises ConfirmEpochLive: once
// enough handles go absent that a log set drops below its read quorum, the
// liveness check must report an error.
func TestConfirmEpochLiveFailsBelowReadQuorum(t *testing.T) {
	handles := newHandles("s0", "s1", "s2")
	set, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)

	ls := logsystem.New(zap.NewNop(), 1, []*logset.LogSet{set}, nil, &fakePushClient{}, fakePopClient{})
	require.NoError(t, ls.ConfirmEpochLive(context.Background()))

	handles[0].Clear()
	handles[1].Clear()
	assert.Error(t, ls.ConfirmEpochLive(context.Background()))
}
