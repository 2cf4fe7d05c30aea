package logset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/logset"
	"github.com/devrev/pairdb/txlog/internal/policy"
	"github.com/devrev/pairdb/txlog/internal/tag"
)

func newPresentHandles(n int) []*handle.Handle {
	handles := make([]*handle.Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = handle.New(locality.Data{})
		handles[i].Set(handle.Interface{ServerID: "s"})
	}
	return handles
}

func TestNewRejectsInvalidReplicationFactor(t *testing.T) {
	_, err := logset.New(newPresentHandles(2), []locality.Data{{}, {}}, 0, 0, policy.AnyN{N: 1}, 0, true, logset.HasBestPolicyNone)
	assert.Error(t, err)
}

func TestNewRejectsBadAntiQuorum(t *testing.T) {
	_, err := logset.New(newPresentHandles(2), []locality.Data{{}, {}}, 2, 2, policy.AnyN{N: 1}, 0, true, logset.HasBestPolicyNone)
	assert.Error(t, err)
}

func TestNewRejectsTooFewServers(t *testing.T) {
	_, err := logset.New(newPresentHandles(1), []locality.Data{{}}, 2, 0, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	assert.Error(t, err)
}

func TestReadQuorum(t *testing.T) {
	handles := newPresentHandles(3)
	ls, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)
	assert.Equal(t, 2, ls.ReadQuorum())
}

func TestBestLocationForHashesByOldSlotID(t *testing.T) {
	handles := newPresentHandles(4)
	ls, err := logset.New(handles, []locality.Data{{}, {}, {}, {}}, 4, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyID)
	require.NoError(t, err)

	loc, ok := ls.BestLocationFor(tag.Tag{Locality: 0, ID: 9})
	assert.True(t, ok)
	assert.Equal(t, 9%4, loc)

	none := &logset.LogSet{HasBestPolicy: logset.HasBestPolicyNone}
	_, ok = none.BestLocationFor(tag.Tag{})
	assert.False(t, ok)
}

func TestGetPushLocationsPrefersBestLocationWhenPresent(t *testing.T) {
	handles := newPresentHandles(4)
	ls, err := logset.New(handles, []locality.Data{{}, {}, {}, {}}, 4, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyID)
	require.NoError(t, err)

	var out []int
	err = ls.GetPushLocations([]tag.Tag{{Locality: 0, ID: 1}}, &out, 0)
	require.NoError(t, err)
	assert.Contains(t, out, 1)
	assert.GreaterOrEqual(t, len(out), 2)
}

func TestGetPushLocationsOffsetsIndices(t *testing.T) {
	handles := newPresentHandles(3)
	ls, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 0, policy.AnyN{N: 3}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)

	var out []int
	err = ls.GetPushLocations([]tag.Tag{{Locality: 0, ID: 1}}, &out, 10)
	require.NoError(t, err)
	for _, loc := range out {
		assert.GreaterOrEqual(t, loc, 10)
	}
}

func TestUpdateLocalitySetReflectsAbsentHandle(t *testing.T) {
	handles := newPresentHandles(3)
	ls, err := logset.New(handles, []locality.Data{{}, {}, {}}, 3, 1, policy.AnyN{N: 2}, 0, true, logset.HasBestPolicyNone)
	require.NoError(t, err)
	assert.Equal(t, 3, ls.LocalitySet().Len())

	handles[0].Clear()
	ls.UpdateLocalitySet()
	assert.Equal(t, 2, ls.LocalitySet().Len())
}
