package cursor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/txlog/internal/cursor"
	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/version"
)

// fakeSource answers cursor.Source.Peek with one canned reply per call, in
// order, regardless of the requested range — enough to drive ServerCursor
// through a scripted sequence of GetMore calls.
type fakeSource struct {
	replies []cursor.Reply
	calls   int
}

func (f *fakeSource) Peek(ctx context.Context, begin, end version.MessageVersion, t tag.Tag, seq int) (cursor.Reply, error) {
	r := f.replies[f.calls]
	f.calls++
	return r, nil
}

func mv(v uint64, s uint32) version.MessageVersion { return version.MessageVersion{Version: v, Subsequence: s} }

// TestServerCursorSingleServerRoundTrip exercises scenario S1: a single
// commit of two tagged messages at version 10, peeked from the start.
func TestServerCursorSingleServerRoundTrip(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 7}
	h := handle.New(locality.Data{})
	h.Set(handle.Interface{ServerID: "s0"})

	src := &fakeSource{replies: []cursor.Reply{
		{
			Begin: mv(10, 0), End: mv(11, 0),
			Messages: []cursor.Message{
				{Version: mv(10, 1), Tags: []tag.Tag{tg}, Body: []byte("a")},
				{Version: mv(10, 2), Tags: []tag.Tag{tg}, Body: []byte("b")},
			},
			MaxKnownVersion: 10,
		},
	}}

	sc := cursor.NewServer(h, src, tg, mv(10, 0), cursor.NoEnd, false)
	defer sc.Close()

	require.False(t, sc.HasMessage())
	require.NoError(t, sc.GetMore(context.Background()))
	require.True(t, sc.HasMessage())
	assert.Equal(t, mv(10, 1), sc.Version())
	assert.Equal(t, []byte("a"), sc.GetMessage())

	sc.NextMessage()
	require.True(t, sc.HasMessage())
	assert.Equal(t, mv(10, 2), sc.Version())
	assert.Equal(t, []byte("b"), sc.GetMessage())

	sc.NextMessage()
	assert.False(t, sc.HasMessage())
	assert.True(t, sc.Version().IsBoundary())
}

func TestServerCursorAdvanceToDropsEarlierMessages(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 1}
	h := handle.New(locality.Data{})
	h.Set(handle.Interface{ServerID: "s0"})

	src := &fakeSource{replies: []cursor.Reply{
		{
			Begin: mv(1, 0), End: mv(6, 0),
			Messages: []cursor.Message{
				{Version: mv(1, 1), Tags: []tag.Tag{tg}, Body: []byte("old")},
				{Version: mv(5, 1), Tags: []tag.Tag{tg}, Body: []byte("new")},
			},
		},
	}}

	sc := cursor.NewServer(h, src, tg, mv(1, 0), cursor.NoEnd, false)
	defer sc.Close()
	require.NoError(t, sc.GetMore(context.Background()))

	sc.AdvanceTo(mv(5, 0))
	require.True(t, sc.HasMessage())
	assert.Equal(t, mv(5, 1), sc.Version())
	assert.Equal(t, []byte("new"), sc.GetMessage())
}

func TestServerCursorExhaustedAtBoundedEnd(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 1}
	h := handle.New(locality.Data{})
	h.Set(handle.Interface{ServerID: "s0"})

	src := &fakeSource{replies: []cursor.Reply{
		{Begin: mv(1, 0), End: mv(10, 0)},
	}}

	sc := cursor.NewServer(h, src, tg, mv(1, 0), mv(10, 0), false)
	defer sc.Close()
	require.NoError(t, sc.GetMore(context.Background()))
	assert.True(t, sc.IsExhausted())
	assert.False(t, sc.IsActive())
}

func TestServerCursorPoppedTracksReplyWatermark(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 1}
	h := handle.New(locality.Data{})
	h.Set(handle.Interface{ServerID: "s0"})

	src := &fakeSource{replies: []cursor.Reply{
		{Begin: mv(1, 0), End: mv(50, 0), PoppedVersion: 50},
	}}

	sc := cursor.NewServer(h, src, tg, mv(1, 0), cursor.NoEnd, false)
	defer sc.Close()
	require.NoError(t, sc.GetMore(context.Background()))
	assert.Equal(t, uint64(50), sc.Popped())
}

func TestServerCursorIsActiveFalseWhenHandleAbsent(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 1}
	h := handle.New(locality.Data{})

	sc := cursor.NewServer(h, &fakeSource{}, tg, mv(0, 0), cursor.NoEnd, false)
	defer sc.Close()
	assert.False(t, sc.IsActive())
}

func TestServerCursorCloneNoMorePanicsOnGetMore(t *testing.T) {
	tg := tag.Tag{Locality: 0, ID: 1}
	h := handle.New(locality.Data{})
	h.Set(handle.Interface{ServerID: "s0"})

	sc := cursor.NewServer(h, &fakeSource{replies: []cursor.Reply{{Begin: mv(0, 0), End: mv(0, 0)}}}, tg, mv(0, 0), cursor.NoEnd, false)
	defer sc.Close()

	clone := sc.CloneNoMore()
	assert.Panics(t, func() { _ = clone.GetMore(context.Background()) })
}
