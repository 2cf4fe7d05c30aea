// Package push implements the per-commit staging buffer described in spec
// §4.2: collects tagged messages, computes placement via the owning log
// system's log sets, and produces per-log-server framed payloads plus the
// tag-offset side table used to serve tag-scoped peeks efficiently.
//
// The per-segment buffer bookkeeping here is grounded on the teacher's
// CommitLogService (storage-node/internal/service/commitlog_service.go):
// one mutex-guarded accumulator, append-only buffers, with the wire framing
// itself following LogPushData from the FoundationDB LogSystem.h header
// this subsystem reimplements.
package push

import (
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/wire"
)

// Placer is the subset of the owning log system's behavior the
// accumulator needs: placement across every local log set, and whether a
// router tag must be injected for remote regions. Implemented by
// logsystem.LogSystem; kept as a narrow interface here to avoid an import
// cycle between push and logsystem.
type Placer interface {
	// NumLocalServerBuffers returns the total number of per-server
	// buffers the accumulator must maintain: the sum, across every local
	// log set, of its server count.
	NumLocalServerBuffers() int
	// GetPushLocations returns the buffer indices (already offset per
	// log set) that should receive a message carrying tags.
	GetPushLocations(tags []tag.Tag) ([]int, error)
	// HasRemoteLogs reports whether this log system feeds a remote
	// region through log routers.
	HasRemoteLogs() bool
	// RandomRouterTag returns a uniformly random router tag to prepend
	// when HasRemoteLogs is true (spec §4.2 point 2, §9 open question 2).
	RandomRouterTag() tag.Tag
}

// Accumulator stages one commit's worth of tagged messages. Subsequences
// start at 1 (spec §3: subsequence 0 is the version-boundary sentinel).
type Accumulator struct {
	placer Placer

	nextTags []tag.Tag
	prevTags []tag.Tag

	msgLocations []int
	subsequence  uint32

	buffers    [][]byte
	tagOffsets []map[tag.Tag][]int
}

// New creates an Accumulator bound to placer. Call AddTag/AddMessage to
// stage a commit's messages, then read Buffer/TagOffsets per server to
// build the push RPCs.
func New(placer Placer) *Accumulator {
	n := placer.NumLocalServerBuffers()
	return &Accumulator{
		placer:      placer,
		subsequence: 1,
		buffers:     make([][]byte, n),
		tagOffsets:  make([]map[tag.Tag][]int, n),
	}
}

// AddTag queues t onto the next message to be added.
func (a *Accumulator) AddTag(t tag.Tag) {
	a.nextTags = append(a.nextTags, t)
}

// AddMessage assigns the next subsequence to body, computes (or reuses)
// its placement, and appends a framed record to every selected server's
// buffer. usePreviousLocations reuses the previous message's placement and
// tag set instead of recomputing it from the tags queued via AddTag.
func (a *Accumulator) AddMessage(body []byte, usePreviousLocations bool) error {
	if !usePreviousLocations {
		a.prevTags = a.prevTags[:0]
		if a.placer.HasRemoteLogs() {
			a.prevTags = append(a.prevTags, a.placer.RandomRouterTag())
		}
		a.prevTags = append(a.prevTags, a.nextTags...)
		a.nextTags = a.nextTags[:0]

		locs, err := a.placer.GetPushLocations(a.prevTags)
		if err != nil {
			return err
		}
		a.msgLocations = locs
	}

	subseq := a.subsequence
	a.subsequence++

	for _, loc := range a.msgLocations {
		buf, recordOffset := wire.AppendFrame(a.buffers[loc], subseq, a.prevTags, body)
		a.buffers[loc] = buf
		for _, t := range a.prevTags {
			a.addTagOffset(loc, t, recordOffset)
		}
	}
	return nil
}

func (a *Accumulator) addTagOffset(loc int, t tag.Tag, recordOffset int) {
	if a.tagOffsets[loc] == nil {
		a.tagOffsets[loc] = make(map[tag.Tag][]int)
	}
	a.tagOffsets[loc][t] = append(a.tagOffsets[loc][t], recordOffset)
}

// Buffer returns the framed byte buffer destined for the loc'th local log
// server.
func (a *Accumulator) Buffer(loc int) []byte {
	return a.buffers[loc]
}

// TagOffsets returns the tag -> record-offset side table for the loc'th
// local log server.
func (a *Accumulator) TagOffsets(loc int) map[tag.Tag][]int {
	return a.tagOffsets[loc]
}

// NumBuffers returns the number of per-server buffers this accumulator
// maintains.
func (a *Accumulator) NumBuffers() int {
	return len(a.buffers)
}
