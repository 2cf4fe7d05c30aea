// Package wire implements the on-the-wire framing of tagged messages pushed
// to a single log server, and a length-prefixed string reference type.
//
// The network transport carrying these frames is out of scope for this
// subsystem (see spec §1); this package only defines the byte layout that a
// real transport would ship, matching spec §6:
//
//	[u32 len][u32 subseq][u16 n_tags][Tag * n_tags][bytes]
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pairdb/txlog/internal/tag"
)

// LengthPrefixedRef is a shared-string representation: a reference to bytes
// that are immediately preceded (in the owning buffer) by their own 4-byte
// length, which is read from the buffer rather than stored in the reference.
// The Go value holds a slice header and an offset, so it is not smaller than
// a (ptr, len) pair; substring operations are deliberately not supported,
// matching spec §6.
type LengthPrefixedRef struct {
	buf    []byte
	offset int
}

// NewLengthPrefixedRef wraps the length-prefixed record starting at offset
// within buf. buf[offset:offset+4] must hold the little-endian length.
func NewLengthPrefixedRef(buf []byte, offset int) LengthPrefixedRef {
	return LengthPrefixedRef{buf: buf, offset: offset}
}

// Bytes returns the referenced string, excluding its length prefix.
func (r LengthPrefixedRef) Bytes() []byte {
	n := binary.LittleEndian.Uint32(r.buf[r.offset : r.offset+4])
	start := r.offset + 4
	return r.buf[start : start+int(n)]
}

// Len returns the byte length of the referenced string.
func (r LengthPrefixedRef) Len() int {
	return int(binary.LittleEndian.Uint32(r.buf[r.offset : r.offset+4]))
}

// AppendFrame appends one tagged message record to buf in the wire layout
// required by spec §6 and returns the updated buffer along with the byte
// offset at which the record begins (used to build the tag-offset side
// table).
func AppendFrame(buf []byte, subseq uint32, tags []tag.Tag, body []byte) (out []byte, recordOffset int) {
	if subseq == 0 {
		panic("wire: subsequence 0 is the version-boundary sentinel and must never be framed")
	}
	recordOffset = len(buf)

	length := uint32(4 + 2 + len(tags)*5 + len(body))
	var hdr [10]byte
	binary.LittleEndian.PutUint32(hdr[0:4], length)
	binary.LittleEndian.PutUint32(hdr[4:8], subseq)
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(tags)))
	buf = append(buf, hdr[:]...)

	for _, t := range tags {
		var tb [5]byte
		tb[0] = byte(t.Locality)
		binary.LittleEndian.PutUint32(tb[1:5], t.ID)
		buf = append(buf, tb[:]...)
	}

	buf = append(buf, body...)
	return buf, recordOffset
}

// ReadFrame decodes one record at offset in buf, returning the subsequence,
// tags, message body, and the offset immediately following the record.
func ReadFrame(buf []byte, offset int) (subseq uint32, tags []tag.Tag, body []byte, next int, err error) {
	if offset+4 > len(buf) {
		return 0, nil, nil, 0, fmt.Errorf("wire: truncated length prefix at offset %d", offset)
	}
	length := binary.LittleEndian.Uint32(buf[offset : offset+4])
	recordEnd := offset + 4 + int(length)
	if recordEnd > len(buf) {
		return 0, nil, nil, 0, fmt.Errorf("wire: truncated record at offset %d (len %d)", offset, length)
	}
	if offset+8 > len(buf) {
		return 0, nil, nil, 0, fmt.Errorf("wire: truncated subsequence at offset %d", offset)
	}
	subseq = binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
	if subseq == 0 {
		return 0, nil, nil, 0, fmt.Errorf("wire: observed sentinel subsequence 0 in frame data")
	}
	nTags := binary.LittleEndian.Uint16(buf[offset+8 : offset+10])
	pos := offset + 10
	tags = make([]tag.Tag, nTags)
	for i := 0; i < int(nTags); i++ {
		tags[i] = tag.Tag{
			Locality: tag.Locality(int8(buf[pos])),
			ID:       binary.LittleEndian.Uint32(buf[pos+1 : pos+5]),
		}
		pos += 5
	}
	body = buf[pos:recordEnd]
	return subseq, tags, body, recordEnd, nil
}
