package roomlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/yjs/yhub/internal/room"
)

// Kind discriminates the log entry union.
type Kind uint8

const (
	// KindUpdate carries a document delta plus an attribution-map delta.
	KindUpdate Kind = 1
	// KindAwareness carries ephemeral presence info. Never persisted.
	KindAwareness Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindAwareness:
		return "awareness"
	default:
		return "unknown"
	}
}

// Entry is one immutable log record. Update entries may carry an attribution
// delta; awareness entries never do.
type Entry struct {
	Kind        Kind
	Update      []byte
	Attribution []byte
}

// Item is an Entry with its assigned clock, as returned by reads.
type Item struct {
	Clock room.Clock
	Entry Entry
}

// Encoding: kind(1) | uvarint attrLen | attribution | update | crc32c.
// The checksum covers everything before it.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeEntry(e Entry) []byte {
	out := make([]byte, 0, 1+10+len(e.Attribution)+len(e.Update)+4)
	out = append(out, byte(e.Kind))
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(e.Attribution)))
	out = append(out, tmp[:n]...)
	out = append(out, e.Attribution...)
	out = append(out, e.Update...)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(out, castagnoli))
	return append(out, crcb[:]...)
}

func decodeEntry(b []byte) (Entry, bool) {
	if len(b) < 1+1+4 {
		return Entry{}, false
	}
	body, crcb := b[:len(b)-4], b[len(b)-4:]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(crcb) {
		return Entry{}, false
	}
	kind := Kind(body[0])
	attrLen, n := binary.Uvarint(body[1:])
	if n <= 0 || 1+n+int(attrLen) > len(body) {
		return Entry{}, false
	}
	attr := body[1+n : 1+n+int(attrLen)]
	update := body[1+n+int(attrLen):]
	e := Entry{Kind: kind, Update: append([]byte(nil), update...)}
	if len(attr) > 0 {
		e.Attribution = append([]byte(nil), attr...)
	}
	return e, true
}
