package roomlog

import (
	"encoding/binary"

	"github.com/yjs/yhub/internal/room"
)

// Keyspace, rooted at each room's stream key "{prefix}:room:{org}:{docid}:{branch}":
//   {roomKey}/e/{ms_be8}{seq_be8} -> encoded entry (clock-ordered)
//   {roomKey}/m                   -> last clock + live entry count

const (
	entrySeg = "/e/"
	metaSeg  = "/m"
)

func appendBE8(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func entryKey(roomKey string, c room.Clock) []byte {
	k := make([]byte, 0, len(roomKey)+len(entrySeg)+16)
	k = append(k, roomKey...)
	k = append(k, entrySeg...)
	k = appendBE8(k, c.Ms)
	k = appendBE8(k, c.Seq)
	return k
}

func entryBounds(roomKey string) (low, hi []byte) {
	prefix := []byte(roomKey + entrySeg)
	low = prefix
	hi = append(append([]byte(nil), prefix...), 0xff)
	return low, hi
}

func clockFromKey(key []byte) room.Clock {
	n := len(key)
	return room.Clock{
		Ms:  int64(binary.BigEndian.Uint64(key[n-16 : n-8])),
		Seq: int64(binary.BigEndian.Uint64(key[n-8:])),
	}
}

func metaKey(roomKey string) []byte { return []byte(roomKey + metaSeg) }
