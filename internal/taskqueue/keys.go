package taskqueue

import (
	"encoding/binary"

	"github.com/yjs/yhub/internal/room"
)

// Keyspace, rooted at the worker queue key "{prefix}:worker":
//   {worker}/t/{ms_be8}{seq_be8}  -> room key (the task entries, FIFO by id)
//   {worker}/m                    -> last assigned id (ms_be8 seq_be8)
//   {worker}/lease/{taskID}       -> lease JSON
//   {worker}/room/{roomKey}       -> taskID (outstanding-task marker)

const (
	taskSeg   = "/t/"
	metaSeg   = "/m"
	leaseSeg  = "/lease/"
	markerSeg = "/room/"
)

func appendBE8(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func taskKey(workerKey string, id room.Clock) []byte {
	k := make([]byte, 0, len(workerKey)+len(taskSeg)+16)
	k = append(k, workerKey...)
	k = append(k, taskSeg...)
	k = appendBE8(k, id.Ms)
	k = appendBE8(k, id.Seq)
	return k
}

func taskBounds(workerKey string) (low, hi []byte) {
	prefix := []byte(workerKey + taskSeg)
	low = prefix
	hi = append(append([]byte(nil), prefix...), 0xff)
	return low, hi
}

func taskIDFromKey(key []byte) room.Clock {
	// ms and seq are the trailing 16 bytes.
	n := len(key)
	return room.Clock{
		Ms:  int64(binary.BigEndian.Uint64(key[n-16 : n-8])),
		Seq: int64(binary.BigEndian.Uint64(key[n-8:])),
	}
}

func metaKey(workerKey string) []byte   { return []byte(workerKey + metaSeg) }
func leaseKey(workerKey, taskID string) []byte  { return []byte(workerKey + leaseSeg + taskID) }
func markerKey(workerKey, roomKey string) []byte { return []byte(workerKey + markerSeg + roomKey) }
