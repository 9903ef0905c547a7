// Package room defines room identity, the room-key codec, and the logical
// clock used to order log entries and snapshots.
//
// A room is addressed by (org, docid, branch). Its key is a single string of
// the form "{prefix}:room:{org}:{docid}:{branch}" with the three identity
// fields percent-encoded, so field values may contain the separator.
//
// Clocks are two-part (millisecond timestamp, sequence) pairs serialized as
// "<ms>-<seq>". They are totally ordered: timestamp first, then sequence.
package room
