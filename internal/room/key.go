package room

import (
	"fmt"
	"net/url"
	"strings"
)

// Room identifies one independent collaboration stream. Identity is
// case-sensitive and immutable; a room is never deleted, only emptied.
type Room struct {
	Org    string
	DocID  string
	Branch string
}

const keySegment = ":room:"

// MalformedKeyError reports a room key that could not be decoded. It is fatal
// to the single request carrying the key, never to the process.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed room key %q: %s", e.Key, e.Reason)
}

// EncodeKey builds the room's stream key under the given deployment prefix.
func EncodeKey(r Room, prefix string) string {
	return prefix + keySegment +
		url.QueryEscape(r.Org) + ":" +
		url.QueryEscape(r.DocID) + ":" +
		url.QueryEscape(r.Branch)
}

// DecodeKey is the inverse of EncodeKey. It fails if the prefix does not
// match or the key does not carry exactly three identity fields.
func DecodeKey(key, prefix string) (Room, error) {
	rest, ok := strings.CutPrefix(key, prefix+keySegment)
	if !ok {
		return Room{}, &MalformedKeyError{Key: key, Reason: fmt.Sprintf("expected prefix %q", prefix)}
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return Room{}, &MalformedKeyError{Key: key, Reason: fmt.Sprintf("expected 3 fields, got %d", len(parts))}
	}
	org, err := url.QueryUnescape(parts[0])
	if err != nil {
		return Room{}, &MalformedKeyError{Key: key, Reason: "bad org encoding"}
	}
	docid, err := url.QueryUnescape(parts[1])
	if err != nil {
		return Room{}, &MalformedKeyError{Key: key, Reason: "bad docid encoding"}
	}
	branch, err := url.QueryUnescape(parts[2])
	if err != nil {
		return Room{}, &MalformedKeyError{Key: key, Reason: "bad branch encoding"}
	}
	return Room{Org: org, DocID: docid, Branch: branch}, nil
}
