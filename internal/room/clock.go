package room

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a logical timestamp assigned to log entries and snapshots.
// The zero value sorts before every assigned clock.
type Clock struct {
	Ms  int64
	Seq int64
}

// ParseClock parses the "<ms>-<seq>" form. A bare "<ms>" is accepted with an
// implicit sequence of zero, and "0" parses to the zero clock.
func ParseClock(s string) (Clock, error) {
	msPart, seqPart, found := strings.Cut(s, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	var seq int64
	if found {
		seq, err = strconv.ParseInt(seqPart, 10, 64)
		if err != nil {
			return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
		}
	}
	return Clock{Ms: ms, Seq: seq}, nil
}

// String returns the "<ms>-<seq>" serialization.
func (c Clock) String() string {
	return strconv.FormatInt(c.Ms, 10) + "-" + strconv.FormatInt(c.Seq, 10)
}

// IsZero reports whether the clock is unassigned.
func (c Clock) IsZero() bool { return c.Ms == 0 && c.Seq == 0 }

// Compare returns -1, 0 or +1 ordering by timestamp, then sequence.
func (c Clock) Compare(other Clock) int {
	switch {
	case c.Ms < other.Ms:
		return -1
	case c.Ms > other.Ms:
		return 1
	case c.Seq < other.Seq:
		return -1
	case c.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports whether c orders strictly before other.
func (c Clock) Less(other Clock) bool { return c.Compare(other) < 0 }

// MaxClock returns the later of a and b.
func MaxClock(a, b Clock) Clock {
	if a.Less(b) {
		return b
	}
	return a
}

// MinClock returns the earlier of a and b.
func MinClock(a, b Clock) Clock {
	if b.Less(a) {
		return b
	}
	return a
}
