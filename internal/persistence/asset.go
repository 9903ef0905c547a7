package persistence

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yjs/yhub/internal/room"
)

// AssetKind names what an asset holds.
type AssetKind string

const (
	KindDoc            AssetKind = "id:doc:v1"
	KindAttributionMap AssetKind = "id:attrmap:v1"
	KindAttributionIDs AssetKind = "id:attrids:v1"
)

// Asset type discriminants stored in the row columns.
const (
	AssetInline      = "asset:inline:v1"
	AssetRetrievable = "asset:retrievable:v1"
)

// AssetID locates one blob field of one snapshot row. Its string form is the
// storage path plugins derive object keys from.
type AssetID struct {
	Kind  AssetKind
	Room  room.Room
	Clock room.Clock
	// GC distinguishes the two document forms. Only meaningful for KindDoc.
	GC bool
}

// String renders the id as a slash-separated path with percent-encoded
// identity fields. ParseAssetID inverts it.
func (id AssetID) String() string {
	parts := []string{
		string(id.Kind),
		url.QueryEscape(id.Room.Org),
		url.QueryEscape(id.Room.DocID),
		url.QueryEscape(id.Room.Branch),
	}
	if id.Kind == KindDoc {
		gc := "0"
		if id.GC {
			gc = "1"
		}
		parts = append(parts, gc)
	}
	parts = append(parts, id.Clock.String())
	return strings.Join(parts, "/")
}

// ParseAssetID decodes the string form produced by String.
func ParseAssetID(s string) (AssetID, error) {
	parts := strings.Split(s, "/")
	kind := AssetKind(parts[0])
	want := 5
	if kind == KindDoc {
		want = 6
	}
	switch kind {
	case KindDoc, KindAttributionMap, KindAttributionIDs:
	default:
		return AssetID{}, fmt.Errorf("unknown asset kind %q", parts[0])
	}
	if len(parts) != want {
		return AssetID{}, fmt.Errorf("asset id %q: expected %d segments, got %d", s, want, len(parts))
	}
	org, err := url.QueryUnescape(parts[1])
	if err != nil {
		return AssetID{}, fmt.Errorf("asset id %q: %w", s, err)
	}
	docid, err := url.QueryUnescape(parts[2])
	if err != nil {
		return AssetID{}, fmt.Errorf("asset id %q: %w", s, err)
	}
	branch, err := url.QueryUnescape(parts[3])
	if err != nil {
		return AssetID{}, fmt.Errorf("asset id %q: %w", s, err)
	}
	id := AssetID{Kind: kind, Room: room.Room{Org: org, DocID: docid, Branch: branch}}
	next := 4
	if kind == KindDoc {
		id.GC = parts[4] == "1"
		next = 5
	}
	c, err := room.ParseClock(parts[next])
	if err != nil {
		return AssetID{}, fmt.Errorf("asset id %q: %w", s, err)
	}
	id.Clock = c
	return id, nil
}

// Asset is the envelope stored in a row's blob column. Inline assets carry
// the bytes; retrievable assets only name the plugin that holds them.
type Asset struct {
	Type   string `json:"type"`
	Plugin string `json:"plugin,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// Inline wraps raw bytes in an inline asset envelope.
func Inline(data []byte) Asset {
	return Asset{Type: AssetInline, Data: data}
}

// Retrievable reports whether the asset's bytes live behind a plugin.
func (a Asset) Retrievable() bool { return a.Type == AssetRetrievable }

// Reference pairs an asset id with the envelope found in its row, so the
// caller can later delete both the row and any offloaded bytes.
type Reference struct {
	ID    AssetID
	Asset Asset
}
