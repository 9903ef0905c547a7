package docengine

// Engine is the consumed surface of the external document engine. A nil or
// empty byte slice is the empty document/map everywhere.
type Engine interface {
	// MergeUpdates merges encoded updates into one encoded document.
	// Associative and commutative; duplicates are harmless.
	MergeUpdates(updates [][]byte) ([]byte, error)
	// ApplyUpdate folds one update into an encoded document.
	ApplyUpdate(doc, update []byte) ([]byte, error)
	// StateVector summarizes a document for sync handshakes.
	StateVector(doc []byte) ([]byte, error)

	// MergeAttributions merges encoded attribution maps.
	MergeAttributions(maps [][]byte) ([]byte, error)
	// AttributionIDs derives the content-id index of an attribution map.
	AttributionIDs(m []byte) ([]byte, error)
	// FilterAttributions keeps only the entries listed in keep.
	FilterAttributions(m []byte, keep [][]byte) ([]byte, error)
	// IntersectAttributions keeps entries present in both maps.
	IntersectAttributions(a, b []byte) ([]byte, error)
	// ExcludeAttributions removes b's entries from a.
	ExcludeAttributions(a, b []byte) ([]byte, error)
}
