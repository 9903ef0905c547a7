package persistence

import "fmt"

// BlobRetrievalError reports that a retrievable asset could not be resolved
// to bytes. Assembly treats the affected fragment as lost rather than
// failing the whole room.
type BlobRetrievalError struct {
	ID     AssetID
	Plugin string
	Err    error
}

func (e *BlobRetrievalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retrieve asset %s via plugin %q: %v", e.ID, e.Plugin, e.Err)
	}
	return fmt.Sprintf("retrieve asset %s: no plugin claims %q", e.ID, e.Plugin)
}

func (e *BlobRetrievalError) Unwrap() error { return e.Err }
