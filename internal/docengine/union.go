package docengine

import (
	"bytes"
	"sort"
)

// Union is the reference Engine: a document is a newline-separated set of
// opaque tokens, updates are token sets, and every operation is plain set
// algebra. That makes merge associative, commutative and idempotent by
// construction, which is exactly the contract yhub relies on.
type Union struct{}

// NewUnion returns the reference engine.
func NewUnion() Union { return Union{} }

func tokens(b []byte) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range bytes.Split(b, []byte{'\n'}) {
		if len(tok) > 0 {
			set[string(tok)] = struct{}{}
		}
	}
	return set
}

func encode(set map[string]struct{}) []byte {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(k)
	}
	return buf.Bytes()
}

// MergeUpdates unions all token sets.
func (Union) MergeUpdates(updates [][]byte) ([]byte, error) {
	set := make(map[string]struct{})
	for _, u := range updates {
		for tok := range tokens(u) {
			set[tok] = struct{}{}
		}
	}
	return encode(set), nil
}

// ApplyUpdate unions the update into the document.
func (u Union) ApplyUpdate(doc, update []byte) ([]byte, error) {
	return u.MergeUpdates([][]byte{doc, update})
}

// StateVector of a token-set document is the document itself.
func (Union) StateVector(doc []byte) ([]byte, error) {
	return encode(tokens(doc)), nil
}

// MergeAttributions unions all attribution maps.
func (u Union) MergeAttributions(maps [][]byte) ([]byte, error) {
	return u.MergeUpdates(maps)
}

// AttributionIDs of a token-set map is the normalized set itself.
func (Union) AttributionIDs(m []byte) ([]byte, error) {
	return encode(tokens(m)), nil
}

// FilterAttributions keeps only tokens listed in keep.
func (Union) FilterAttributions(m []byte, keep [][]byte) ([]byte, error) {
	allowed := make(map[string]struct{})
	for _, k := range keep {
		for tok := range tokens(k) {
			allowed[tok] = struct{}{}
		}
	}
	out := make(map[string]struct{})
	for tok := range tokens(m) {
		if _, ok := allowed[tok]; ok {
			out[tok] = struct{}{}
		}
	}
	return encode(out), nil
}

// IntersectAttributions keeps tokens present in both maps.
func (Union) IntersectAttributions(a, b []byte) ([]byte, error) {
	bs := tokens(b)
	out := make(map[string]struct{})
	for tok := range tokens(a) {
		if _, ok := bs[tok]; ok {
			out[tok] = struct{}{}
		}
	}
	return encode(out), nil
}

// ExcludeAttributions removes b's tokens from a.
func (Union) ExcludeAttributions(a, b []byte) ([]byte, error) {
	bs := tokens(b)
	out := make(map[string]struct{})
	for tok := range tokens(a) {
		if _, ok := bs[tok]; !ok {
			out[tok] = struct{}{}
		}
	}
	return encode(out), nil
}
