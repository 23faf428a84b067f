// Package diffengine implements the line-diff algebra: an ordered,
// 1-indexed sequence of strings as the base, and a Diff as an ordered
// list of Delete/Insert operations over that base's original indices.
//
// CalcDiff is total and always produces a diff that ApplyDiff can
// replay to reconstruct the target sequence exactly (the round-trip
// law tested in diff_test.go). Callers needing a wire representation
// use MarshalVersionDiff/UnmarshalVersionDiff, matching the shapes in
// spec section 6.1.
package diffengine

import (
	"fmt"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
)

// OpKind distinguishes the two operation variants.
type OpKind string

const (
	OpDelete OpKind = "del"
	OpInsert OpKind = "ins"
)

// Operation is a single edit against a base sequence's original,
// pre-edit indices. Delete removes base line Line (1-indexed). Insert
// places Content after base index Line; Line == 0 means "at the very
// front of the output".
type Operation struct {
	Op      OpKind   `json:"op"`
	Line    int      `json:"line"`
	Content []string `json:"content"`
}

// Diff is an ordered sequence of operations against a single base.
// The zero value (nil slice) and Empty both represent the identity
// diff and compare equal via Equal.
type Diff []Operation

// Empty is the distinguished identity diff.
var Empty = Diff{}

// IsEmpty reports whether d has no operations.
func (d Diff) IsEmpty() bool {
	return len(d) == 0
}

// Equal reports whether two diffs describe the same operations in the
// same order.
func (d Diff) Equal(other Diff) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		a, b := d[i], other[i]
		if a.Op != b.Op || a.Line != b.Line || len(a.Content) != len(b.Content) {
			return false
		}
		for j := range a.Content {
			if a.Content[j] != b.Content[j] {
				return false
			}
		}
	}
	return true
}

// CalcDiff returns the canonical "delete everything, insert the new
// sequence" diff: one Delete(i) for every i in [1..len(base)], then a
// single Insert(0, new) when new is non-empty. It is total, never
// fails, and guarantees ApplyDiff(base, CalcDiff(base, new)) == new.
func CalcDiff(base, newLines []string) Diff {
	if len(base) == 0 && len(newLines) == 0 {
		return Empty
	}

	d := make(Diff, 0, len(base)+1)
	for i := 1; i <= len(base); i++ {
		d = append(d, Operation{Op: OpDelete, Line: i, Content: []string{""}})
	}
	if len(newLines) > 0 {
		content := make([]string, len(newLines))
		copy(content, newLines)
		d = append(d, Operation{Op: OpInsert, Line: 0, Content: content})
	}
	return d
}

// ApplyDiff replays d against base, returning the resulting sequence.
// Insert(0, ...) operations always land at the very front of the
// output regardless of their position in d, matching the shape the
// canonical CalcDiff producer emits (all deletes, then a trailing
// Insert(0, new)). Indices outside [1..len(base)] for Delete, or
// non-ascending Line values, fail with ErrMalformedDiff. Insert(i)
// with i > len(base) is accepted and appended in ascending order
// after the base is exhausted (spec section 9, open question).
func ApplyDiff(base []string, d Diff) ([]string, error) {
	var front []string
	rest := make(Diff, 0, len(d))
	for _, op := range d {
		if op.Op != OpDelete && op.Op != OpInsert {
			return nil, fmt.Errorf("%w: unknown op %q", camlerrors.ErrMalformedDiff, op.Op)
		}
		if op.Line < 0 {
			return nil, fmt.Errorf("%w: negative line %d", camlerrors.ErrMalformedDiff, op.Line)
		}
		if op.Op == OpInsert && op.Line == 0 {
			front = append(front, op.Content...)
			continue
		}
		rest = append(rest, op)
	}

	out := make([]string, 0, len(base)+len(front))
	out = append(out, front...)

	cur := 1
	opIdx := 0
	lastLine := 0
	for cur <= len(base) {
		if opIdx < len(rest) {
			op := rest[opIdx]
			if op.Line < lastLine {
				return nil, fmt.Errorf("%w: operation index %d out of order", camlerrors.ErrMalformedDiff, op.Line)
			}
			if op.Op == OpDelete {
				if op.Line < 1 || op.Line > len(base) {
					return nil, fmt.Errorf("%w: delete index %d out of range [1,%d]", camlerrors.ErrMalformedDiff, op.Line, len(base))
				}
				if op.Line == cur {
					lastLine = op.Line
					opIdx++
					cur++
					continue
				}
			} else if op.Line == cur {
				out = append(out, base[cur-1])
				out = append(out, op.Content...)
				lastLine = op.Line
				opIdx++
				cur++
				continue
			}
		}
		out = append(out, base[cur-1])
		cur++
	}

	for opIdx < len(rest) {
		op := rest[opIdx]
		if op.Op != OpInsert {
			return nil, fmt.Errorf("%w: delete index %d out of range [1,%d]", camlerrors.ErrMalformedDiff, op.Line, len(base))
		}
		if op.Line < lastLine {
			return nil, fmt.Errorf("%w: operation index %d out of order", camlerrors.ErrMalformedDiff, op.Line)
		}
		lastLine = op.Line
		out = append(out, op.Content...)
		opIdx++
	}

	return out, nil
}
