package photos

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNoDistanceToRoot is returned when an album's parent chain cannot
	// be followed to the root because a parent is missing from the working
	// set. This indicates an internally contradictory model, not an empty
	// result.
	ErrNoDistanceToRoot = errors.New("no distance to root")

	// ErrInvalidHierarchy is returned when a parent chain loops back on
	// itself, which would make any mutation ordering unsafe.
	ErrInvalidHierarchy = errors.New("invalid album hierarchy")
)

// Index is a working set of albums keyed by identifier, built once per
// reconciliation pass so ancestry walks resolve parents in constant time.
type Index map[string]Album

// BuildIndex indexes albums by identifier.
func BuildIndex(albums []Album) Index {
	idx := make(Index, len(albums))
	for _, a := range albums {
		idx[a.ID] = a
	}
	return idx
}

// DistanceToRoot counts the hops from the album to the synthetic root.
// An album directly under the root has distance 0. Returns
// ErrNoDistanceToRoot if a parent on the chain is absent from the index,
// and ErrInvalidHierarchy if the chain cycles.
func DistanceToRoot(a Album, idx Index) (int, error) {
	visited := map[string]bool{}
	dist := 0
	cur := a
	for cur.ParentID != "" {
		if visited[cur.ID] {
			return 0, fmt.Errorf("%w: cycle through album %q", ErrInvalidHierarchy, cur.ID)
		}
		visited[cur.ID] = true

		parent, ok := idx[cur.ParentID]
		if !ok {
			return 0, fmt.Errorf("%w: album %q references missing parent %q", ErrNoDistanceToRoot, cur.ID, cur.ParentID)
		}
		dist++
		cur = parent
	}
	return dist, nil
}

// HasAncestor reports whether ancestorID appears on the album's parent
// chain. A broken chain (parent missing from the index) or a cycle means
// the ancestry is unknown, which is reported as false, never as true.
func HasAncestor(a Album, ancestorID string, idx Index) bool {
	visited := map[string]bool{}
	cur := a
	for cur.ParentID != "" {
		if cur.ParentID == ancestorID {
			return true
		}
		if visited[cur.ParentID] {
			return false
		}
		visited[cur.ParentID] = true

		parent, ok := idx[cur.ParentID]
		if !ok {
			return false
		}
		cur = parent
	}
	return false
}
