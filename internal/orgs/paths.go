package orgs

import (
	"github.com/kausaltech/kausal-watch-sub001/internal/store"
)

const firstSegment = store.FirstOrgPathSegment

// NextSegment returns the sibling segment following the given one.
func NextSegment(segment string) (string, error) {
	return store.NextPathSegment(segment)
}

// ChildPath appends a segment to a parent path. The root has an empty
// parent path.
func ChildPath(parentPath, segment string) string {
	return parentPath + segment
}

// ParentPath strips the last segment. Top-level nodes have no parent.
func ParentPath(path string) (string, bool) {
	if len(path) <= store.OrgPathSegmentLen {
		return "", false
	}
	return path[:len(path)-store.OrgPathSegmentLen], true
}

// LastSegment returns the final segment of a path.
func LastSegment(path string) string {
	if len(path) < store.OrgPathSegmentLen {
		return path
	}
	return path[len(path)-store.OrgPathSegmentLen:]
}
