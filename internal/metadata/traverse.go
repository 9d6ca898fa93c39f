package metadata

import "strings"

// VisitFunc is called for each node ForEachNode visits: depth 0 is the
// start node itself, index is the node's sibling position at its
// nesting level. Returning a valid Ref short-circuits the walk and that
// Ref is bubbled up as ForEachNode's result.
type VisitFunc func(depth, index int, n Ref) Ref

// ForEachNode visits start (depth 0, index 0), then recurses depth-first
// into Child/List children (ignored for NodeString/NodeInteger),
// advancing through Next at each level — spec §4.7's traversal API.
func ForEachNode(start Ref, fn VisitFunc) Ref {
	return visit(start, 0, 0, fn)
}

func visit(n Ref, depth, index int, fn VisitFunc) Ref {
	for n.Valid() {
		if hit := fn(depth, index, n); hit.Valid() {
			return hit
		}
		if n.Type() == NodeChild || n.Type() == NodeList {
			if hit := visit(n.Child(), depth+1, 0, fn); hit.Valid() {
				return hit
			}
		}
		n = n.Next()
		index++
	}
	return Ref{}
}

// GetKeyPath splits path on '/' (a leading '/' is permitted and
// ignored) and, at each step, hash-searches the current subtree (rooted
// at, and including, the current node) for a match via ForEachNode. The
// first hash match wins, but — per spec §9's Open Question resolution
// recorded in DESIGN.md — a hash hit is confirmed by a full key-string
// comparison before being accepted, since djb2 collisions are possible.
func GetKeyPath(start Ref, path string) Ref {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return Ref{}
	}

	cur := start
	for _, segment := range strings.Split(path, "/") {
		if !cur.Valid() {
			return Ref{}
		}
		h := hashBytes([]byte(segment))
		matches := func(_, _ int, n Ref) Ref {
			if n.Hash() == h && n.Key() == segment {
				return n
			}
			return Ref{}
		}
		// Check cur itself, then only its descendants: ForEachNode(cur)
		// would also walk cur's later siblings, which are outside the
		// subtree.
		match := matches(0, 0, cur)
		if !match.Valid() && (cur.Type() == NodeChild || cur.Type() == NodeList) {
			match = ForEachNode(cur.Child(), matches)
		}
		if !match.Valid() {
			return Ref{}
		}
		cur = match
	}
	return cur
}
