package optree

import (
	"fmt"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// entry is one flattened leaf produced by walking a response tree.
type entry struct {
	path  path.Path
	value value.Value
}

// PathIterator walks the leaves of a Response or ChangeSet tree in
// path-ascending order. It borrows from the tree that built it: the tree
// must outlive the iterator, and a PathIterator is invalidated (further
// calls return IteratorInvalid) once Close is called.
type PathIterator struct {
	entries []entry
	pos     int
	closed  bool
}

// NewPathIterator flattens root into path-ascending (Path, Value) pairs.
// root is resolved as the Object level (its ID becomes the ObjectID), so
// only an Object root yields full LwM2M paths.
func NewPathIterator(root *Node) *PathIterator {
	it := &PathIterator{}
	Walk(root, path.Path{}, false, func(p path.Path, v value.Value) {
		it.entries = append(it.entries, entry{path: p, value: v})
	})
	return it
}

// Next advances the iterator and returns the next (Path, Value) pair. The
// second return is false once the iterator is exhausted.
func (it *PathIterator) Next() (path.Path, value.Value, bool, error) {
	const op = "optree.PathIterator.Next"
	if it.closed {
		return path.Path{}, value.Value{}, false, lwm2merr.New(op, lwm2merr.IteratorInvalid, fmt.Errorf("iterator closed"))
	}
	if it.pos >= len(it.entries) {
		return path.Path{}, value.Value{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e.path, e.value, true, nil
}

// Len reports the total number of leaves the iterator will yield.
func (it *PathIterator) Len() int { return len(it.entries) }

// Close invalidates the iterator. Calling Next after Close returns
// IteratorInvalid, matching the borrow contract of the original
// implementation's path_iterator.c.
func (it *PathIterator) Close() { it.closed = true }
