// Package optree implements the Operation Tree Builder (component C5):
// the tagged-union node type applications use to describe what an
// operation targets, and daemons use to describe what a response or
// change notification carries.
package optree

import (
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// Kind discriminates the tagged union: Object and Instance nodes carry
// Children, Resource and ResourceInstance nodes carry Leaf.
type Kind int

const (
	KindObject Kind = iota
	KindInstance
	KindResource
	KindResourceInstance
)

// Node is one element of an operation, response, or change tree. Only the
// fields relevant to Kind are meaningful; the zero value of the others is
// ignored.
type Node struct {
	Kind     Kind
	ID       path.ID
	Children []*Node
	Leaf     value.Value
}

// ObjectNode constructs an Object-kind node with the given Instance
// children.
func ObjectNode(id path.ID, children ...*Node) *Node {
	return &Node{Kind: KindObject, ID: id, Children: children}
}

// InstanceNode constructs an Instance-kind node with the given Resource
// children.
func InstanceNode(id path.ID, children ...*Node) *Node {
	return &Node{Kind: KindInstance, ID: id, Children: children}
}

// ResourceNode constructs a Resource-kind leaf node. For a multi-instance
// resource, leaf should carry a value.KindArray value; for a scalar
// resource, any other Value kind.
func ResourceNode(id path.ID, leaf value.Value) *Node {
	return &Node{Kind: KindResource, ID: id, Leaf: leaf}
}

// ResourceWithInstances constructs a Resource-kind node whose children are
// individual ResourceInstance nodes, used when a multi-instance resource
// is represented expanded rather than collapsed into an Array Leaf.
func ResourceWithInstances(id path.ID, children ...*Node) *Node {
	return &Node{Kind: KindResource, ID: id, Children: children}
}

// ResourceInstanceNode constructs a ResourceInstance-kind leaf node.
func ResourceInstanceNode(id path.ID, leaf value.Value) *Node {
	return &Node{Kind: KindResourceInstance, ID: id, Leaf: leaf}
}

// Path reconstructs the full Path addressed by n given the path of its
// parent (nil/zero-value Path for a root Object node).
func (n *Node) Path(parent path.Path, hasParent bool) path.Path {
	if !hasParent {
		return path.Object(n.ID)
	}
	switch n.Kind {
	case KindInstance:
		return path.ObjectInstance(parent.ObjectID(), n.ID)
	case KindResource:
		return path.Resource(parent.ObjectID(), parent.InstanceID(), n.ID)
	case KindResourceInstance:
		return path.ResourceInstance(parent.ObjectID(), parent.InstanceID(), parent.ResourceID(), n.ID)
	default:
		return path.Object(n.ID)
	}
}

// Walk visits every leaf-bearing node (Resource without Children, or
// ResourceInstance) reachable from n, in path-ascending order, calling fn
// with the full resolved Path and its Leaf value.
func Walk(n *Node, basePath path.Path, hasBase bool, fn func(p path.Path, v value.Value)) {
	p := n.Path(basePath, hasBase)
	if (n.Kind == KindResource || n.Kind == KindResourceInstance) && len(n.Children) == 0 {
		fn(p, n.Leaf)
		return
	}
	children := append([]*Node(nil), n.Children...)
	sortNodes(children)
	for _, c := range children {
		Walk(c, p, true, fn)
	}
}

func sortNodes(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].ID > nodes[j].ID; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
