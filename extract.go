package sml

import "fmt"

// ExtractedValue pairs a payload offset with the scalar found there.
type ExtractedValue struct {
	Offset int   `json:"offset"`
	Value  Value `json:"value"`
}

// Extract returns the value of the scalar unit whose encoding starts exactly
// at offset. It does not look inside units or across their boundaries: an
// offset that is not the start of a scalar yields ErrNotFound.
func Extract(root *Node, offset int) (Value, error) {
	if root == nil || offset < root.Offset || offset >= root.End() {
		return Value{}, fmt.Errorf("%w: %d", ErrNotFound, offset)
	}
	node := root
	for {
		if node.Offset == offset && node.Kind != KindList {
			if v, ok := node.Value(); ok {
				return v, nil
			}
			return Value{}, fmt.Errorf("%w: %d holds %s", ErrNotFound, offset, node.Kind)
		}
		next := childAt(node, offset)
		if next == nil {
			return Value{}, fmt.Errorf("%w: %d", ErrNotFound, offset)
		}
		node = next
	}
}

// childAt returns the child of a list whose encoding spans offset.
func childAt(list *Node, offset int) *Node {
	for _, child := range list.Children {
		if child.Offset > offset {
			return nil
		}
		if offset < child.End() {
			return child
		}
	}
	return nil
}

// Survey lists every scalar in the tree in offset order. It is the tool for
// finding the offsets of the values a particular meter reports.
func Survey(root *Node) []ExtractedValue {
	var out []ExtractedValue
	if root == nil {
		return out
	}
	root.Walk(func(n *Node) bool {
		if v, ok := n.Value(); ok {
			out = append(out, ExtractedValue{Offset: n.Offset, Value: v})
		}
		return true
	})
	return out
}
