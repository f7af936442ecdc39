package sml

import "fmt"

// Kind identifies the variant held by a Node.
type Kind int

const (
	KindList Kind = iota
	KindUnsigned
	KindSigned
	KindOctetString
	KindBoolean
	KindEndOfMessage
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindOctetString:
		return "octet_string"
	case KindBoolean:
		return "boolean"
	case KindEndOfMessage:
		return "end_of_message"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for candidate := KindList; candidate <= KindEndOfMessage; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("sml: unknown kind %q", string(text))
}

// Node is one decoded SML unit. Offset and Length locate its encoded bytes
// within the validated payload; HeaderLen is the number of type-length bytes
// at the front of it. Only the fields matching Kind are set.
type Node struct {
	Kind      Kind
	Offset    int
	Length    int
	HeaderLen int

	// Width is the value width in bytes for integers.
	Width    int
	Unsigned uint64
	Signed   int64
	Bytes    []byte
	Bool     bool
	Children []*Node
}

// ContentLength is the encoded length without the type-length header. For a
// list it equals the sum of the children's lengths.
func (n *Node) ContentLength() int {
	return n.Length - n.HeaderLen
}

// End returns the payload offset just past the node's encoding.
func (n *Node) End() int {
	return n.Offset + n.Length
}

// IsScalar reports whether the node carries a numeric value.
func (n *Node) IsScalar() bool {
	switch n.Kind {
	case KindUnsigned, KindSigned, KindBoolean:
		return true
	}
	return false
}

// Value returns the numeric value of a scalar node.
func (n *Node) Value() (Value, bool) {
	switch n.Kind {
	case KindUnsigned:
		return Value{Kind: n.Kind, Width: n.Width, Unsigned: n.Unsigned}, true
	case KindSigned:
		return Value{Kind: n.Kind, Width: n.Width, Signed: n.Signed}, true
	case KindBoolean:
		v := Value{Kind: n.Kind, Width: 1}
		if n.Bool {
			v.Unsigned = 1
		}
		return v, true
	}
	return Value{}, false
}

// Walk visits n and its descendants depth-first in encoding order. Returning
// false from fn skips the children of the visited node.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

func (n *Node) String() string {
	switch n.Kind {
	case KindList:
		return fmt.Sprintf("list[%d]@%d", len(n.Children), n.Offset)
	case KindUnsigned:
		return fmt.Sprintf("u%d(%d)@%d", n.Width*8, n.Unsigned, n.Offset)
	case KindSigned:
		return fmt.Sprintf("i%d(%d)@%d", n.Width*8, n.Signed, n.Offset)
	case KindOctetString:
		return fmt.Sprintf("octets(% X)@%d", n.Bytes, n.Offset)
	case KindBoolean:
		return fmt.Sprintf("bool(%t)@%d", n.Bool, n.Offset)
	case KindEndOfMessage:
		return fmt.Sprintf("eom@%d", n.Offset)
	default:
		return n.Kind.String()
	}
}

// Value is a numeric value read from a scalar node.
type Value struct {
	Kind     Kind   `json:"kind"`
	Width    int    `json:"width"`
	Unsigned uint64 `json:"unsigned,omitempty"`
	Signed   int64  `json:"signed,omitempty"`
}

// Float64 converts the value to a float, applying the sign of signed types.
func (v Value) Float64() float64 {
	if v.Kind == KindSigned {
		return float64(v.Signed)
	}
	return float64(v.Unsigned)
}

// Int64 converts the value to an int64. Unsigned values above MaxInt64 wrap.
func (v Value) Int64() int64 {
	if v.Kind == KindSigned {
		return v.Signed
	}
	return int64(v.Unsigned)
}
