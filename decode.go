package sml

// Type-length header layout.
const (
	tlMoreFlag   = 0x80
	tlTypeMask   = 0x70
	tlLengthMask = 0x0F

	typeOctetString = 0x00
	typeBoolean     = 0x40
	typeSigned      = 0x50
	typeUnsigned    = 0x60
	typeList        = 0x70

	endOfMessage = 0x00
	maxIntWidth  = 8
)

// Decode turns a validated payload into a node tree. The root is a headerless
// list at offset 0 whose children are the top-level units of the payload. On
// error no partial tree is returned.
func Decode(payload []byte) (*Node, error) {
	d := decoder{buf: payload}
	root := &Node{Kind: KindList, Offset: 0, Length: len(payload)}
	for d.pos < len(payload) {
		child, err := d.unit()
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

type decoder struct {
	buf []byte
	pos int
}

// header reads the type-length bytes at the cursor.
func (d *decoder) header() (typ byte, length int, n int, err error) {
	start := d.pos
	first := d.buf[start]
	typ = first & tlTypeMask
	length = int(first & tlLengthMask)
	n = 1
	for more := first&tlMoreFlag != 0; more; n++ {
		if start+n >= len(d.buf) {
			return 0, 0, 0, decodeErrorf(start, "type-length header truncated after %d bytes", n)
		}
		next := d.buf[start+n]
		if next&tlTypeMask != 0 {
			return 0, 0, 0, decodeErrorf(start+n, "invalid type-length continuation 0x%02X", next)
		}
		if length > len(d.buf) {
			return 0, 0, 0, decodeErrorf(start, "type-length header overflows payload")
		}
		length = length<<4 | int(next&tlLengthMask)
		more = next&tlMoreFlag != 0
	}
	return typ, length, n, nil
}

// unit decodes one unit starting at the cursor and advances past it.
func (d *decoder) unit() (*Node, error) {
	start := d.pos
	if d.buf[start] == endOfMessage {
		d.pos++
		return &Node{Kind: KindEndOfMessage, Offset: start, Length: 1, HeaderLen: 1}, nil
	}

	typ, length, hl, err := d.header()
	if err != nil {
		return nil, err
	}

	if typ == typeList {
		d.pos += hl
		node := &Node{Kind: KindList, Offset: start, HeaderLen: hl, Children: make([]*Node, 0, length)}
		for i := 0; i < length; i++ {
			if d.pos >= len(d.buf) {
				return nil, decodeErrorf(start, "list declares %d elements, payload ends after %d", length, i)
			}
			child, err := d.unit()
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		node.Length = d.pos - start
		return node, nil
	}

	if length < hl {
		return nil, decodeErrorf(start, "length %d shorter than its %d byte header", length, hl)
	}
	if start+length > len(d.buf) {
		return nil, decodeErrorf(start, "length %d exceeds remaining %d bytes", length, len(d.buf)-start)
	}
	value := d.buf[start+hl : start+length]
	node := &Node{Offset: start, Length: length, HeaderLen: hl}

	switch typ {
	case typeOctetString:
		node.Kind = KindOctetString
		node.Bytes = value
	case typeBoolean:
		if len(value) != 1 {
			return nil, decodeErrorf(start, "boolean with %d value bytes", len(value))
		}
		node.Kind = KindBoolean
		node.Bool = value[0] != 0
	case typeUnsigned, typeSigned:
		if len(value) == 0 || len(value) > maxIntWidth {
			return nil, decodeErrorf(start, "integer with %d value bytes", len(value))
		}
		var u uint64
		for _, b := range value {
			u = u<<8 | uint64(b)
		}
		node.Width = len(value)
		if typ == typeUnsigned {
			node.Kind = KindUnsigned
			node.Unsigned = u
		} else {
			shift := uint(64 - 8*len(value))
			node.Kind = KindSigned
			node.Signed = int64(u<<shift) >> shift
		}
	default:
		return nil, decodeErrorf(start, "unknown type 0x%02X", typ)
	}
	d.pos = start + length
	return node, nil
}
