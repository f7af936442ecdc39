package sml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, payload []byte) *Node {
	t.Helper()
	raw := scanOne(t, encodeFrame(payload))
	validated, err := Validate(raw)
	require.NoError(t, err)
	root, err := Decode(validated)
	require.NoError(t, err)
	return root
}

func TestDecodeScenarioOffsets(t *testing.T) {
	root := decodeFrame(t, scenarioPayload())

	v, err := Extract(root, 171)
	require.NoError(t, err)
	assert.Equal(t, KindUnsigned, v.Kind)
	assert.Equal(t, 4, v.Width)
	assert.Equal(t, uint64(123456), v.Unsigned)

	v, err = Extract(root, 202)
	require.NoError(t, err)
	assert.Equal(t, uint64(78910), v.Unsigned)
}

func TestDecodeGetListResponse(t *testing.T) {
	root := decodeFrame(t, getListResponse(1234567, 89, -1500))
	require.Len(t, root.Children, 1)

	msg := root.Children[0]
	assert.Equal(t, KindList, msg.Kind)
	require.Len(t, msg.Children, 6)
	assert.Equal(t, KindEndOfMessage, msg.Children[5].Kind)
	assert.Equal(t, 115, msg.Children[5].Offset)
	assert.Equal(t, 116, msg.End())

	cases := []struct {
		offset int
		want   float64
	}{
		{58, -1},
		{60, 1234567},
		{80, 89},
		{100, -1500},
	}
	for _, tc := range cases {
		v, err := Extract(root, tc.offset)
		require.NoError(t, err, "offset %d", tc.offset)
		assert.Equal(t, tc.want, v.Float64(), "offset %d", tc.offset)
	}
}

func TestDecodeListLengthsAreConsistent(t *testing.T) {
	for _, payload := range [][]byte{scenarioPayload(), getListResponse(1, 2, -3)} {
		root := decodeFrame(t, payload)
		assert.Equal(t, len(payload), root.Length)
		root.Walk(func(n *Node) bool {
			if n.Kind != KindList {
				return true
			}
			sum := 0
			next := n.Offset + n.HeaderLen
			for _, c := range n.Children {
				assert.Equal(t, next, c.Offset, "child of %s", n)
				next = c.End()
				sum += c.Length
			}
			assert.Equal(t, n.ContentLength(), sum, "list %s", n)
			return true
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	payload := getListResponse(42, 43, 44)
	a, err := Decode(payload)
	require.NoError(t, err)
	b, err := Decode(append([]byte{}, payload...))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeScalars(t *testing.T) {
	cases := []struct {
		name  string
		data  []byte
		kind  Kind
		width int
		value float64
	}{
		{"u8", []byte{0x62, 0xFF}, KindUnsigned, 1, 255},
		{"u16", []byte{0x63, 0x01, 0x00}, KindUnsigned, 2, 256},
		{"u24", []byte{0x64, 0x01, 0x00, 0x00}, KindUnsigned, 3, 65536},
		{"u64", []byte{0x69, 0, 0, 0, 0, 0, 0, 0x01, 0x00}, KindUnsigned, 8, 256},
		{"i8", []byte{0x52, 0xFF}, KindSigned, 1, -1},
		{"i16", []byte{0x53, 0xFF, 0x38}, KindSigned, 2, -200},
		{"i40", []byte{0x56, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE}, KindSigned, 5, -2},
		{"i32 positive", []byte{0x55, 0x00, 0x00, 0x01, 0x00}, KindSigned, 4, 256},
		{"bool", []byte{0x42, 0x01}, KindBoolean, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := Decode(tc.data)
			require.NoError(t, err)
			require.Len(t, root.Children, 1)
			n := root.Children[0]
			assert.Equal(t, tc.kind, n.Kind)
			assert.Equal(t, len(tc.data), n.Length)
			assert.Equal(t, 1, n.HeaderLen)
			v, ok := n.Value()
			require.True(t, ok)
			assert.Equal(t, tc.width, v.Width)
			assert.Equal(t, tc.value, v.Float64())
		})
	}
}

func TestDecodeMultiByteHeaders(t *testing.T) {
	str := octets(21)
	assert.Equal(t, []byte{0x81, 0x05}, str[:2])

	elems := make([][]byte, 17)
	for i := range elems {
		elems[i] = u8(uint8(i))
	}
	bigList := append([]byte{0xF1, 0x01}, concat(elems...)...)

	root, err := Decode(concat(str, bigList))
	require.NoError(t, err)
	require.Len(t, root.Children, 2)

	s := root.Children[0]
	assert.Equal(t, KindOctetString, s.Kind)
	assert.Equal(t, 2, s.HeaderLen)
	assert.Equal(t, 21, s.Length)
	assert.Len(t, s.Bytes, 19)

	l := root.Children[1]
	assert.Equal(t, KindList, l.Kind)
	assert.Equal(t, 21, l.Offset)
	assert.Equal(t, 2, l.HeaderLen)
	assert.Len(t, l.Children, 17)
	assert.Equal(t, 2+17*2, l.Length)
}

func TestDecodeDeepNesting(t *testing.T) {
	const depth = 200
	payload := u32(7)
	for i := 0; i < depth; i++ {
		payload = list(payload)
	}
	root, err := Decode(payload)
	require.NoError(t, err)

	v, err := Extract(root, depth)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Unsigned)
}

func TestDecodeEmptyOptionalValues(t *testing.T) {
	root, err := Decode([]byte{0x73, 0x01, 0x01, 0x00})
	require.NoError(t, err)
	l := root.Children[0]
	require.Len(t, l.Children, 3)
	assert.Equal(t, KindOctetString, l.Children[0].Kind)
	assert.Empty(t, l.Children[0].Bytes)
	assert.Equal(t, KindEndOfMessage, l.Children[2].Kind)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name   string
		data   []byte
		offset int
	}{
		{"length exceeds payload", []byte{0x72, 0x62, 0x01, 0x65, 0x00, 0x01}, 3},
		{"unknown type", []byte{0x71, 0x21, 0x00}, 1},
		{"list runs past payload", []byte{0x00, 0x73, 0x62, 0x01}, 1},
		{"boolean too long", []byte{0x43, 0x01, 0x01}, 0},
		{"integer too wide", []byte{0x6A, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0},
		{"integer without value", []byte{0x61}, 0},
		{"truncated header", []byte{0x62, 0x01, 0x81}, 2},
		{"bad continuation", []byte{0x81, 0x71}, 1},
		{"length shorter than header", []byte{0x80, 0x01}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := Decode(tc.data)
			assert.Nil(t, root)
			require.ErrorIs(t, err, ErrDecode)
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tc.offset, decodeErr.Offset)
		})
	}
}
