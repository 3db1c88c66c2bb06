package hpack

import (
	"math"
)

// Integer representation (RFC 7541 §5.1).
//
//   if I < 2^N - 1, encode I on N bits
//   else
//       encode (2^N - 1) on N bits
//       I = I - (2^N - 1)
//       while I >= 128
//            encode (I % 128 + 128) on 8 bits
//            I = I / 128
//       encode I on 8 bits

// encodeInteger writes value into the low n bits of b[0] and any needed
// continuation bytes. The high 8-n bits of b[0] are preserved, so callers
// set the representation flag before encoding. Returns bytes written.
func encodeInteger(b []byte, value uint32, n uint8) (int, error) {
	if n < 1 || n > 8 {
		return 0, errIntegerOverflow
	}
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	mask := uint32(1)<<n - 1
	if value < mask {
		b[0] |= byte(value)
		return 1, nil
	}
	b[0] |= byte(mask)
	value -= mask
	i := 1
	for value >= 128 {
		if i >= len(b) {
			return 0, errShortBuffer
		}
		b[i] = byte(value&0x7f) | 0x80
		value >>= 7
		i++
	}
	// The final byte only needs one remaining slot.
	if i >= len(b) {
		return 0, errShortBuffer
	}
	b[i] = byte(value)
	return i + 1, nil
}

// decodeInteger reads an n-bit prefix integer from b into v and returns the
// number of bytes consumed. Values that do not fit in uint32, and encodings
// with more than five continuation bytes, are errors.
func decodeInteger(v *uint32, b []byte, n uint8) (int, error) {
	if n < 1 || n > 8 {
		return 0, errIntegerOverflow
	}
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	mask := uint32(1)<<n - 1
	value := uint64(uint32(b[0]) & mask)
	i := 1
	if value == uint64(mask) {
		m := uint(0)
		for {
			if i >= len(b) {
				return 0, errShortBuffer
			}
			c := b[i]
			i++
			value += uint64(c&0x7f) << m
			if value > math.MaxUint32 {
				return 0, errIntegerOverflow
			}
			if c&0x80 == 0 {
				break
			}
			m += 7
			if m > 28 {
				return 0, errIntegerOverflow
			}
		}
	}
	*v = uint32(value)
	return i, nil
}

// String literal representation (RFC 7541 §5.2):
// H(1 bit) | length with 7-bit prefix | raw or Huffman octets.

// encodeString writes v as a raw string literal (H=0). The encoder does not
// produce Huffman strings; the decoder accepts both forms.
func encodeString(b []byte, v string) (int, error) {
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	if len(v) > maxStringLength {
		return 0, errStringLength
	}
	b[0] = 0
	n, err := encodeInteger(b, uint32(len(v)), 7)
	if err != nil {
		return 0, err
	}
	if n+len(v) > len(b) {
		return 0, errShortBuffer
	}
	copy(b[n:], v)
	return n + len(v), nil
}

// decodeString reads a string literal and returns it with the number of
// bytes consumed. Encoded lengths beyond maxStringLength are rejected; an
// exact-fit buffer is valid.
func decodeString(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, errShortBuffer
	}
	huffman := b[0]&0x80 != 0
	var length uint32
	n, err := decodeInteger(&length, b, 7)
	if err != nil {
		return "", 0, err
	}
	if length > maxStringLength {
		return "", 0, errStringLength
	}
	if uint32(len(b)-n) < length {
		return "", 0, errShortBuffer
	}
	data := b[n : n+int(length)]
	n += int(length)
	if huffman {
		v, err := huffmanDecode(data)
		if err != nil {
			return "", 0, err
		}
		return v, n, nil
	}
	return string(data), n, nil
}

// Header field representations (RFC 7541 §6), distinguished by the top bits
// of the first byte:
//
//	1xxxxxxx  indexed                          prefix 7
//	01xxxxxx  literal, incremental indexing    prefix 6
//	001xxxxx  dynamic table size update        prefix 5
//	0001xxxx  literal, never indexed           prefix 4
//	0000xxxx  literal, without indexing        prefix 4

// EncodeIndexed writes an indexed header field for a combined address space
// index and returns bytes written.
func EncodeIndexed(b []byte, index int) (int, error) {
	if index <= 0 {
		return 0, errInvalidIndex
	}
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	b[0] = 0x80
	return encodeInteger(b, uint32(index), 7)
}

// EncodeLiteral writes a literal header field. nameIndex 0 writes the name
// inline; a non-zero nameIndex references the combined address space and
// only the value is written. The caller maintains the dynamic table when
// using IncrementalIndexing.
func EncodeLiteral(b []byte, f HeaderField, nameIndex int, mode Indexing) (int, error) {
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	var flag byte
	var prefix uint8
	switch mode {
	case IncrementalIndexing:
		flag, prefix = 0x40, 6
	case WithoutIndexing:
		flag, prefix = 0x00, 4
	case NeverIndexed:
		flag, prefix = 0x10, 4
	default:
		return 0, errInvalidIndex
	}
	b[0] = flag
	n, err := encodeInteger(b, uint32(nameIndex), prefix)
	if err != nil {
		return 0, err
	}
	if nameIndex == 0 {
		m, err := encodeString(b[n:], f.Name)
		if err != nil {
			return 0, err
		}
		n += m
	}
	m, err := encodeString(b[n:], f.Value)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

// EncodeTableSizeUpdate writes a dynamic table size update. It is only
// valid at the start of a header block.
func EncodeTableSizeUpdate(b []byte, size int) (int, error) {
	if size < 0 {
		return 0, errTableSizeUpdate
	}
	if len(b) == 0 {
		return 0, errShortBuffer
	}
	b[0] = 0x20
	return encodeInteger(b, uint32(size), 5)
}

// Encode writes fields to b as one header block and returns bytes written.
// Every field is emitted as a literal with incremental indexing and an
// inline name, and inserted into t, so that encoder and decoder tables stay
// synchronized.
func Encode(b []byte, fields []HeaderField, t *Table) (int, error) {
	i := 0
	for _, f := range fields {
		n, err := EncodeLiteral(b[i:], f, 0, IncrementalIndexing)
		if err != nil {
			return 0, err
		}
		t.Add(f.Name, f.Value)
		i += n
	}
	return i, nil
}

// Decode reads one header block from b, mutating t with any incremental
// insertions and size updates in order. Any malformed field fails the whole
// block; the caller must then treat the connection's compression state as
// irreparable.
func Decode(b []byte, t *Table) ([]HeaderField, error) {
	var fields []HeaderField
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c&0x80 != 0: // indexed
			var index uint32
			n, err := decodeInteger(&index, b[i:], 7)
			if err != nil {
				return nil, err
			}
			f, err := t.Get(int(index))
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			i += n

		case c&0xe0 == 0x20: // dynamic table size update
			// Only valid before the first field of a block.
			if len(fields) > 0 {
				return nil, errTableSizeUpdate
			}
			var size uint32
			n, err := decodeInteger(&size, b[i:], 5)
			if err != nil {
				return nil, err
			}
			if int(size) > t.limit {
				return nil, errTableSizeUpdate
			}
			t.SetMaxSize(int(size))
			i += n

		default: // literal
			f, n, err := decodeLiteral(b[i:], t)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			i += n
		}
	}
	return fields, nil
}

func decodeLiteral(b []byte, t *Table) (HeaderField, int, error) {
	var prefix uint8
	incremental := false
	switch {
	case b[0]&0x40 != 0: // 01xxxxxx
		prefix = 6
		incremental = true
	default: // 0001xxxx and 0000xxxx
		prefix = 4
	}
	var index uint32
	n, err := decodeInteger(&index, b, prefix)
	if err != nil {
		return HeaderField{}, 0, err
	}
	var f HeaderField
	if index != 0 {
		ref, err := t.Get(int(index))
		if err != nil {
			return HeaderField{}, 0, err
		}
		f.Name = ref.Name
	} else {
		name, m, err := decodeString(b[n:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		f.Name = name
		n += m
	}
	value, m, err := decodeString(b[n:])
	if err != nil {
		return HeaderField{}, 0, err
	}
	f.Value = value
	n += m

	if incremental {
		t.Add(f.Name, f.Value)
	}
	return f, n, nil
}
