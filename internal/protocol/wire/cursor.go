package wire

import (
	"encoding/binary"
	"errors"

	"github.com/danmuck/replack/internal/protocol"
)

// Cursor is a read position over an immutable buffer. Every read returns the
// advanced cursor; the receiver is never modified.
type Cursor struct {
	buf []byte
	off int
}

func NewCursor(b []byte) Cursor {
	return Cursor{buf: b}
}

func (c Cursor) Offset() int {
	return c.off
}

func (c Cursor) Remaining() int {
	return len(c.buf) - c.off
}

func (c Cursor) take(n int) ([]byte, Cursor, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c, protocol.ErrTruncated
	}
	out := c.buf[c.off : c.off+n]
	c.off += n
	return out, c, nil
}

// Skip advances past n bytes.
func (c Cursor) Skip(n int) (Cursor, error) {
	_, next, err := c.take(n)
	return next, err
}

func (c Cursor) U8() (uint8, Cursor, error) {
	b, next, err := c.take(1)
	if err != nil {
		return 0, c, err
	}
	return b[0], next, nil
}

func (c Cursor) I8() (int8, Cursor, error) {
	v, next, err := c.U8()
	return int8(v), next, err
}

func (c Cursor) U16() (uint16, Cursor, error) {
	b, next, err := c.take(2)
	if err != nil {
		return 0, c, err
	}
	return binary.LittleEndian.Uint16(b), next, nil
}

func (c Cursor) U32() (uint32, Cursor, error) {
	b, next, err := c.take(4)
	if err != nil {
		return 0, c, err
	}
	return binary.LittleEndian.Uint32(b), next, nil
}

func (c Cursor) I32() (int32, Cursor, error) {
	v, next, err := c.U32()
	return int32(v), next, err
}

func (c Cursor) U64() (uint64, Cursor, error) {
	b, next, err := c.take(8)
	if err != nil {
		return 0, c, err
	}
	return binary.LittleEndian.Uint64(b), next, nil
}

func (c Cursor) I64() (int64, Cursor, error) {
	v, next, err := c.U64()
	return int64(v), next, err
}

// Bool reads one byte that must be 0 or 1.
func (c Cursor) Bool() (bool, Cursor, error) {
	v, next, err := c.U8()
	if err != nil {
		return false, c, err
	}
	switch v {
	case 0:
		return false, next, nil
	case 1:
		return true, next, nil
	default:
		return false, c, protocol.Corruptf("invalid bool value %d", v)
	}
}

// Count reads a u32 element count and rejects values above limit.
func (c Cursor) Count(limit uint32) (uint32, Cursor, error) {
	n, next, err := c.U32()
	if err != nil {
		return 0, c, err
	}
	if n > limit {
		return 0, c, protocol.Corruptf("count %d exceeds limit %d", n, limit)
	}
	return n, next, nil
}

// Blob reads a u32 length-prefixed byte buffer and returns a copy.
func (c Cursor) Blob(limit uint32) ([]byte, Cursor, error) {
	n, next, err := c.Count(limit)
	if err != nil {
		return nil, c, err
	}
	b, next, err := next.take(int(n))
	if err != nil {
		return nil, c, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, next, nil
}

func (c Cursor) String(limit uint32) (string, Cursor, error) {
	n, next, err := c.Count(limit)
	if err != nil {
		return "", c, err
	}
	b, next, err := next.take(int(n))
	if err != nil {
		return "", c, err
	}
	return string(b), next, nil
}

// StructHeader prefixes every versioned struct on the wire.
type StructHeader struct {
	Version uint8
	Compat  uint8
	Len     uint32
}

const StructHeaderLen = 1 + 1 + 4

// DecodeStruct reads a versioned struct envelope and hands fn a cursor bounded
// to the struct body. Body bytes fn does not consume are skipped. A body read
// that runs past the declared length is corrupt input, not truncation.
func (c Cursor) DecodeStruct(maxCompat uint8, fn func(v uint8, body Cursor) (Cursor, error)) (Cursor, error) {
	v, next, err := c.U8()
	if err != nil {
		return c, err
	}
	compat, next, err := next.U8()
	if err != nil {
		return c, err
	}
	length, next, err := next.U32()
	if err != nil {
		return c, err
	}
	if compat > maxCompat {
		return c, protocol.Corruptf("struct compat %d above supported %d", compat, maxCompat)
	}
	if compat > v {
		return c, protocol.Corruptf("struct compat %d above version %d", compat, v)
	}
	if uint64(length) > uint64(next.Remaining()) {
		return c, protocol.ErrTruncated
	}
	end := next.off + int(length)
	body := Cursor{buf: next.buf[:end], off: next.off}
	if _, err := fn(v, body); err != nil {
		if errors.Is(err, protocol.ErrTruncated) {
			return c, protocol.Corruptf("struct body overruns declared length %d", length)
		}
		return c, err
	}
	return Cursor{buf: next.buf, off: end}, nil
}
