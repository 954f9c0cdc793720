package wire

import "encoding/binary"

// Encoder appends little-endian fields to a growing buffer.
type Encoder struct {
	buf []byte
}

func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) PutU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) PutI8(v int8) {
	e.buf = append(e.buf, byte(v))
}

func (e *Encoder) PutU16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) PutU32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutI32(v int32) {
	e.PutU32(uint32(v))
}

func (e *Encoder) PutU64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) PutI64(v int64) {
	e.PutU64(uint64(v))
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutU8(1)
		return
	}
	e.PutU8(0)
}

func (e *Encoder) PutBlob(b []byte) {
	e.PutU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutString(s string) {
	e.PutU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// PutStruct writes a versioned struct envelope around whatever fn appends.
func (e *Encoder) PutStruct(version, compat uint8, fn func(e *Encoder)) {
	e.PutU8(version)
	e.PutU8(compat)
	lenAt := len(e.buf)
	e.PutU32(0)
	start := len(e.buf)
	fn(e)
	binary.LittleEndian.PutUint32(e.buf[lenAt:lenAt+4], uint32(len(e.buf)-start))
}
