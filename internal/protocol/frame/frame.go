package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/replack/internal/protocol"
)

const (
	Magic          uint32 = 0x52504c59
	FixedHeaderLen uint16 = 40
	FlagTraced     uint32 = 0x01
)

var (
	ErrShortHeader       = fmt.Errorf("frame: short fixed header: %w", protocol.ErrTruncated)
	ErrShortPayload      = fmt.Errorf("frame: short payload: %w", protocol.ErrTruncated)
	ErrInvalidMagic      = fmt.Errorf("frame: invalid magic: %w", protocol.ErrCorrupt)
	ErrHeaderLenTooSmall = fmt.Errorf("frame: header_len smaller than fixed header: %w", protocol.ErrCorrupt)
	ErrPayloadTooLarge   = fmt.Errorf("frame: payload too large: %w", protocol.ErrCorrupt)
	ErrExtensionTooLarge = fmt.Errorf("frame: header extension too large: %w", protocol.ErrCorrupt)
)

// Header is the fixed wire header. It carries the version pair the payload
// was encoded under and the sender identity needed to decode older payloads.
type Header struct {
	Magic         uint32
	HeaderLen     uint16
	MessageType   uint16
	HeadVersion   uint16
	CompatVersion uint16
	Flags         uint32
	Tid           uint64
	SourceType    uint8
	SourceNum     int64
	PayloadLen    uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxExtensionBytes uint32
	MaxPayloadBytes   uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxExtensionBytes: 4 * 1024,
		MaxPayloadBytes:   16 * 1024 * 1024,
	}
}

// ReadFrame reads one frame. Header bytes past FixedHeaderLen belong to newer
// senders and are skipped.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	extLen := uint32(h.HeaderLen - FixedHeaderLen)
	if extLen > limits.MaxExtensionBytes {
		return Frame{}, ErrExtensionTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	if extLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extLen)); err != nil {
			return Frame{}, ErrShortHeader
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}

	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint32(len(f.Payload))

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.HeaderLen)
	binary.LittleEndian.PutUint16(buf[6:8], h.MessageType)
	binary.LittleEndian.PutUint16(buf[8:10], h.HeadVersion)
	binary.LittleEndian.PutUint16(buf[10:12], h.CompatVersion)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Tid)
	buf[24] = h.SourceType
	binary.LittleEndian.PutUint64(buf[28:36], uint64(h.SourceNum))
	binary.LittleEndian.PutUint32(buf[36:40], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		HeaderLen:     binary.LittleEndian.Uint16(b[4:6]),
		MessageType:   binary.LittleEndian.Uint16(b[6:8]),
		HeadVersion:   binary.LittleEndian.Uint16(b[8:10]),
		CompatVersion: binary.LittleEndian.Uint16(b[10:12]),
		Flags:         binary.LittleEndian.Uint32(b[12:16]),
		Tid:           binary.LittleEndian.Uint64(b[16:24]),
		SourceType:    b[24],
		SourceNum:     int64(binary.LittleEndian.Uint64(b[28:36])),
		PayloadLen:    binary.LittleEndian.Uint32(b[36:40]),
	}, nil
}
