package session

import (
	"bytes"
	"io"

	"github.com/danmuck/replack/internal/logging"
	"github.com/danmuck/replack/internal/observability"
	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/schema"
	"github.com/danmuck/replack/internal/protocol/subopreply"
)

var replyTypeName = schema.Name(schema.MsgOSDSubOpReply)

// EncodeReplyFrame frames m as sent by source.
func EncodeReplyFrame(cfg Config, m *subopreply.Message) ([]byte, error) {
	payload := subopreply.Encode(m)
	v, _ := schema.Lookup(schema.MsgOSDSubOpReply)
	h := frame.Header{
		MessageType:   schema.MsgOSDSubOpReply,
		HeadVersion:   v.Head,
		CompatVersion: v.Compat,
		Tid:           m.Tid(),
		SourceType:    uint8(cfg.Source.Type),
		SourceNum:     cfg.Source.Num,
	}
	if m.Trace().Active() {
		h.Flags |= frame.FlagTraced
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, frame.Frame{Header: h, Payload: payload}, cfg.Frame); err != nil {
		return nil, err
	}
	observability.RecordEncode(replyTypeName, len(payload))
	l := logging.Component("session")
	l.Debug().
		Uint64("tid", m.Tid()).
		Int("payload_bytes", len(payload)).
		Msg("encoded sub-op reply")
	return buf.Bytes(), nil
}

// EnvelopeOf lifts the fields the codec needs out of a frame header.
func EnvelopeOf(h frame.Header) subopreply.Envelope {
	return subopreply.Envelope{
		HeaderVersion: h.HeadVersion,
		CompatVersion: h.CompatVersion,
		Source:        osd.EntityName{Type: osd.EntityType(h.SourceType), Num: h.SourceNum},
		Tid:           h.Tid,
	}
}

// DecodeReplyFrame validates the frame header and decodes its payload.
// Failures are logged and counted by kind; the caller decides whether to
// drop the message or the peer.
func DecodeReplyFrame(cfg Config, f frame.Frame) (*subopreply.Message, error) {
	l := logging.Component("session")
	if err := schema.ValidateHeader(f.Header); err != nil {
		observability.RecordDecodeError(schema.Name(f.Header.MessageType), string(protocol.KindOf(err)))
		l.Warn().Err(err).Uint64("tid", f.Header.Tid).Msg("rejected frame header")
		return nil, err
	}
	m, err := subopreply.DecodeLimits(f.Payload, EnvelopeOf(f.Header), cfg.Codec)
	if err != nil {
		kind := protocol.KindOf(err)
		observability.RecordDecodeError(replyTypeName, string(kind))
		l.Warn().
			Err(err).
			Str("kind", string(kind)).
			Uint64("tid", f.Header.Tid).
			Uint16("version", f.Header.HeadVersion).
			Int64("source", f.Header.SourceNum).
			Msg("dropping undecodable sub-op reply")
		return nil, err
	}
	observability.RecordDecode(replyTypeName, f.Header.HeadVersion, len(f.Payload))
	l.Debug().
		Uint64("tid", m.Tid()).
		Uint16("version", m.HeaderVersion()).
		Str("reply", m.String()).
		Msg("decoded sub-op reply")
	return m, nil
}

// WriteReply frames m onto w.
func WriteReply(w io.Writer, cfg Config, m *subopreply.Message) error {
	b, err := EncodeReplyFrame(cfg, m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadReply reads and decodes one reply frame from r.
func ReadReply(r io.Reader, cfg Config) (*subopreply.Message, error) {
	f, err := frame.ReadFrame(r, cfg.Frame)
	if err != nil {
		observability.RecordDecodeError(replyTypeName, string(protocol.KindOf(err)))
		return nil, err
	}
	return DecodeReplyFrame(cfg, f)
}
