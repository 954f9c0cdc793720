package schema

import (
	"fmt"

	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/subopreply"
	"github.com/rs/zerolog/log"
)

// Message type IDs.
const (
	MsgOSDSubOp      uint16 = 76
	MsgOSDSubOpReply uint16 = 77
)

// Versions is the (head, compat) pair a message type is encoded under.
// Head is what this build writes; Compat is the oldest sender it decodes.
type Versions struct {
	Head   uint16
	Compat uint16
}

var versions = map[uint16]Versions{
	MsgOSDSubOpReply: {Head: subopreply.HeadVersion, Compat: subopreply.CompatVersion},
}

var names = map[uint16]string{
	MsgOSDSubOp:      "osd_sub_op",
	MsgOSDSubOpReply: "osd_sub_op_reply",
}

func Name(messageType uint16) string {
	if n, ok := names[messageType]; ok {
		return n
	}
	return fmt.Sprintf("type%d", messageType)
}

// Lookup returns the version table entry for a decodable message type.
func Lookup(messageType uint16) (Versions, bool) {
	v, ok := versions[messageType]
	return v, ok
}

type ValidationError struct {
	MessageType uint16
	Reason      string
	Err         error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: message_type=%s: %s", Name(e.MessageType), e.Reason)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidateHeader checks that a frame carries a known message type at a
// version pair this build can decode.
func ValidateHeader(h frame.Header) error {
	v, ok := versions[h.MessageType]
	if !ok {
		log.Debug().Msgf("schema.ValidateHeader unknown message_type=%d", h.MessageType)
		return ValidationError{MessageType: h.MessageType, Reason: "unknown message_type"}
	}
	if h.HeadVersion < v.Compat {
		log.Debug().Msgf(
			"schema.ValidateHeader version too old message_type=%d head=%d min=%d",
			h.MessageType,
			h.HeadVersion,
			v.Compat,
		)
		return ValidationError{
			MessageType: h.MessageType,
			Reason:      fmt.Sprintf("header version %d below %d", h.HeadVersion, v.Compat),
			Err:         protocol.ErrUnsupportedVersion,
		}
	}
	if h.CompatVersion > v.Head {
		log.Debug().Msgf(
			"schema.ValidateHeader compat too new message_type=%d compat=%d head=%d",
			h.MessageType,
			h.CompatVersion,
			v.Head,
		)
		return ValidationError{
			MessageType: h.MessageType,
			Reason:      fmt.Sprintf("compat version %d above %d", h.CompatVersion, v.Head),
			Err:         protocol.ErrUnsupportedVersion,
		}
	}
	log.Debug().Msgf("schema.ValidateHeader ok message_type=%d head=%d compat=%d", h.MessageType, h.HeadVersion, h.CompatVersion)
	return nil
}
