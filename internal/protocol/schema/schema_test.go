package schema

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestValidateHeaderAcceptsKnownVersions(t *testing.T) {
	testlog.Start(t)
	for _, head := range []uint16{1, 2, 3, 4} {
		h := frame.Header{MessageType: MsgOSDSubOpReply, HeadVersion: head, CompatVersion: 1}
		if err := ValidateHeader(h); err != nil {
			t.Fatalf("head=%d: unexpected error %v", head, err)
		}
	}
}

func TestValidateHeaderUnknownType(t *testing.T) {
	testlog.Start(t)
	err := ValidateHeader(frame.Header{MessageType: 999, HeadVersion: 1})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.MessageType != 999 || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected validation error %+v", ve)
	}
	if protocol.KindOf(err) != protocol.KindOther {
		t.Fatalf("unexpected kind %q", protocol.KindOf(err))
	}
}

func TestValidateHeaderVersionBounds(t *testing.T) {
	testlog.Start(t)
	cases := []frame.Header{
		{MessageType: MsgOSDSubOpReply, HeadVersion: 0, CompatVersion: 0},
		{MessageType: MsgOSDSubOpReply, HeadVersion: 6, CompatVersion: 4},
	}
	for _, h := range cases {
		err := ValidateHeader(h)
		if !errors.Is(err, protocol.ErrUnsupportedVersion) {
			t.Fatalf("header %+v: expected ErrUnsupportedVersion, got %v", h, err)
		}
	}
}

func TestLookupAndName(t *testing.T) {
	testlog.Start(t)
	v, ok := Lookup(MsgOSDSubOpReply)
	if !ok || v.Head != 3 || v.Compat != 1 {
		t.Fatalf("unexpected versions %+v ok=%v", v, ok)
	}
	if _, ok := Lookup(MsgOSDSubOp); ok {
		t.Fatalf("sub-op requests are not decoded here")
	}
	if Name(MsgOSDSubOp) != "osd_sub_op" || Name(5) != "type5" {
		t.Fatalf("unexpected names")
	}
}

func TestValidateHeaderRejectionsLogAtDebug(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	headers := []frame.Header{
		{MessageType: 999, HeadVersion: 1},
		{MessageType: MsgOSDSubOpReply, HeadVersion: 0},
		{MessageType: MsgOSDSubOpReply, HeadVersion: 6, CompatVersion: 4},
	}
	for _, h := range headers {
		if err := ValidateHeader(h); err == nil {
			t.Fatalf("header %+v: expected rejection", h)
		}
	}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line != "" && !strings.Contains(line, `"level":"debug"`) {
			t.Fatalf("rejection logged above debug: %s", line)
		}
	}
}
