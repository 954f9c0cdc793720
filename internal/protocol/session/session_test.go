package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/schema"
	"github.com/danmuck/replack/internal/protocol/subopreply"
	"github.com/danmuck/replack/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func testRequest(tid uint64) *subopreply.SubOp {
	return &subopreply.SubOp{
		ReqID:    osd.ReqID{Name: osd.EntityName{Type: osd.EntityClient, Num: 4100}, Tid: 9, Inc: 1},
		From:     osd.PGShard{OSD: 0, Shard: osd.NoShard},
		PGID:     osd.SPGID{PG: osd.NewPGID(2, 0x1a), Shard: osd.NoShard},
		OID:      osd.HObject{OID: "obj", Snap: osd.SnapHead, Pool: osd.PoolUnset},
		Ops:      []osd.Op{{Code: osd.OpWriteFull}},
		Tid:      tid,
		MapEpoch: 50,
	}
}

func replyFrom(req *subopreply.SubOp, osdID int32, epoch osd.Epoch, ack osd.AckFlags) *subopreply.Message {
	return subopreply.NewFromRequest(req, osd.PGShard{OSD: osdID, Shard: osd.NoShard}, 0, epoch, ack)
}

func TestReplyFrameRoundTrip(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.Source = osd.OSDEntity(3)
	in := replyFrom(testRequest(77), 3, 51, osd.AckFlagOnDisk)
	in.SetTrace(osd.TraceInfo{TraceID: 5, SpanID: 6})

	raw, err := EncodeReplyFrame(cfg, in)
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	fr, err := frame.ReadFrame(bytes.NewReader(raw), cfg.Frame)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if fr.Header.MessageType != schema.MsgOSDSubOpReply {
		t.Fatalf("unexpected message type: %d", fr.Header.MessageType)
	}
	if fr.Header.HeadVersion != subopreply.HeadVersion || fr.Header.CompatVersion != subopreply.CompatVersion {
		t.Fatalf("unexpected versions head=%d compat=%d", fr.Header.HeadVersion, fr.Header.CompatVersion)
	}
	if fr.Header.Tid != 77 || fr.Header.SourceNum != 3 || fr.Header.Flags&frame.FlagTraced == 0 {
		t.Fatalf("unexpected header %+v", fr.Header)
	}

	out, err := DecodeReplyFrame(cfg, fr)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if out.Tid() != 77 || out.From() != in.From() || out.Trace() != in.Trace() {
		t.Fatalf("reply mismatch: in=%s out=%s", in, out)
	}
	if pool, ok := out.OID().PoolID(); !ok || pool != 2 {
		t.Fatalf("expected backfilled pool 2, got %d", pool)
	}
}

func TestReadReplyFromOldSender(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	in := replyFrom(testRequest(8), 6, 51, osd.AckFlagAck)
	payload := subopreply.Encode(in)

	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageType:   schema.MsgOSDSubOpReply,
			HeadVersion:   1,
			CompatVersion: 1,
			Tid:           8,
			SourceType:    uint8(osd.EntityOSD),
			SourceNum:     6,
		},
		Payload: payload,
	}, cfg.Frame)
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}

	out, err := ReadReply(&buf, cfg)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if out.From() != (osd.PGShard{OSD: 6, Shard: osd.NoShard}) || out.HeaderVersion() != 1 {
		t.Fatalf("unexpected v1 reply from=%v version=%d", out.From(), out.HeaderVersion())
	}
}

func TestDecodeReplyFrameErrors(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	payload := subopreply.Encode(replyFrom(testRequest(1), 1, 50, osd.AckFlagAck))

	_, err := DecodeReplyFrame(cfg, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgOSDSubOpReply, HeadVersion: 0},
		Payload: payload,
	})
	if !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}

	_, err = DecodeReplyFrame(cfg, frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgOSDSubOpReply, HeadVersion: 3, CompatVersion: 1},
		Payload: payload[:len(payload)/2],
	})
	if !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}

	var ve schema.ValidationError
	_, err = DecodeReplyFrame(cfg, frame.Frame{Header: frame.Header{MessageType: schema.MsgOSDSubOp, HeadVersion: 3}})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	testlog.Start(t)

	tr := NewTracker()
	req := testRequest(100)
	now := time.Unix(1700000000, 0)
	replicas := []osd.PGShard{{OSD: 1, Shard: osd.NoShard}, {OSD: 2, Shard: osd.NoShard}}
	if err := tr.Track(req, replicas, now); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := tr.Track(req, replicas, now); !errors.Is(err, ErrDuplicateTid) {
		t.Fatalf("expected ErrDuplicateTid, got %v", err)
	}

	p, err := tr.Apply(replyFrom(req, 1, 50, osd.AckFlagAck), now.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("apply ack: %v", err)
	}
	if p.Acked() || p.Committed() {
		t.Fatalf("one replica must not complete the sub-op: %+v", p)
	}

	if _, err := tr.Apply(replyFrom(req, 2, 50, osd.AckFlagAck|osd.AckFlagOnDisk), now); err != nil {
		t.Fatalf("apply replica 2: %v", err)
	}
	p, ok := tr.Get(100)
	if !ok || !p.Acked() || p.Committed() {
		t.Fatalf("expected acked but uncommitted: %+v ok=%v", p, ok)
	}

	p, err = tr.Apply(replyFrom(req, 1, 50, osd.AckFlagOnDisk), now)
	if err != nil {
		t.Fatalf("apply ondisk: %v", err)
	}
	if !p.Committed() {
		t.Fatalf("expected committed: %+v", p)
	}
	if _, ok := tr.Get(100); ok {
		t.Fatalf("committed sub-op must be removed")
	}
}

func TestTrackerRejectsInvalidReplies(t *testing.T) {
	testlog.Start(t)

	tr := NewTracker()
	req := testRequest(200)
	replica := osd.PGShard{OSD: 1, Shard: osd.NoShard}
	if err := tr.Track(req, []osd.PGShard{replica}, time.Now()); err != nil {
		t.Fatalf("track: %v", err)
	}

	if _, err := tr.Apply(replyFrom(testRequest(201), 1, 50, osd.AckFlagAck), time.Now()); !errors.Is(err, ErrUnknownTid) {
		t.Fatalf("expected ErrUnknownTid, got %v", err)
	}
	if _, err := tr.Apply(replyFrom(req, 9, 50, osd.AckFlagAck), time.Now()); !errors.Is(err, ErrUnknownReplica) {
		t.Fatalf("expected ErrUnknownReplica, got %v", err)
	}
	if _, err := tr.Apply(replyFrom(req, 1, 49, osd.AckFlagAck), time.Now()); !errors.Is(err, ErrStaleEpoch) {
		t.Fatalf("expected ErrStaleEpoch, got %v", err)
	}

	first := replyFrom(req, 1, 50, osd.AckFlagAck)
	first.SetLastCompleteOnDisk(osd.EVersion{Epoch: 50, Version: 10})
	if _, err := tr.Apply(first, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	back := replyFrom(req, 1, 50, osd.AckFlagAck)
	back.SetLastCompleteOnDisk(osd.EVersion{Epoch: 50, Version: 9})
	if _, err := tr.Apply(back, time.Now()); !errors.Is(err, ErrLastCompleteRegress) {
		t.Fatalf("expected ErrLastCompleteRegress, got %v", err)
	}

	newer := replyFrom(req, 1, 51, osd.AckFlagAck)
	newer.SetLastCompleteOnDisk(osd.EVersion{Epoch: 51, Version: 1})
	if _, err := tr.Apply(newer, time.Now()); err != nil {
		t.Fatalf("new epoch may restart last_complete: %v", err)
	}
}

func TestTrackerFailedAndList(t *testing.T) {
	testlog.Start(t)

	tr := NewTracker()
	for _, tid := range []uint64{3, 1, 2} {
		if err := tr.Track(testRequest(tid), []osd.PGShard{{OSD: 1, Shard: osd.NoShard}, {OSD: 2, Shard: osd.NoShard}}, time.Now()); err != nil {
			t.Fatalf("track %d: %v", tid, err)
		}
	}
	list := tr.List()
	if len(list) != 3 || list[0].Tid != 1 || list[2].Tid != 3 {
		t.Fatalf("unexpected list order: %+v", list)
	}

	failed := subopreply.NewFromRequest(testRequest(2), osd.PGShard{OSD: 2, Shard: osd.NoShard}, -5, 50, osd.AckFlagOnDisk)
	p, err := tr.Apply(failed, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	shard, result, ok := p.Failed()
	if !ok || shard.OSD != 2 || result != -5 {
		t.Fatalf("unexpected failure shard=%v result=%d ok=%v", shard, result, ok)
	}

	tr.Remove(2)
	if _, ok := tr.Get(2); ok {
		t.Fatalf("expected removal")
	}
}

func TestRejectedFrameLoggedOnce(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	_, err := DecodeReplyFrame(DefaultConfig(), frame.Frame{
		Header: frame.Header{MessageType: schema.MsgOSDSubOpReply, HeadVersion: 0},
	})
	if !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	out := buf.String()
	if n := strings.Count(out, `"level":"warn"`); n != 1 {
		t.Fatalf("expected one warning, got %d:\n%s", n, out)
	}
	if strings.Contains(out, `"level":"error"`) {
		t.Fatalf("rejection must not log at error:\n%s", out)
	}
}
