// Package subopreply implements the replica's reply to a replication
// sub-operation: the message envelope and its versioned wire codec.
//
// Encoding always emits HeadVersion. Decoding accepts any header version from
// MinVersion up and reconstructs fields older senders did not write.
package subopreply

import (
	"bytes"
	"fmt"
	"maps"
	"strings"

	"github.com/danmuck/replack/internal/protocol/osd"
)

const (
	HeadVersion   uint16 = 3
	CompatVersion uint16 = 1

	// MinVersion is the oldest header version this codec decodes.
	MinVersion = CompatVersion
)

// SubOp is the primary's replication request, as far as a reply needs it.
type SubOp struct {
	ReqID    osd.ReqID
	From     osd.PGShard
	PGID     osd.SPGID
	OID      osd.HObject
	Ops      []osd.Op
	Tid      uint64
	MapEpoch osd.Epoch
	Trace    osd.TraceInfo
}

// Message is a replica's acknowledgment of one sub-operation.
type Message struct {
	mapEpoch osd.Epoch

	reqID osd.ReqID
	from  osd.PGShard
	pgid  osd.SPGID
	oid   osd.HObject
	ops   []osd.Op

	ackType osd.AckFlags
	result  int32

	lastCompleteOnDisk osd.EVersion
	peerStat           osd.PeerStat
	attrs              map[string][]byte

	trace             osd.TraceInfo
	endTraceAfterSpan bool

	tid           uint64
	headerVersion uint16
}

// New returns an empty message to be filled by Decode.
func New() *Message {
	return &Message{
		from:              osd.PGShard{Shard: osd.NoShard},
		pgid:              osd.SPGID{Shard: osd.NoShard},
		oid:               osd.HObject{Pool: osd.PoolUnset},
		attrs:             map[string][]byte{},
		endTraceAfterSpan: true,
		headerVersion:     HeadVersion,
	}
}

// NewFromRequest builds the reply from replica from to req.
func NewFromRequest(req *SubOp, from osd.PGShard, result int32, epoch osd.Epoch, ack osd.AckFlags) *Message {
	m := New()
	m.mapEpoch = epoch
	m.reqID = req.ReqID
	m.from = from
	m.pgid = osd.SPGID{PG: req.PGID.PG, Shard: req.From.Shard}
	m.oid = req.OID
	m.ops = append([]osd.Op(nil), req.Ops...)
	m.ackType = ack
	m.result = result
	m.tid = req.Tid
	if req.Trace.Active() && req.Trace.ParentSpanID == 0 {
		m.endTraceAfterSpan = false
	}
	return m
}

func (m *Message) MapEpoch() osd.Epoch   { return m.mapEpoch }
func (m *Message) ReqID() osd.ReqID      { return m.reqID }
func (m *Message) From() osd.PGShard     { return m.from }
func (m *Message) PGID() osd.SPGID       { return m.pgid }
func (m *Message) OID() osd.HObject      { return m.oid }
func (m *Message) AckType() osd.AckFlags { return m.ackType }
func (m *Message) Result() int32         { return m.result }
func (m *Message) Trace() osd.TraceInfo  { return m.trace }

// Tid is the transaction id copied from the request, used to match replies.
func (m *Message) Tid() uint64 { return m.tid }

// HeaderVersion is the version the message was decoded from, or HeadVersion.
func (m *Message) HeaderVersion() uint16 { return m.headerVersion }

func (m *Message) Ops() []osd.Op {
	return append([]osd.Op(nil), m.ops...)
}

func (m *Message) IsOnDisk() bool  { return m.ackType.Has(osd.AckFlagOnDisk) }
func (m *Message) IsOnNVRAM() bool { return m.ackType.Has(osd.AckFlagOnNVRAM) }
func (m *Message) IsAck() bool     { return m.ackType.Has(osd.AckFlagAck) }

func (m *Message) LastCompleteOnDisk() osd.EVersion { return m.lastCompleteOnDisk }

func (m *Message) SetLastCompleteOnDisk(v osd.EVersion) { m.lastCompleteOnDisk = v }

func (m *Message) PeerStat() osd.PeerStat { return m.peerStat }

func (m *Message) SetPeerStat(s osd.PeerStat) { m.peerStat = s }

// AttrSet returns a copy of the piggybacked attributes.
func (m *Message) AttrSet() map[string][]byte {
	return maps.Clone(m.attrs)
}

// SetAttrSet replaces the piggybacked attributes with a copy of attrs.
func (m *Message) SetAttrSet(attrs map[string][]byte) {
	m.attrs = make(map[string][]byte, len(attrs))
	for k, v := range attrs {
		m.attrs[k] = bytes.Clone(v)
	}
}

// SetTrace attaches the active tracing context written at encode time.
func (m *Message) SetTrace(t osd.TraceInfo) { m.trace = t }

// EndTraceAfterSpan is false when the request was traced as a root span;
// the tracing backend keeps the trace open in that case.
func (m *Message) EndTraceAfterSpan() bool { return m.endTraceAfterSpan }

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "osd_sub_op_reply(%s %s %s %v", m.reqID, m.pgid, m.oid, m.ops)
	if m.IsOnDisk() {
		b.WriteString(" ondisk")
	}
	if m.IsOnNVRAM() {
		b.WriteString(" onnvram")
	}
	if m.IsAck() {
		b.WriteString(" ack")
	}
	fmt.Fprintf(&b, ", result = %d)", m.result)
	return b.String()
}
