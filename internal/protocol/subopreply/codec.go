package subopreply

import (
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/wire"
)

// Envelope is what the transport knows about a payload before decoding it.
type Envelope struct {
	HeaderVersion uint16
	CompatVersion uint16
	Source        osd.EntityName
	Tid           uint64
}

// Encode serializes m at HeadVersion.
func Encode(m *Message) []byte {
	e := wire.NewEncoder(256)
	e.PutU64(uint64(m.mapEpoch))
	m.reqID.Encode(e)
	m.pgid.PG.Encode(e)
	m.oid.Encode(e)

	e.PutU32(uint32(len(m.ops)))
	for _, op := range m.ops {
		e.PutU16(uint16(op.Code))
	}

	e.PutU8(uint8(m.ackType))
	e.PutI32(m.result)
	m.lastCompleteOnDisk.Encode(e)
	m.peerStat.Encode(e)
	encodeAttrs(e, m.attrs)

	m.from.Encode(e)
	m.pgid.Shard.Encode(e)
	m.trace.Encode(e)
	return e.Bytes()
}

func encodeAttrs(e *wire.Encoder, attrs map[string][]byte) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.PutU32(uint32(len(keys)))
	for _, k := range keys {
		e.PutString(k)
		e.PutBlob(attrs[k])
	}
}

// Decode parses payload using default limits.
func Decode(payload []byte, env Envelope) (*Message, error) {
	return DecodeLimits(payload, env, wire.DefaultLimits())
}

// DecodeLimits parses payload as written by a sender at env.HeaderVersion.
// Bytes after the fields that version defines are ignored.
func DecodeLimits(payload []byte, env Envelope, limits wire.Limits) (*Message, error) {
	if err := checkVersion(env); err != nil {
		return nil, err
	}
	m := New()
	m.headerVersion = env.HeaderVersion
	m.tid = env.Tid

	c := wire.NewCursor(payload)
	for _, st := range stages {
		if env.HeaderVersion < st.since {
			if err := st.fallback(m, env); err != nil {
				return nil, err
			}
			continue
		}
		next, err := st.read(c, m, limits)
		if err != nil {
			return nil, err
		}
		c = next
	}
	return m, nil
}

func checkVersion(env Envelope) error {
	if env.HeaderVersion < MinVersion {
		return fmt.Errorf("%w: header version %d below %d", protocol.ErrUnsupportedVersion, env.HeaderVersion, MinVersion)
	}
	if env.CompatVersion > HeadVersion {
		return fmt.Errorf("%w: compat version %d above %d", protocol.ErrUnsupportedVersion, env.CompatVersion, HeadVersion)
	}
	return nil
}

// stage reads the fields introduced at one header version. Stages run in
// increasing version order; fallback fills the fields when the sender predates
// the stage.
type stage struct {
	name     string
	since    uint16
	read     func(c wire.Cursor, m *Message, limits wire.Limits) (wire.Cursor, error)
	fallback func(m *Message, env Envelope) error
}

var stages = []stage{
	{name: "base", since: 1, read: readBase, fallback: func(*Message, Envelope) error { return nil }},
	{name: "origin", since: 2, read: readOrigin, fallback: originFromSender},
	{name: "trace", since: 3, read: readTrace, fallback: clearTrace},
}

func readBase(c wire.Cursor, m *Message, limits wire.Limits) (wire.Cursor, error) {
	var err error
	var epoch uint64
	if epoch, c, err = c.U64(); err != nil {
		return c, protocol.Wrap("map_epoch", err)
	}
	m.mapEpoch = osd.Epoch(epoch)
	if m.reqID, c, err = osd.DecodeReqID(c); err != nil {
		return c, protocol.Wrap("request_id", err)
	}
	if m.pgid.PG, c, err = osd.DecodePGID(c); err != nil {
		return c, protocol.Wrap("pgid", err)
	}
	if m.oid, c, err = osd.DecodeHObject(c, limits.MaxBlobLen); err != nil {
		return c, protocol.Wrap("object_id", err)
	}
	if m.ops, c, err = readOps(c, limits.MaxOps); err != nil {
		return c, protocol.Wrap("ops", err)
	}

	var ack uint8
	if ack, c, err = c.U8(); err != nil {
		return c, protocol.Wrap("ack_type", err)
	}
	m.ackType = osd.AckFlags(ack)
	if m.result, c, err = c.I32(); err != nil {
		return c, protocol.Wrap("result", err)
	}
	if m.lastCompleteOnDisk, c, err = osd.DecodeEVersion(c); err != nil {
		return c, protocol.Wrap("last_complete_ondisk", err)
	}
	if m.peerStat, c, err = osd.DecodePeerStat(c); err != nil {
		return c, protocol.Wrap("peer_stat", err)
	}
	if m.attrs, c, err = readAttrs(c, limits); err != nil {
		return c, protocol.Wrap("attrset", err)
	}

	backfillPool(m)
	return c, nil
}

func readOps(c wire.Cursor, limit uint32) ([]osd.Op, wire.Cursor, error) {
	n, c, err := c.Count(limit)
	if err != nil {
		return nil, c, err
	}
	ops := make([]osd.Op, n)
	for i := range ops {
		var code uint16
		if code, c, err = c.U16(); err != nil {
			return nil, c, err
		}
		ops[i] = osd.Op{Code: osd.OpCode(code)}
	}
	return ops, c, nil
}

func readAttrs(c wire.Cursor, limits wire.Limits) (map[string][]byte, wire.Cursor, error) {
	n, c, err := c.Count(limits.MaxAttrs)
	if err != nil {
		return nil, c, err
	}
	attrs := make(map[string][]byte, n)
	for i := uint32(0); i < n; i++ {
		var key string
		var val []byte
		if key, c, err = c.String(limits.MaxBlobLen); err != nil {
			return nil, c, err
		}
		if val, c, err = c.Blob(limits.MaxBlobLen); err != nil {
			return nil, c, err
		}
		if _, dup := attrs[key]; dup {
			return nil, c, protocol.Corruptf("duplicate attr %q", key)
		}
		attrs[key] = val
	}
	return attrs, c, nil
}

// backfillPool resolves object ids that older senders wrote without a pool.
func backfillPool(m *Message) {
	if m.oid.IsMax() {
		return
	}
	if _, ok := m.oid.PoolID(); ok {
		return
	}
	m.oid.Pool = int64(m.pgid.PG.Pool)
}

func readOrigin(c wire.Cursor, m *Message, _ wire.Limits) (wire.Cursor, error) {
	var err error
	if m.from, c, err = osd.DecodePGShard(c); err != nil {
		return c, protocol.Wrap("from", err)
	}
	if m.pgid.Shard, c, err = osd.DecodeShardID(c); err != nil {
		return c, protocol.Wrap("pgid.shard", err)
	}
	return c, nil
}

// originFromSender stands in for the origin a pre-v2 sender did not write.
// The sender's entity number must fit an OSD id.
func originFromSender(m *Message, env Envelope) error {
	if env.Source.Num < math.MinInt32 || env.Source.Num > math.MaxInt32 {
		return protocol.Wrap("from", protocol.Corruptf("sender %s out of osd id range", env.Source))
	}
	m.from = osd.PGShard{OSD: int32(env.Source.Num), Shard: osd.NoShard}
	m.pgid.Shard = osd.NoShard
	return nil
}

func readTrace(c wire.Cursor, m *Message, _ wire.Limits) (wire.Cursor, error) {
	var err error
	if m.trace, c, err = osd.DecodeTraceInfo(c); err != nil {
		return c, protocol.Wrap("trace", err)
	}
	return c, nil
}

func clearTrace(m *Message, _ Envelope) error {
	m.trace = osd.TraceInfo{}
	return nil
}
