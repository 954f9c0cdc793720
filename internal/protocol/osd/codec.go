package osd

import (
	"github.com/danmuck/replack/internal/protocol"
	"github.com/danmuck/replack/internal/protocol/wire"
)

// Struct versions this build writes, and the newest compat it can read.
const (
	reqIDVersion    uint8 = 2
	reqIDCompat     uint8 = 2
	pgShardVersion  uint8 = 1
	pgShardCompat   uint8 = 1
	hobjectVersion  uint8 = 4
	hobjectCompat   uint8 = 3
	peerStatVersion uint8 = 1
	peerStatCompat  uint8 = 1
	pgIDVersion     uint8 = 1
)

func (n EntityName) Encode(e *wire.Encoder) {
	e.PutU8(uint8(n.Type))
	e.PutI64(n.Num)
}

func DecodeEntityName(c wire.Cursor) (EntityName, wire.Cursor, error) {
	t, c, err := c.U8()
	if err != nil {
		return EntityName{}, c, err
	}
	num, c, err := c.I64()
	if err != nil {
		return EntityName{}, c, err
	}
	return EntityName{Type: EntityType(t), Num: num}, c, nil
}

func (r ReqID) Encode(e *wire.Encoder) {
	e.PutStruct(reqIDVersion, reqIDCompat, func(e *wire.Encoder) {
		r.Name.Encode(e)
		e.PutU64(r.Tid)
		e.PutI32(r.Inc)
	})
}

func DecodeReqID(c wire.Cursor) (ReqID, wire.Cursor, error) {
	var out ReqID
	next, err := c.DecodeStruct(reqIDCompat, func(_ uint8, body wire.Cursor) (wire.Cursor, error) {
		var err error
		if out.Name, body, err = DecodeEntityName(body); err != nil {
			return body, err
		}
		if out.Tid, body, err = body.U64(); err != nil {
			return body, err
		}
		out.Inc, body, err = body.I32()
		return body, err
	})
	if err != nil {
		return ReqID{}, c, err
	}
	return out, next, nil
}

func (p PGShard) Encode(e *wire.Encoder) {
	e.PutStruct(pgShardVersion, pgShardCompat, func(e *wire.Encoder) {
		e.PutI32(p.OSD)
		e.PutI8(int8(p.Shard))
	})
}

func DecodePGShard(c wire.Cursor) (PGShard, wire.Cursor, error) {
	var out PGShard
	next, err := c.DecodeStruct(pgShardCompat, func(_ uint8, body wire.Cursor) (wire.Cursor, error) {
		var err error
		if out.OSD, body, err = body.I32(); err != nil {
			return body, err
		}
		var shard int8
		shard, body, err = body.I8()
		out.Shard = ShardID(shard)
		return body, err
	})
	if err != nil {
		return PGShard{}, c, err
	}
	return out, next, nil
}

func (s ShardID) Encode(e *wire.Encoder) {
	e.PutI8(int8(s))
}

func DecodeShardID(c wire.Cursor) (ShardID, wire.Cursor, error) {
	v, next, err := c.I8()
	if err != nil {
		return NoShard, c, err
	}
	return ShardID(v), next, nil
}

// Encode writes the placement group without its shard; the shard travels
// separately so pre-sharding peers can still parse the group.
func (p PGID) Encode(e *wire.Encoder) {
	e.PutU8(pgIDVersion)
	e.PutU64(p.Pool)
	e.PutU32(p.Seed)
	e.PutI32(p.Preferred)
}

func DecodePGID(c wire.Cursor) (PGID, wire.Cursor, error) {
	start := c
	v, c, err := c.U8()
	if err != nil {
		return PGID{}, start, err
	}
	if v != pgIDVersion {
		return PGID{}, start, protocol.Corruptf("pg_t version %d", v)
	}
	var out PGID
	if out.Pool, c, err = c.U64(); err != nil {
		return PGID{}, start, err
	}
	if out.Seed, c, err = c.U32(); err != nil {
		return PGID{}, start, err
	}
	if out.Preferred, c, err = c.I32(); err != nil {
		return PGID{}, start, err
	}
	return out, c, nil
}

func (o HObject) Encode(e *wire.Encoder) {
	e.PutStruct(hobjectVersion, hobjectCompat, func(e *wire.Encoder) {
		e.PutString(o.Key)
		e.PutString(o.OID)
		e.PutU64(o.Snap)
		e.PutU32(o.Hash)
		e.PutBool(o.Max)
		e.PutString(o.Namespace)
		e.PutI64(o.Pool)
	})
}

// DecodeHObject reads an object id. Encodings older than v4 carry no
// namespace or pool; the pool is left unset for the caller to resolve.
func DecodeHObject(c wire.Cursor, maxString uint32) (HObject, wire.Cursor, error) {
	out := HObject{Pool: PoolUnset}
	next, err := c.DecodeStruct(hobjectCompat, func(v uint8, body wire.Cursor) (wire.Cursor, error) {
		var err error
		if out.Key, body, err = body.String(maxString); err != nil {
			return body, err
		}
		if out.OID, body, err = body.String(maxString); err != nil {
			return body, err
		}
		if out.Snap, body, err = body.U64(); err != nil {
			return body, err
		}
		if out.Hash, body, err = body.U32(); err != nil {
			return body, err
		}
		if out.Max, body, err = body.Bool(); err != nil {
			return body, err
		}
		if v < 4 {
			return body, nil
		}
		if out.Namespace, body, err = body.String(maxString); err != nil {
			return body, err
		}
		out.Pool, body, err = body.I64()
		return body, err
	})
	if err != nil {
		return HObject{}, c, err
	}
	return out, next, nil
}

func (v EVersion) Encode(e *wire.Encoder) {
	e.PutU64(v.Version)
	e.PutU32(v.Epoch)
}

func DecodeEVersion(c wire.Cursor) (EVersion, wire.Cursor, error) {
	start := c
	var out EVersion
	var err error
	if out.Version, c, err = c.U64(); err != nil {
		return EVersion{}, start, err
	}
	if out.Epoch, c, err = c.U32(); err != nil {
		return EVersion{}, start, err
	}
	return out, c, nil
}

func (p PeerStat) Encode(e *wire.Encoder) {
	e.PutStruct(peerStatVersion, peerStatCompat, func(e *wire.Encoder) {
		e.PutU32(p.StampSec)
		e.PutU32(p.StampNsec)
	})
}

func DecodePeerStat(c wire.Cursor) (PeerStat, wire.Cursor, error) {
	var out PeerStat
	next, err := c.DecodeStruct(peerStatCompat, func(_ uint8, body wire.Cursor) (wire.Cursor, error) {
		var err error
		if out.StampSec, body, err = body.U32(); err != nil {
			return body, err
		}
		out.StampNsec, body, err = body.U32()
		return body, err
	})
	if err != nil {
		return PeerStat{}, c, err
	}
	return out, next, nil
}

func (t TraceInfo) Encode(e *wire.Encoder) {
	e.PutU64(t.TraceID)
	e.PutU64(t.SpanID)
	e.PutU64(t.ParentSpanID)
}

func DecodeTraceInfo(c wire.Cursor) (TraceInfo, wire.Cursor, error) {
	start := c
	var out TraceInfo
	var err error
	if out.TraceID, c, err = c.U64(); err != nil {
		return TraceInfo{}, start, err
	}
	if out.SpanID, c, err = c.U64(); err != nil {
		return TraceInfo{}, start, err
	}
	if out.ParentSpanID, c, err = c.U64(); err != nil {
		return TraceInfo{}, start, err
	}
	return out, c, nil
}
