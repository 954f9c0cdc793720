package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/subopreply"
)

// Request describes a replicated sub-op and the reply one replica sends for it.
type Request struct {
	Tid                uint64            `toml:"tid"`
	MapEpoch           uint64            `toml:"map_epoch"`
	Result             int32             `toml:"result"`
	Ack                string            `toml:"ack"`
	LastCompleteOnDisk string            `toml:"last_complete_ondisk"`
	Ops                []string          `toml:"ops"`
	ReqID              RequestID         `toml:"reqid"`
	From               RequestShard      `toml:"from"`
	PG                 RequestPG         `toml:"pg"`
	Object             RequestObject     `toml:"object"`
	Attrs              map[string]string `toml:"attrs"`
	PeerStat           RequestPeerStat   `toml:"peer_stat"`
	Trace              RequestTrace      `toml:"trace"`
}

type RequestID struct {
	Name string `toml:"name"`
	Tid  uint64 `toml:"tid"`
	Inc  int32  `toml:"inc"`
}

type RequestShard struct {
	OSD   int32 `toml:"osd"`
	Shard int8  `toml:"shard"`
}

type RequestPG struct {
	Primary int32  `toml:"primary"`
	Pool    uint64 `toml:"pool"`
	Seed    uint32 `toml:"seed"`
	Shard   int8   `toml:"shard"`
}

type RequestObject struct {
	Key       string `toml:"key"`
	OID       string `toml:"oid"`
	Snap      uint64 `toml:"snap"`
	Hash      uint32 `toml:"hash"`
	Max       bool   `toml:"max"`
	Namespace string `toml:"namespace"`
	Pool      int64  `toml:"pool"`
}

type RequestPeerStat struct {
	StampSec  uint32 `toml:"stamp_sec"`
	StampNsec uint32 `toml:"stamp_nsec"`
}

type RequestTrace struct {
	TraceID      uint64 `toml:"trace_id"`
	SpanID       uint64 `toml:"span_id"`
	ParentSpanID uint64 `toml:"parent_span_id"`
}

// LoadRequest reads a request description. Shards and the object pool default
// to their unset sentinels and the snap defaults to head.
func LoadRequest(path string) (Request, error) {
	req := Request{
		From:   RequestShard{Shard: int8(osd.NoShard)},
		PG:     RequestPG{Shard: int8(osd.NoShard)},
		Object: RequestObject{Snap: osd.SnapHead, Pool: osd.PoolUnset},
	}
	meta, err := toml.DecodeFile(path, &req)
	if err != nil {
		return Request{}, fmt.Errorf("request load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Request{}, fmt.Errorf("request parse failed (%s): unknown key %s", path, undecoded[0])
	}
	return req, nil
}

// SubOp builds the replicated request the description refers to.
func (r Request) SubOp() (*subopreply.SubOp, error) {
	name, err := osd.ParseEntityName(r.ReqID.Name)
	if err != nil {
		return nil, fmt.Errorf("reqid.name: %w", err)
	}
	ops := make([]osd.Op, 0, len(r.Ops))
	for _, raw := range r.Ops {
		code, ok := osd.ParseOpCode(raw)
		if !ok {
			return nil, fmt.Errorf("ops: unknown op %q", raw)
		}
		ops = append(ops, osd.Op{Code: code})
	}
	return &subopreply.SubOp{
		ReqID: osd.ReqID{Name: name, Tid: r.ReqID.Tid, Inc: r.ReqID.Inc},
		From:  osd.PGShard{OSD: r.PG.Primary, Shard: osd.ShardID(r.PG.Shard)},
		PGID:  osd.SPGID{PG: osd.NewPGID(r.PG.Pool, r.PG.Seed), Shard: osd.ShardID(r.PG.Shard)},
		OID: osd.HObject{
			Key:       r.Object.Key,
			OID:       r.Object.OID,
			Snap:      r.Object.Snap,
			Hash:      r.Object.Hash,
			Max:       r.Object.Max,
			Namespace: r.Object.Namespace,
			Pool:      r.Object.Pool,
		},
		Ops:      ops,
		Tid:      r.Tid,
		MapEpoch: osd.Epoch(r.MapEpoch),
		Trace: osd.TraceInfo{
			TraceID:      r.Trace.TraceID,
			SpanID:       r.Trace.SpanID,
			ParentSpanID: r.Trace.ParentSpanID,
		},
	}, nil
}

// Reply builds the reply message the description's replica sends.
func (r Request) Reply() (*subopreply.Message, error) {
	req, err := r.SubOp()
	if err != nil {
		return nil, err
	}
	ack, err := osd.ParseAckFlags(r.Ack)
	if err != nil {
		return nil, fmt.Errorf("ack: %w", err)
	}
	from := osd.PGShard{OSD: r.From.OSD, Shard: osd.ShardID(r.From.Shard)}
	m := subopreply.NewFromRequest(req, from, r.Result, req.MapEpoch, ack)

	if strings.TrimSpace(r.LastCompleteOnDisk) != "" {
		lcd, err := osd.ParseEVersion(r.LastCompleteOnDisk)
		if err != nil {
			return nil, fmt.Errorf("last_complete_ondisk: %w", err)
		}
		m.SetLastCompleteOnDisk(lcd)
	}
	attrs, err := decodeAttrs(r.Attrs)
	if err != nil {
		return nil, err
	}
	m.SetAttrSet(attrs)
	m.SetPeerStat(osd.PeerStat{StampSec: r.PeerStat.StampSec, StampNsec: r.PeerStat.StampNsec})
	m.SetTrace(req.Trace)
	return m, nil
}

// Values prefixed "hex:" are hex-decoded; anything else is taken literally.
func decodeAttrs(in map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		if rest, ok := strings.CutPrefix(v, "hex:"); ok {
			b, err := hex.DecodeString(rest)
			if err != nil {
				return nil, fmt.Errorf("attrs.%s: %w", k, err)
			}
			out[k] = b
			continue
		}
		out[k] = []byte(v)
	}
	return out, nil
}
