// Package osd holds the cluster identity and versioning value types carried by
// replication messages, together with their wire encodings.
//
// Absent values use wire sentinels (NoShard, PoolUnset, an all-zero TraceInfo);
// callers should test them through Valid, PoolID and Active rather than comparing
// raw fields.
package osd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Epoch is a cluster map epoch.
type Epoch uint64

// ShardID indexes a shard within an erasure-coded placement group.
type ShardID int8

// NoShard marks a replicated (non-sharded) placement group member.
const NoShard ShardID = -1

func (s ShardID) Valid() bool {
	return s >= 0
}

func (s ShardID) String() string {
	if !s.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d", int8(s))
}

// EntityType is the kind of cluster daemon or client.
type EntityType uint8

const (
	EntityMon    EntityType = 0x01
	EntityMDS    EntityType = 0x02
	EntityOSD    EntityType = 0x04
	EntityClient EntityType = 0x08
)

func (t EntityType) String() string {
	switch t {
	case EntityMon:
		return "mon"
	case EntityMDS:
		return "mds"
	case EntityOSD:
		return "osd"
	case EntityClient:
		return "client"
	default:
		return fmt.Sprintf("type%d", uint8(t))
	}
}

// EntityName identifies a message endpoint.
type EntityName struct {
	Type EntityType
	Num  int64
}

func OSDEntity(num int64) EntityName {
	return EntityName{Type: EntityOSD, Num: num}
}

func (n EntityName) String() string {
	return fmt.Sprintf("%s.%d", n.Type, n.Num)
}

// ParseEntityName parses the "type.num" form produced by String.
func ParseEntityName(raw string) (EntityName, error) {
	kind, num, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return EntityName{}, fmt.Errorf("entity name %q: missing '.'", raw)
	}
	var t EntityType
	switch strings.ToLower(kind) {
	case "mon":
		t = EntityMon
	case "mds":
		t = EntityMDS
	case "osd":
		t = EntityOSD
	case "client":
		t = EntityClient
	default:
		return EntityName{}, fmt.Errorf("entity name %q: unknown type %q", raw, kind)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return EntityName{}, fmt.Errorf("entity name %q: %w", raw, err)
	}
	return EntityName{Type: t, Num: n}, nil
}

// ReqID identifies an originating client request: the issuing entity, its
// per-entity sequence (tid) and its incarnation.
type ReqID struct {
	Name EntityName
	Tid  uint64
	Inc  int32
}

func (r ReqID) String() string {
	return fmt.Sprintf("%s.%d:%d", r.Name, r.Inc, r.Tid)
}

// PGShard is one member of a placement group's acting set.
type PGShard struct {
	OSD   int32
	Shard ShardID
}

func (p PGShard) String() string {
	if !p.Shard.Valid() {
		return fmt.Sprintf("%d", p.OSD)
	}
	return fmt.Sprintf("%d(%d)", p.OSD, int8(p.Shard))
}

// PGID is a placement group within a pool.
type PGID struct {
	Pool      uint64
	Seed      uint32
	Preferred int32
}

func NewPGID(pool uint64, seed uint32) PGID {
	return PGID{Pool: pool, Seed: seed, Preferred: -1}
}

func (p PGID) String() string {
	return fmt.Sprintf("%d.%x", p.Pool, p.Seed)
}

// SPGID is a placement group plus the shard a message concerns.
type SPGID struct {
	PG    PGID
	Shard ShardID
}

func (s SPGID) String() string {
	if !s.Shard.Valid() {
		return s.PG.String()
	}
	return fmt.Sprintf("%ss%d", s.PG, int8(s.Shard))
}

// PoolUnset is the object pool value written before pools were resolved.
const PoolUnset int64 = -1

// HObject identifies an object within a pool.
type HObject struct {
	Key       string
	OID       string
	Snap      uint64
	Hash      uint32
	Max       bool
	Namespace string
	Pool      int64
}

// MaxHObject returns the sentinel that sorts after every real object.
func MaxHObject() HObject {
	return HObject{Max: true, Pool: PoolUnset}
}

func (o HObject) IsMax() bool {
	return o.Max
}

// PoolID reports the resolved pool, if any.
func (o HObject) PoolID() (int64, bool) {
	if o.Pool == PoolUnset {
		return 0, false
	}
	return o.Pool, true
}

func (o HObject) String() string {
	if o.Max {
		return "MAX"
	}
	var b strings.Builder
	if pool, ok := o.PoolID(); ok {
		fmt.Fprintf(&b, "%d:", pool)
	}
	fmt.Fprintf(&b, "%08x:%s:%s:%s:", o.Hash, o.Namespace, o.Key, o.OID)
	if o.Snap == SnapHead {
		b.WriteString("head")
	} else {
		fmt.Fprintf(&b, "%x", o.Snap)
	}
	return b.String()
}

// SnapHead is the snap id of the live object.
const SnapHead uint64 = 0xfffffffffffffffe

// EVersion is an (epoch, version) position in a placement group log.
type EVersion struct {
	Epoch   uint32
	Version uint64
}

func (v EVersion) Less(o EVersion) bool {
	if v.Epoch != o.Epoch {
		return v.Epoch < o.Epoch
	}
	return v.Version < o.Version
}

func (v EVersion) String() string {
	return fmt.Sprintf("%d'%d", v.Epoch, v.Version)
}

// ParseEVersion parses the "epoch'version" form produced by String.
func ParseEVersion(raw string) (EVersion, error) {
	e, v, ok := strings.Cut(strings.TrimSpace(raw), "'")
	if !ok {
		return EVersion{}, fmt.Errorf("eversion %q: want epoch'version", raw)
	}
	epoch, err := strconv.ParseUint(e, 10, 32)
	if err != nil {
		return EVersion{}, fmt.Errorf("eversion %q: %w", raw, err)
	}
	version, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return EVersion{}, fmt.Errorf("eversion %q: %w", raw, err)
	}
	return EVersion{Epoch: uint32(epoch), Version: version}, nil
}

// PeerStat is the fixed-size peer performance snapshot piggybacked on replies.
type PeerStat struct {
	StampSec  uint32
	StampNsec uint32
}

func PeerStatAt(t time.Time) PeerStat {
	return PeerStat{StampSec: uint32(t.Unix()), StampNsec: uint32(t.Nanosecond())}
}

func (p PeerStat) Stamp() time.Time {
	return time.Unix(int64(p.StampSec), int64(p.StampNsec)).UTC()
}

// OpCode identifies one object operation.
type OpCode uint16

const (
	OpRead      OpCode = 0x1201
	OpStat      OpCode = 0x1202
	OpGetXattr  OpCode = 0x1301
	OpWrite     OpCode = 0x2201
	OpWriteFull OpCode = 0x2202
	OpTruncate  OpCode = 0x2203
	OpZero      OpCode = 0x2204
	OpDelete    OpCode = 0x2205
	OpAppend    OpCode = 0x2206
	OpCreate    OpCode = 0x220d
	OpSetXattr  OpCode = 0x2302
	OpRmXattr   OpCode = 0x2304
)

var opNames = map[OpCode]string{
	OpRead:      "read",
	OpStat:      "stat",
	OpGetXattr:  "getxattr",
	OpWrite:     "write",
	OpWriteFull: "writefull",
	OpTruncate:  "truncate",
	OpZero:      "zero",
	OpDelete:    "delete",
	OpAppend:    "append",
	OpCreate:    "create",
	OpSetXattr:  "setxattr",
	OpRmXattr:   "rmxattr",
}

func (c OpCode) String() string {
	if name, ok := opNames[c]; ok {
		return name
	}
	return fmt.Sprintf("op%#x", uint16(c))
}

// ParseOpCode maps an op name back to its code.
func ParseOpCode(name string) (OpCode, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for code, n := range opNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// Op is one operation of a request. Operand travels with requests only.
type Op struct {
	Code    OpCode
	Operand []byte
}

func (o Op) String() string {
	return o.Code.String()
}

// AckFlags is the durability level a reply attests to.
type AckFlags uint8

const (
	AckFlagAck     AckFlags = 0x01
	AckFlagOnNVRAM AckFlags = 0x02
	AckFlagOnDisk  AckFlags = 0x04
)

func (f AckFlags) Has(flag AckFlags) bool {
	return f&flag != 0
}

func (f AckFlags) String() string {
	parts := make([]string, 0, 3)
	if f.Has(AckFlagOnDisk) {
		parts = append(parts, "ondisk")
	}
	if f.Has(AckFlagOnNVRAM) {
		parts = append(parts, "onnvram")
	}
	if f.Has(AckFlagAck) {
		parts = append(parts, "ack")
	}
	if rest := f &^ (AckFlagAck | AckFlagOnNVRAM | AckFlagOnDisk); rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseAckFlags accepts a "|" or "," separated list of ondisk, onnvram, ack.
func ParseAckFlags(raw string) (AckFlags, error) {
	var out AckFlags
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "ondisk":
			out |= AckFlagOnDisk
		case "onnvram":
			out |= AckFlagOnNVRAM
		case "ack":
			out |= AckFlagAck
		case "":
		default:
			return 0, fmt.Errorf("unknown ack flag %q", part)
		}
	}
	return out, nil
}

// TraceInfo correlates a message with a distributed trace. All zero means none.
type TraceInfo struct {
	TraceID      uint64
	SpanID       uint64
	ParentSpanID uint64
}

func (t TraceInfo) Active() bool {
	return t != TraceInfo{}
}
