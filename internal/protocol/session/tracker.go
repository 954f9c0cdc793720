package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/replack/internal/logging"
	"github.com/danmuck/replack/internal/observability"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/subopreply"
)

var (
	ErrUnknownTid          = errors.New("session: reply for unknown tid")
	ErrUnknownReplica      = errors.New("session: reply from replica outside the pending set")
	ErrStaleEpoch          = errors.New("session: reply map epoch older than request")
	ErrLastCompleteRegress = errors.New("session: last_complete_ondisk moved backwards")
	ErrDuplicateTid        = errors.New("session: tid already pending")
)

// ReplicaProgress is what one replica has attested for a pending sub-op.
type ReplicaProgress struct {
	Acked              bool
	OnNVRAM            bool
	OnDisk             bool
	Result             int32
	LastCompleteOnDisk osd.EVersion
	RepliedAt          time.Time
}

// PendingSubOp tracks one sub-op fanned out to replicas and awaiting replies.
type PendingSubOp struct {
	Tid      uint64
	ReqID    osd.ReqID
	PGID     osd.SPGID
	MapEpoch osd.Epoch
	QueuedAt time.Time
	Replicas map[osd.PGShard]ReplicaProgress
}

// Acked reports whether every replica acknowledged at any durability level.
func (p PendingSubOp) Acked() bool {
	for _, r := range p.Replicas {
		if !r.Acked && !r.OnNVRAM && !r.OnDisk {
			return false
		}
	}
	return true
}

// Committed reports whether every replica reported the sub-op on disk.
func (p PendingSubOp) Committed() bool {
	for _, r := range p.Replicas {
		if !r.OnDisk {
			return false
		}
	}
	return true
}

// Failed returns the first replica error result, if any.
func (p PendingSubOp) Failed() (osd.PGShard, int32, bool) {
	shards := sortedShards(p.Replicas)
	for _, s := range shards {
		if r := p.Replicas[s]; r.Result < 0 {
			return s, r.Result, true
		}
	}
	return osd.PGShard{}, 0, false
}

func (p PendingSubOp) clone() PendingSubOp {
	out := p
	out.Replicas = make(map[osd.PGShard]ReplicaProgress, len(p.Replicas))
	for k, v := range p.Replicas {
		out.Replicas[k] = v
	}
	return out
}

type lastComplete struct {
	mapEpoch osd.Epoch
	version  osd.EVersion
}

// Tracker stores pending sub-ops by tid and applies replies to them.
type Tracker struct {
	mu      sync.RWMutex
	items   map[uint64]PendingSubOp
	lastLCD map[osd.PGShard]lastComplete
}

func NewTracker() *Tracker {
	return &Tracker{
		items:   make(map[uint64]PendingSubOp),
		lastLCD: make(map[osd.PGShard]lastComplete),
	}
}

// Track registers req as sent to replicas.
func (t *Tracker) Track(req *subopreply.SubOp, replicas []osd.PGShard, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[req.Tid]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTid, req.Tid)
	}
	p := PendingSubOp{
		Tid:      req.Tid,
		ReqID:    req.ReqID,
		PGID:     req.PGID,
		MapEpoch: req.MapEpoch,
		QueuedAt: at,
		Replicas: make(map[osd.PGShard]ReplicaProgress, len(replicas)),
	}
	for _, r := range replicas {
		p.Replicas[r] = ReplicaProgress{}
	}
	t.items[req.Tid] = p
	return nil
}

// Apply folds reply into its pending sub-op and returns the updated state.
// A sub-op is removed once every replica has committed it.
func (t *Tracker) Apply(reply *subopreply.Message, at time.Time) (PendingSubOp, error) {
	l := logging.Component("session")
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.items[reply.Tid()]
	if !ok {
		observability.RecordReply("unknown_tid")
		return PendingSubOp{}, fmt.Errorf("%w: %d", ErrUnknownTid, reply.Tid())
	}
	from := reply.From()
	progress, ok := p.Replicas[from]
	if !ok {
		observability.RecordReply("unknown_replica")
		return PendingSubOp{}, fmt.Errorf("%w: %s tid=%d", ErrUnknownReplica, from, reply.Tid())
	}
	if reply.MapEpoch() < p.MapEpoch {
		observability.RecordReply("stale_epoch")
		return PendingSubOp{}, fmt.Errorf("%w: reply=%d request=%d", ErrStaleEpoch, reply.MapEpoch(), p.MapEpoch)
	}
	lcd := reply.LastCompleteOnDisk()
	if prev, ok := t.lastLCD[from]; ok && prev.mapEpoch == reply.MapEpoch() && lcd.Less(prev.version) {
		observability.RecordReply("lcd_regress")
		return PendingSubOp{}, fmt.Errorf("%w: %s %s < %s", ErrLastCompleteRegress, from, lcd, prev.version)
	}
	t.lastLCD[from] = lastComplete{mapEpoch: reply.MapEpoch(), version: lcd}

	progress.Acked = progress.Acked || reply.IsAck()
	progress.OnNVRAM = progress.OnNVRAM || reply.IsOnNVRAM()
	progress.OnDisk = progress.OnDisk || reply.IsOnDisk()
	if reply.Result() != 0 || progress.Result == 0 {
		progress.Result = reply.Result()
	}
	progress.LastCompleteOnDisk = lcd
	progress.RepliedAt = at
	p.Replicas[from] = progress

	if p.Committed() {
		delete(t.items, p.Tid)
		observability.RecordReply("committed")
		l.Debug().Uint64("tid", p.Tid).Str("reqid", p.ReqID.String()).Msg("sub-op committed on all replicas")
	} else {
		t.items[p.Tid] = p
		observability.RecordReply("applied")
	}
	return p.clone(), nil
}

func (t *Tracker) Get(tid uint64) (PendingSubOp, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.items[tid]
	if !ok {
		return PendingSubOp{}, false
	}
	return p.clone(), true
}

func (t *Tracker) Remove(tid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, tid)
}

func (t *Tracker) List() []PendingSubOp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PendingSubOp, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tid < out[j].Tid
	})
	return out
}

func sortedShards(m map[osd.PGShard]ReplicaProgress) []osd.PGShard {
	out := make([]osd.PGShard, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OSD != out[j].OSD {
			return out[i].OSD < out[j].OSD
		}
		return out[i].Shard < out[j].Shard
	})
	return out
}
