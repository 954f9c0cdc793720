package subopreply

import (
	"encoding/hex"
	"time"
)

// View is a flat, printable rendering of a Message.
type View struct {
	Tid                uint64            `json:"tid" yaml:"tid"`
	HeaderVersion      uint16            `json:"header_version" yaml:"header_version"`
	MapEpoch           uint64            `json:"map_epoch" yaml:"map_epoch"`
	ReqID              string            `json:"reqid" yaml:"reqid"`
	From               string            `json:"from" yaml:"from"`
	PGID               string            `json:"pgid" yaml:"pgid"`
	Object             string            `json:"object" yaml:"object"`
	Ops                []string          `json:"ops" yaml:"ops"`
	AckType            string            `json:"ack_type" yaml:"ack_type"`
	Result             int32             `json:"result" yaml:"result"`
	LastCompleteOnDisk string            `json:"last_complete_ondisk" yaml:"last_complete_ondisk"`
	PeerStamp          string            `json:"peer_stamp" yaml:"peer_stamp"`
	Attrs              map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Trace              *TraceView        `json:"trace,omitempty" yaml:"trace,omitempty"`
}

type TraceView struct {
	TraceID      uint64 `json:"trace_id" yaml:"trace_id"`
	SpanID       uint64 `json:"span_id" yaml:"span_id"`
	ParentSpanID uint64 `json:"parent_span_id" yaml:"parent_span_id"`
}

// View renders m. Attribute values are hex encoded.
func (m *Message) View() View {
	v := View{
		Tid:                m.tid,
		HeaderVersion:      m.headerVersion,
		MapEpoch:           uint64(m.mapEpoch),
		ReqID:              m.reqID.String(),
		From:               m.from.String(),
		PGID:               m.pgid.String(),
		Object:             m.oid.String(),
		Ops:                make([]string, 0, len(m.ops)),
		AckType:            m.ackType.String(),
		Result:             m.result,
		LastCompleteOnDisk: m.lastCompleteOnDisk.String(),
		PeerStamp:          m.peerStat.Stamp().Format(time.RFC3339Nano),
	}
	for _, op := range m.ops {
		v.Ops = append(v.Ops, op.Code.String())
	}
	if len(m.attrs) > 0 {
		v.Attrs = make(map[string]string, len(m.attrs))
		for k, val := range m.attrs {
			v.Attrs[k] = hex.EncodeToString(val)
		}
	}
	if m.trace.Active() {
		v.Trace = &TraceView{
			TraceID:      m.trace.TraceID,
			SpanID:       m.trace.SpanID,
			ParentSpanID: m.trace.ParentSpanID,
		}
	}
	return v
}
