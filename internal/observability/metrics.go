package observability

import (
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	registerOnce sync.Once

	encodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replack",
			Subsystem: "codec",
			Name:      "encoded_total",
			Help:      "Messages encoded, by message type.",
		},
		[]string{"message_type"},
	)
	decodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replack",
			Subsystem: "codec",
			Name:      "decoded_total",
			Help:      "Messages decoded, by message type and declared header version.",
		},
		[]string{"message_type", "version"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replack",
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Decode failures, by message type and error kind.",
		},
		[]string{"message_type", "kind"},
	)
	payloadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replack",
			Subsystem: "codec",
			Name:      "payload_bytes",
			Help:      "Payload sizes, by direction.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"direction"},
	)
	sessionReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replack",
			Subsystem: "session",
			Name:      "replies_total",
			Help:      "Replies applied to pending sub-ops, by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(encodedTotal, decodedTotal, decodeErrors, payloadBytes, sessionReplies)
	})
}

func RecordEncode(messageType string, size int) {
	RegisterMetrics()
	encodedTotal.WithLabelValues(messageType).Inc()
	payloadBytes.WithLabelValues("out").Observe(float64(size))
}

func RecordDecode(messageType string, version uint16, size int) {
	RegisterMetrics()
	decodedTotal.WithLabelValues(messageType, strconv.Itoa(int(version))).Inc()
	payloadBytes.WithLabelValues("in").Observe(float64(size))
}

func RecordDecodeError(messageType, kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(messageType, kind).Inc()
}

func RecordReply(outcome string) {
	RegisterMetrics()
	sessionReplies.WithLabelValues(outcome).Inc()
}

// WriteText writes the replack_* families in the Prometheus text format.
func WriteText(w io.Writer) error {
	RegisterMetrics()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "replack_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
