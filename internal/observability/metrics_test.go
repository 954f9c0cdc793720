package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/replack/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(decodedTotal.WithLabelValues("osd_sub_op_reply", "1"))
	RecordEncode("osd_sub_op_reply", 180)
	RecordDecode("osd_sub_op_reply", 1, 150)
	RecordDecodeError("osd_sub_op_reply", "truncated")
	RecordReply("committed")

	after := testutil.ToFloat64(decodedTotal.WithLabelValues("osd_sub_op_reply", "1"))
	if after != before+1 {
		t.Fatalf("decoded_total: before=%v after=%v", before, after)
	}
	if got := testutil.ToFloat64(decodeErrors.WithLabelValues("osd_sub_op_reply", "truncated")); got < 1 {
		t.Fatalf("decode_errors_total not recorded: %v", got)
	}

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestWriteTextExposesRecordedFamilies(t *testing.T) {
	testlog.Start(t)

	RecordDecode("osd_sub_op_reply", 3, 200)
	RecordReply("applied")

	var buf bytes.Buffer
	if err := WriteText(&buf); err != nil {
		t.Fatalf("write text: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`replack_codec_decoded_total{message_type="osd_sub_op_reply",version="3"}`,
		`replack_session_replies_total{outcome="applied"}`,
		"# TYPE replack_codec_payload_bytes histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "go_goroutines") {
		t.Fatalf("runtime families must be filtered out")
	}
}
