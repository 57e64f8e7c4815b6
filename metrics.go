package spanwire

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricSpanwireConnInCount counts inbound connections handed to the
	// accept handler.
	MetricSpanwireConnInCount       = []string{"spanwire", "conn", "in", "count"}
	MetricSpanwireConnInRejectCount = []string{"spanwire", "conn", "in", "reject", "count"}
	MetricSpanwireConnOutCount      = []string{"spanwire", "conn", "out", "count"}
	MetricSpanwireConnOutErrorCount = []string{"spanwire", "conn", "out", "error", "count"}
	MetricSpanwireAcceptErrorCount  = []string{"spanwire", "accept", "error", "count"}
	MetricSpanwireMsgInBytes        = []string{"spanwire", "message", "in", "bytes"}
	MetricSpanwireMsgInErrorCount   = []string{"spanwire", "message", "in", "error", "count"}
	MetricSpanwireMsgOutBytes       = []string{"spanwire", "message", "out", "bytes"}
	MetricSpanwireMsgOutErrorCount  = []string{"spanwire", "message", "out", "error", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelPeerAddr  TelemetryLabel = "peer_addr"
	LabelLocalAddr TelemetryLabel = "local_addr"
	LabelInstance  TelemetryLabel = "instance"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
