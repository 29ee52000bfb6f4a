package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"telemlink/pkg/protocol"
)

var (
	registerOnce sync.Once

	decodedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "decoder",
			Name:      "frames_total",
			Help:      "Candidate frames by checksum outcome.",
		},
		[]string{"layout", "outcome"},
	)
	resyncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "decoder",
			Name:      "resync_events_total",
			Help:      "False header matches and whole-buffer drops.",
		},
		[]string{"layout", "kind"},
	)
	droppedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "decoder",
			Name:      "dropped_bytes_total",
			Help:      "Bytes skipped while searching for a frame header.",
		},
		[]string{"layout"},
	)
	receivedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "decoder",
			Name:      "received_bytes_total",
			Help:      "Bytes fed to the decoder.",
		},
		[]string{"layout"},
	)
	bufferedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "telemlink",
			Subsystem: "decoder",
			Name:      "buffered_bytes",
			Help:      "Bytes waiting for the rest of a frame.",
		},
		[]string{"layout"},
	)
	hubDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "hub",
			Name:      "dropped_records_total",
			Help:      "Records dropped because the broadcast queue or a subscriber channel was full.",
		},
	)
	feedDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "feed",
			Name:      "dropped_messages_total",
			Help:      "Messages dropped because a websocket client fell behind.",
		},
	)
	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemlink",
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected websocket feed clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(decodedFrames, resyncEvents, droppedBytes, receivedBytes, bufferedBytes, hubDropped, feedDropped, feedClients)
	})
}

// RecordDecode adds the counter movement between two decoder snapshots.
// A snapshot smaller than prev means the decoder was reset in between.
func RecordDecode(layout string, prev, cur protocol.Stats, chunk int, buffered int) {
	RegisterMetrics()
	d := Delta(prev, cur)
	if d.Accepted > 0 {
		decodedFrames.WithLabelValues(layout, "accepted").Add(float64(d.Accepted))
	}
	if d.Rejected > 0 {
		decodedFrames.WithLabelValues(layout, "rejected").Add(float64(d.Rejected))
	}
	if d.FalseHeaders > 0 {
		resyncEvents.WithLabelValues(layout, "false_header").Add(float64(d.FalseHeaders))
	}
	if d.ResyncDrops > 0 {
		resyncEvents.WithLabelValues(layout, "drop_buffer").Add(float64(d.ResyncDrops))
	}
	if d.DroppedBytes > 0 {
		droppedBytes.WithLabelValues(layout).Add(float64(d.DroppedBytes))
	}
	receivedBytes.WithLabelValues(layout).Add(float64(chunk))
	bufferedBytes.WithLabelValues(layout).Set(float64(buffered))
}

func RecordHubDrops(n uint64) {
	RegisterMetrics()
	if n > 0 {
		hubDropped.Add(float64(n))
	}
}

func RecordFeedDrops(n uint64) {
	RegisterMetrics()
	if n > 0 {
		feedDropped.Add(float64(n))
	}
}

func SetFeedClients(n int) {
	RegisterMetrics()
	feedClients.Set(float64(n))
}

// Delta returns cur-prev per counter, or cur when a counter went backwards.
func Delta(prev, cur protocol.Stats) protocol.Stats {
	return protocol.Stats{
		Accepted:     sub(cur.Accepted, prev.Accepted),
		Rejected:     sub(cur.Rejected, prev.Rejected),
		FalseHeaders: sub(cur.FalseHeaders, prev.FalseHeaders),
		ResyncDrops:  sub(cur.ResyncDrops, prev.ResyncDrops),
		DroppedBytes: sub(cur.DroppedBytes, prev.DroppedBytes),
	}
}

func sub(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
