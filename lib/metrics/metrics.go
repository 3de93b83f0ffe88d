// Package metrics exposes the bridge's Prometheus counters and gauges,
// using promauto/promhttp, covering the video bridge's
// produce/display/drop/resize/fence lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_produced_total",
		Help: "Total number of frames the producer rendered and published into a slot",
	}, []string{"output"})

	FramesDisplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_displayed_total",
		Help: "Total number of HW-path texture polls answered by the consumer; repeated polls of the same sequence are each counted",
	}, []string{"output"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_dropped_total",
		Help: "Total number of frames discarded because rendering them failed; frames superseded by the lost-frame discipline are not counted",
	}, []string{"output"})

	Resizes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_resizes_total",
		Help: "Total number of BufferPool.Ensure calls that reallocated the pool",
	}, []string{"output"})

	FenceTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_fence_timeouts_total",
		Help: "Total number of bounded fence waits (legacy single-buffer path) that exceeded their deadline",
	}, []string{"output"})

	Mode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_mode",
		Help: "Current VideoOutput mode: 1 if the labelled mode is active, 0 otherwise",
	}, []string{"output", "mode"})
)

// OutputMetrics is a per-VideoOutput handle onto the package-level vectors,
// following lib/metrics.StreamMetrics's per-name binding pattern.
type OutputMetrics struct {
	name string

	FramesProduced  prometheus.Counter
	FramesDisplayed prometheus.Counter
	FramesDropped   prometheus.Counter
	Resizes         prometheus.Counter
	FenceTimeouts   prometheus.Counter
}

// New binds all counters to name and zeroes them so the series exists from
// startup instead of only appearing after the first increment.
func New(name string) OutputMetrics {
	m := OutputMetrics{
		name:            name,
		FramesProduced:  FramesProduced.WithLabelValues(name),
		FramesDisplayed: FramesDisplayed.WithLabelValues(name),
		FramesDropped:   FramesDropped.WithLabelValues(name),
		Resizes:         Resizes.WithLabelValues(name),
		FenceTimeouts:   FenceTimeouts.WithLabelValues(name),
	}
	m.FramesProduced.Add(0)
	m.FramesDisplayed.Add(0)
	m.FramesDropped.Add(0)
	m.Resizes.Add(0)
	m.FenceTimeouts.Add(0)
	return m
}

// SetMode records which of "hw" or "sw" is currently active, clearing the
// other, matching the VideoOutput state machine's HW_READY/SW_READY states.
func (m OutputMetrics) SetMode(active string) {
	for _, mode := range []string{"hw", "sw"} {
		v := 0.0
		if mode == active {
			v = 1.0
		}
		Mode.WithLabelValues(m.name, mode).Set(v)
	}
}

// Handler should usually be mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
