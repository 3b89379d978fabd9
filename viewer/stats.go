package viewer

import (
	"time"

	"github.com/montanaflynn/stats"

	"go.viam.com/rgbdview/sensor"
)

// Stats summarizes a loop's iterations.
type Stats struct {
	Iterations int
	// Images counts presented images per sensor.
	Images map[sensor.Type]int
	// Missed counts iterations in which a sensor produced no image.
	Missed map[sensor.Type]int

	// MeanLatency and P95Latency cover the last LatencyWindow iterations, MaxLatency all of them.
	MeanLatency time.Duration
	P95Latency  time.Duration
	MaxLatency  time.Duration
}

// LatencyWindow is the number of recent iterations latency statistics are computed over.
const LatencyWindow = 1024

type statsRecorder struct {
	images    map[sensor.Type]int
	misses    map[sensor.Type]int
	// latencies is a ring of the last LatencyWindow samples; next is the slot written next.
	latencies  stats.Float64Data
	next       int
	maxLatency time.Duration
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{images: map[sensor.Type]int{}, misses: map[sensor.Type]int{}}
}

func (r *statsRecorder) presented(sensorType sensor.Type) {
	r.images[sensorType]++
}

func (r *statsRecorder) missed(sensorType sensor.Type) {
	r.misses[sensorType]++
}

func (r *statsRecorder) latency(d time.Duration) {
	if d > r.maxLatency {
		r.maxLatency = d
	}
	if len(r.latencies) < LatencyWindow {
		r.latencies = append(r.latencies, float64(d))
		return
	}
	r.latencies[r.next] = float64(d)
	r.next = (r.next + 1) % LatencyWindow
}

func (r *statsRecorder) summary(iterations int) Stats {
	summary := Stats{
		Iterations: iterations,
		Images:     map[sensor.Type]int{},
		Missed:     map[sensor.Type]int{},
	}
	for k, v := range r.images {
		summary.Images[k] = v
	}
	for k, v := range r.misses {
		summary.Missed[k] = v
	}
	if len(r.latencies) == 0 {
		return summary
	}
	// Errors only occur for empty input.
	mean, _ := stats.Mean(r.latencies)
	p95, _ := stats.Percentile(r.latencies, 95)
	summary.MeanLatency = time.Duration(mean)
	summary.P95Latency = time.Duration(p95)
	summary.MaxLatency = r.maxLatency
	return summary
}
