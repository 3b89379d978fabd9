package utils

import "time"

// RollingAverage is the mean of the last n durations added.
type RollingAverage struct {
	data   []time.Duration
	pos    int
	filled int
}

// NewRollingAverage returns an average over numSamples samples.
func NewRollingAverage(numSamples int) *RollingAverage {
	if numSamples < 1 {
		numSamples = 1
	}
	return &RollingAverage{data: make([]time.Duration, numSamples)}
}

// NumSamples returns the window size.
func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

// Add records a sample, evicting the oldest once the window is full.
func (ra *RollingAverage) Add(d time.Duration) {
	ra.data[ra.pos] = d
	ra.pos = (ra.pos + 1) % len(ra.data)
	if ra.filled < len(ra.data) {
		ra.filled++
	}
}

// Average returns the mean of the recorded samples, or 0 before the first one.
func (ra *RollingAverage) Average() time.Duration {
	if ra.filled == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ra.data[:ra.filled] {
		sum += d
	}
	return sum / time.Duration(ra.filled)
}

// Rate returns how many samples of the average length fit in a second, e.g. frames per second
// when samples are frame intervals.
func (ra *RollingAverage) Rate() float64 {
	avg := ra.Average()
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}
