// Package services hosts the background aggregation services that compose
// venue feeds into the well-known bus topics.
package services

import (
	"math"
	"time"
)

const (
	// windowCap bounds each rolling observation window.
	windowCap = 100
	// minSamples is the observation count below which no z-score is reported.
	minSamples = 5
)

// window is a rolling series of observations keyed by observation time.
// Pushes older than the newest accepted observation are ignored, so repeated
// history fetches only extend the series.
type window struct {
	values []float64
	lastTS time.Time
}

// push appends an observation when it is newer than everything seen so far.
func (w *window) push(ts time.Time, v float64) bool {
	if !ts.After(w.lastTS) {
		return false
	}
	w.lastTS = ts
	w.values = append(w.values, v)
	if len(w.values) > windowCap {
		w.values = w.values[len(w.values)-windowCap:]
	}
	return true
}

// last returns the newest observation, or 0 when empty.
func (w *window) last() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return w.values[len(w.values)-1]
}

// zScore measures how far the newest observation sits from the window mean,
// in sample standard deviations. Windows below minSamples or without spread
// report 0.
func (w *window) zScore() float64 {
	n := len(w.values)
	if n < minSamples {
		return 0
	}

	var sum float64
	for _, v := range w.values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range w.values {
		d := v - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(n-1))
	if stdev == 0 {
		return 0
	}
	return (w.last() - mean) / stdev
}
