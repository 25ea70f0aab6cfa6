// Package samplelog holds the readings captured during one session.
package samplelog

// TimeLayout is the wall-clock format used for Sample timestamps.
const TimeLayout = "15:04:05"

// Sample is one timestamped 3-axis reading. The log does not record which
// sensor produced it.
type Sample struct {
	Timestamp string  `json:"time"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// Log is an append-only, arrival-ordered sequence of samples.
//
// A Log is not safe for concurrent use; it belongs to the goroutine running
// the capture session.
type Log struct {
	samples []Sample
	limit   int
}

// NewLog returns an empty log. A positive limit caps the log at limit samples by
// evicting the oldest; zero or negative means unbounded.
func NewLog(limit int) *Log {
	if limit < 0 {
		limit = 0
	}
	return &Log{limit: limit}
}

// Append adds one sample to the end. Values are stored as given, NaN and
// infinities included.
func (l *Log) Append(timestamp string, x, y, z float64) {
	if l.limit > 0 && len(l.samples) >= l.limit {
		n := copy(l.samples, l.samples[len(l.samples)-l.limit+1:])
		l.samples = l.samples[:n]
	}
	l.samples = append(l.samples, Sample{Timestamp: timestamp, X: x, Y: y, Z: z})
}

// Clear removes every sample. Slices returned by ReadAll are unaffected.
func (l *Log) Clear() {
	l.samples = nil
}

// Size returns the number of samples held.
func (l *Log) Size() int {
	return len(l.samples)
}

// ReadAll returns a copy of the samples in arrival order.
func (l *Log) ReadAll() []Sample {
	out := make([]Sample, len(l.samples))
	copy(out, l.samples)
	return out
}

// Max returns the configured cap, 0 when unbounded.
func (l *Log) Max() int {
	return l.limit
}
