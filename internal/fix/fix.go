package fix

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Unknown is the sentinel for speed/heading/climb values the provider did
// not report (or reported as NaN).
const Unknown = -1.0

// NoneHandle is the location handle a session exposes before any fix has
// been delivered to it.
const NoneHandle = "none"

// Number of position merges a stored velocity sample stays eligible for.
const velocityFreshSteps = 2

// Fix is one immutable merged position+velocity record. Seq is assigned by
// the Distributor on publish and forms the public handle; a Fix is never
// mutated after that.
type Fix struct {
	Seq uint64 `json:"seq"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`

	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
	Climb   float64 `json:"climb"`

	TimeSec  int64 `json:"time_sec"`
	TimeUsec int64 `json:"time_usec"`

	// Always empty; kept on the wire for interface compatibility.
	Description string `json:"description"`
}

// Handle returns the public handle for a published fix.
func (f Fix) Handle() string {
	return fmt.Sprintf("fix/%d", f.Seq)
}

type velocity struct {
	speed     float64
	direction float64
	climb     float64
	fresh     int
}

// Merger folds independently-arriving velocity samples into position
// samples. Position and velocity are not correlated by any shared key; a
// velocity sample is attributed to at most the next two position samples,
// then decays to Unknown.
type Merger struct {
	mu   sync.Mutex
	last velocity
}

// SetVelocity stores the latest velocity sample and resets its freshness.
// NaN values are sanitized to Unknown before storage.
func (m *Merger) SetVelocity(speed, direction, climb float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.last.speed = sanitize(speed)
	m.last.direction = sanitize(direction)
	m.last.climb = sanitize(climb)
	m.last.fresh = velocityFreshSteps
	m.mu.Unlock()
}

// MergePosition builds a Fix (without a sequence number) from a position
// sample, copying in the stored velocity while it is still fresh. Each
// merge consumes one freshness step.
func (m *Merger) MergePosition(timestamp int64, lat, lon, alt, accuracy float64) Fix {
	f := Fix{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
		Accuracy:  accuracy,
		Speed:     Unknown,
		Heading:   Unknown,
		Climb:     Unknown,
	}
	if timestamp > 0 {
		f.TimeSec = timestamp
	} else {
		now := time.Now().UTC()
		f.TimeSec = now.Unix()
		f.TimeUsec = int64(now.Nanosecond() / 1000)
	}

	if m == nil {
		return f
	}
	m.mu.Lock()
	if m.last.fresh > 0 {
		f.Speed = m.last.speed
		f.Heading = m.last.direction
		f.Climb = m.last.climb
		m.last.fresh--
	}
	m.mu.Unlock()
	return f
}

// Reset discards the stored velocity. Called when the provider session is
// torn down so a stale sample cannot leak into the next session's fixes.
func (m *Merger) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.last = velocity{}
	m.mu.Unlock()
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) {
		return Unknown
	}
	return v
}
