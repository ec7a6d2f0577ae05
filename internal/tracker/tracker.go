// Package tracker keeps running throughput statistics of the event stream.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// relativeAccuracy of the quantile sketches.
const relativeAccuracy = 0.01

// Tracker counts events and bytes and keeps quantile sketches of the
// per-event payload size and the time between events.
type Tracker struct {
	mu sync.Mutex

	now   func() time.Time
	start time.Time
	last  time.Time

	events int64
	bytes  int64

	sizes *ddsketch.DDSketch
	gaps  *ddsketch.DDSketch
}

// New creates a Tracker whose clock starts now.
func New() *Tracker {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Tracker {
	t := &Tracker{now: now}
	t.resetLocked()
	return t
}

func newSketch() *ddsketch.DDSketch {
	// Only fails for an accuracy outside (0, 1)
	s, err := ddsketch.NewDefaultDDSketch(relativeAccuracy)
	if err != nil {
		panic(err)
	}
	return s
}

// Track records one event of nbytes.
func (t *Tracker) Track(nbytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.events > 0 {
		t.gaps.Add(now.Sub(t.last).Seconds())
	}
	t.last = now

	t.events++
	t.bytes += int64(nbytes)
	t.sizes.Add(float64(nbytes))
}

// Reset clears all counters and restarts the clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.start = t.now()
	t.last = time.Time{}
	t.events = 0
	t.bytes = 0
	t.sizes = newSketch()
	t.gaps = newSketch()
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	Events  int64
	Bytes   int64
	Elapsed time.Duration

	EventRate float64 // events per second
	ByteRate  float64 // bytes per second

	SizeP50, SizeP90, SizeP99 float64
	GapP50, GapP90, GapP99    time.Duration
}

// Snapshot returns the current statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Events:  t.events,
		Bytes:   t.bytes,
		Elapsed: t.now().Sub(t.start),
	}

	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.EventRate = float64(s.Events) / secs
		s.ByteRate = float64(s.Bytes) / secs
	}

	if !t.sizes.IsEmpty() {
		s.SizeP50, _ = t.sizes.GetValueAtQuantile(0.50)
		s.SizeP90, _ = t.sizes.GetValueAtQuantile(0.90)
		s.SizeP99, _ = t.sizes.GetValueAtQuantile(0.99)
	}
	if !t.gaps.IsEmpty() {
		s.GapP50 = seconds(t.gaps, 0.50)
		s.GapP90 = seconds(t.gaps, 0.90)
		s.GapP99 = seconds(t.gaps, 0.99)
	}

	return s
}

func seconds(s *ddsketch.DDSketch, q float64) time.Duration {
	v, err := s.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// String renders the snapshot for the console.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d events, %d bytes in %s (%.1f ev/s, %.1f kB/s); size p50/p90/p99 %.0f/%.0f/%.0f B; gap p50/p90/p99 %s/%s/%s",
		s.Events, s.Bytes, s.Elapsed.Truncate(time.Millisecond),
		s.EventRate, s.ByteRate/1000,
		s.SizeP50, s.SizeP90, s.SizeP99,
		s.GapP50, s.GapP90, s.GapP99)
}
