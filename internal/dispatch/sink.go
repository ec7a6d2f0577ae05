package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/logging"
)

// Sink receives every drained event for live display. Update runs on the
// dispatch goroutine and must not block.
type Sink interface {
	Update(channel uint32, x []uint32, samples event.Samples)
}

// NopSink discards updates.
type NopSink struct{}

// Update implements Sink.
func (NopSink) Update(uint32, []uint32, event.Samples) {}

// FuncSink adapts a function to Sink.
type FuncSink func(channel uint32, x []uint32, samples event.Samples)

// Update implements Sink.
func (f FuncSink) Update(channel uint32, x []uint32, samples event.Samples) {
	f(channel, x, samples)
}

// LogSink summarises the live view as periodic log lines, one per channel
// at most every interval.
type LogSink struct {
	log      *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	limiters map[uint32]*rate.Limiter
	updates  map[uint32]int64
}

// NewLogSink creates a LogSink. A non-positive interval means one second.
func NewLogSink(interval time.Duration) *LogSink {
	if interval <= 0 {
		interval = time.Second
	}
	return &LogSink{
		log:      logging.Component("display"),
		interval: interval,
		limiters: make(map[uint32]*rate.Limiter),
		updates:  make(map[uint32]int64),
	}
}

// Update implements Sink.
func (s *LogSink) Update(channel uint32, x []uint32, samples event.Samples) {
	s.mu.Lock()
	lim, ok := s.limiters[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[channel] = lim
	}
	s.updates[channel]++
	n := s.updates[channel]
	s.mu.Unlock()

	if !lim.Allow() {
		return
	}

	lo, hi := minMax(samples)
	s.log.Info("waveform",
		"channel", channel,
		"length", len(x),
		"kind", samples.Kind(),
		"min", lo,
		"max", hi,
		"updates", n)
}

// Updates returns the number of updates seen for channel.
func (s *LogSink) Updates(channel uint32) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[channel]
}

func minMax(s event.Samples) (lo, hi float64) {
	n := s.Len()
	if n == 0 {
		return 0, 0
	}
	lo, hi = s.Float64(0), s.Float64(0)
	for i := 1; i < n; i++ {
		v := s.Float64(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
