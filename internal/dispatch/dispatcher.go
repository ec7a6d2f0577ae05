// Package dispatch drains the display queue on behalf of the operator layer.
//
// For every event the dispatcher updates the live view, feeds the throughput
// tracker and, while recording, routes a Record to the write queue of the
// event's channel. It owns the global event counter and the recording flag;
// writers only ever see the counter as a value copied into a Record.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/channel"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/storage/backpressure"
	"github.com/xtxerr/digirec/internal/tracker"
)

// CounterMode selects when the global event counter advances.
type CounterMode int

const (
	// CountLastChannel advances once per channel group, after the highest
	// mapped channel has been seen.
	CountLastChannel CounterMode = iota
	// CountEveryEvent advances after every event (single stream).
	CountEveryEvent
)

// String returns a human-readable representation of the CounterMode.
func (m CounterMode) String() string {
	switch m {
	case CountLastChannel:
		return "last-channel"
	case CountEveryEvent:
		return "every-event"
	default:
		return fmt.Sprintf("CounterMode(%d)", int(m))
	}
}

// Options configures a Dispatcher.
type Options struct {
	Mode CounterMode

	// Interval is the drain period when no data-ready notification arrives.
	Interval time.Duration

	// DropLogInterval spaces write-queue drop warnings.
	DropLogInterval time.Duration

	Backpressure backpressure.Config
}

// Stats holds dispatcher statistics.
type Stats struct {
	Drained    int64
	Recorded   int64
	Unmapped   int64
	WriteDrops int64
	ItemErrors int64
	Level      backpressure.Level
}

// Dispatcher is the single consumer of the display queue.
type Dispatcher struct {
	display *queue.Queue[*event.Event]
	mapping channel.Mapping
	writes  []*queue.Queue[event.Record]
	sink    Sink
	tracker *tracker.Tracker
	opts    Options

	last     uint32
	hasLast  bool
	pressure *backpressure.Controller

	recording atomic.Bool
	counter   atomic.Uint64

	log     *slog.Logger
	dropLog *logging.Throttle

	drained    atomic.Int64
	recorded   atomic.Int64
	unmapped   atomic.Int64
	writeDrops atomic.Int64
	itemErrors atomic.Int64
}

// New creates a dispatcher. writes holds one queue per mapping index.
// A nil sink or tracker disables that output.
func New(display *queue.Queue[*event.Event], mapping channel.Mapping, writes []*queue.Queue[event.Record], sink Sink, tr *tracker.Tracker, opts Options) (*Dispatcher, error) {
	if len(writes) != mapping.Len() {
		return nil, errors.NewInvalidValue("write queues", len(writes),
			fmt.Sprintf("need one per mapped channel (%d)", mapping.Len()))
	}
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultDispatchInterval
	}
	if opts.DropLogInterval <= 0 {
		opts.DropLogInterval = config.DefaultDropLogInterval
	}

	sources := make([]backpressure.UsageSource, len(writes))
	for i, q := range writes {
		sources[i] = q
	}

	log := logging.Component("dispatcher")
	d := &Dispatcher{
		display:  display,
		mapping:  mapping,
		writes:   writes,
		sink:     sink,
		tracker:  tr,
		opts:     opts,
		pressure: backpressure.New(opts.Backpressure, sources...),
		log:      log,
		dropLog:  logging.NewThrottle(log, opts.DropLogInterval),
	}
	d.last, d.hasLast = mapping.Last()

	d.pressure.SetOnLevelChange(func(old, new backpressure.Level, usage float64) {
		log.Warn("write queue pressure changed", "from", old, "to", new, "usage", usage)
	})
	return d, nil
}

// SetRecording turns routing to the write queues on or off. Records already
// queued are not affected.
func (d *Dispatcher) SetRecording(on bool) {
	if d.recording.Swap(on) != on {
		d.log.Info("recording flag changed", "recording", on, "event_counter", d.counter.Load())
	}
}

// Recording reports whether events are routed to the write queues.
func (d *Dispatcher) Recording() bool {
	return d.recording.Load()
}

// EventCounter returns the global event counter.
func (d *Dispatcher) EventCounter() uint64 {
	return d.counter.Load()
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Drained:    d.drained.Load(),
		Recorded:   d.recorded.Load(),
		Unmapped:   d.unmapped.Load(),
		WriteDrops: d.writeDrops.Load(),
		ItemErrors: d.itemErrors.Load(),
		Level:      d.pressure.CurrentLevel(),
	}
}

// Run drains on every data-ready notification and on each tick until ctx
// ends, then drains once more. ready may be nil.
func (d *Dispatcher) Run(ctx context.Context, ready <-chan struct{}) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", "mode", d.opts.Mode, "channels", d.mapping.String())

	for {
		select {
		case <-ctx.Done():
			n := d.Drain()
			d.log.Info("dispatcher stopped", "final_drain", n, "event_counter", d.counter.Load())
			return
		case <-ready:
		case <-ticker.C:
		}
		d.Drain()
	}
}

// Drain processes everything currently in the display queue without
// blocking and returns the number of events handled.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		ev, ok := d.display.TryPop()
		if !ok {
			break
		}
		n++
		d.drained.Add(1)
		d.handle(ev)
	}
	if n > 0 {
		d.pressure.Check()
	}
	return n
}

// handle processes one event. A panic is confined to its event.
func (d *Dispatcher) handle(ev *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.itemErrors.Add(1)
			d.log.Error("event handling failed", "event", fmt.Sprint(ev), "panic", r)
		}
	}()

	if ev == nil {
		panic("nil event")
	}

	d.sink.Update(ev.Channel, axis(ev.WaveformLength), ev.Samples)

	if d.tracker != nil {
		d.tracker.Track(ev.Samples.NBytes())
	}

	if d.recording.Load() {
		d.route(ev)
	}

	switch d.opts.Mode {
	case CountEveryEvent:
		d.counter.Add(1)
	default:
		if d.hasLast && ev.Channel == d.last {
			d.counter.Add(1)
		}
	}
}

func (d *Dispatcher) route(ev *event.Event) {
	idx, ok := d.mapping.Index(ev.Channel)
	if !ok {
		d.unmapped.Add(1)
		return
	}

	q := d.writes[idx]
	if err := q.TryPush(event.NewRecord(ev, d.counter.Load())); err != nil {
		d.writeDrops.Add(1)
		d.pressure.RecordDrop()
		d.dropLog.Warn("write queue full, record dropped",
			"channel", ev.Channel,
			"queue", q.Name(),
			"dropped_total", d.writeDrops.Load(),
			"error", err)
		return
	}
	d.recorded.Add(1)
}

// axis returns the sample index axis 0..n-1.
func axis(n uint32) []uint32 {
	x := make([]uint32, n)
	for i := range x {
		x[i] = uint32(i)
	}
	return x
}
