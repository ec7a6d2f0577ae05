// Package sim is a simulated digitiser.
//
// It reads the same dictionaries a real instrument would: enabled channels
// from ch<N> sections of the recording config, and dig_gen, record_length,
// trigger_rate_hz and seed from the device config. Every trigger produces one
// waveform per enabled channel, emitted in ascending channel order.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/xtxerr/digirec/internal/channel"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Defaults for keys the device config may omit.
const (
	DefaultRecordLength  = 64
	DefaultTriggerRateHz = 100.0
)

const baseline = 8000

// Digitiser generates pulse-shaped waveforms at a fixed trigger rate.
type Digitiser struct {
	mu sync.Mutex

	connected bool
	gen       schema.Generation
	length    int
	interval  time.Duration
	channels  []uint32

	start    time.Time
	next     time.Time
	triggers uint64
	pending  []*event.Event
	rng      *rand.Rand
}

// New returns a disconnected simulator.
func New() *Digitiser {
	return &Digitiser{}
}

// Connect configures the simulator. A previous connection is replaced.
func (d *Digitiser) Connect(dig, rec loader.Dict) error {
	v := errors.NewValidationErrors()

	digCfg, err := loader.ParseDigitiser(dig)
	v.Add(err)

	length := DefaultRecordLength
	if dig.Has("record_length") {
		if length, err = dig.Int("record_length"); err != nil {
			v.Add(err)
		} else if length <= 0 {
			v.AddInvalid("record_length", length, "must be positive")
		}
	}

	rate := DefaultTriggerRateHz
	if dig.Has("trigger_rate_hz") {
		if rate, err = dig.Float("trigger_rate_hz"); err != nil {
			v.Add(err)
		} else if rate <= 0 {
			v.AddInvalid("trigger_rate_hz", rate, "must be positive")
		}
	}

	seed := uint64(1)
	if dig.Has("seed") {
		s, err := dig.Int("seed")
		v.Add(err)
		seed = uint64(s)
	}

	mapping, err := channel.FromConfig(rec)
	v.Add(err)

	if err := v.Err(); err != nil {
		return errors.Classify(errors.ErrConnection, err)
	}

	channels := mapping.Channels()
	slices.Sort(channels)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = true
	d.gen = digCfg.Generation
	d.length = length
	d.interval = time.Duration(float64(time.Second) / rate)
	d.channels = channels
	d.start = time.Now()
	d.next = d.start.Add(d.interval)
	d.triggers = 0
	d.pending = nil
	d.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	logging.Component("sim").Info("simulated digitiser connected",
		"generation", d.gen,
		"record_length", d.length,
		"trigger_rate_hz", rate,
		"channels", channels)
	return nil
}

// Poll returns the next waveform, waiting for the next trigger if needed.
func (d *Digitiser) Poll(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil, fmt.Errorf("simulated digitiser: %w", errors.ErrConnection)
	}
	if len(d.pending) > 0 {
		ev := d.pop()
		d.mu.Unlock()
		return ev, nil
	}
	if len(d.channels) == 0 {
		d.mu.Unlock()
		return nil, sleep(ctx, timeout)
	}

	wait := time.Until(d.next)
	d.mu.Unlock()

	if wait > timeout {
		return nil, sleep(ctx, timeout)
	}
	if err := sleep(ctx, wait); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, fmt.Errorf("simulated digitiser: %w", errors.ErrConnection)
	}
	if len(d.pending) == 0 {
		d.trigger()
	}
	return d.pop(), nil
}

func (d *Digitiser) pop() *event.Event {
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev
}

// trigger fills pending with one waveform per channel.
func (d *Digitiser) trigger() {
	ts := uint64(d.next.Sub(d.start).Nanoseconds())
	d.triggers++
	d.next = d.next.Add(d.interval)

	amplitude := 500 + d.rng.Float64()*3000
	for _, ch := range d.channels {
		ev := &event.Event{
			WaveformLength: uint32(d.length),
			Channel:        ch,
			Timestamp:      ts,
		}
		if d.gen == schema.Generation2 {
			ev.Samples = event.Float32Samples(d.float32Pulse(amplitude))
		} else {
			ev.Samples = event.Uint16Samples(d.uint16Pulse(amplitude))
		}
		d.pending = append(d.pending, ev)
	}
}

// pulse returns the noiseless shape at sample i: a fast rise at a quarter of
// the record and an exponential decay.
func (d *Digitiser) pulse(i int, amplitude float64) float64 {
	t0 := d.length / 4
	if i < t0 {
		return 0
	}
	dt := float64(i - t0)
	return amplitude * (1 - math.Exp(-dt/2)) * math.Exp(-dt/float64(d.length/4+1))
}

func (d *Digitiser) uint16Pulse(amplitude float64) []uint16 {
	out := make([]uint16, d.length)
	for i := range out {
		v := baseline - d.pulse(i, amplitude) + d.rng.NormFloat64()*4
		out[i] = uint16(math.Max(0, math.Min(math.MaxUint16, v)))
	}
	return out
}

func (d *Digitiser) float32Pulse(amplitude float64) []float32 {
	out := make([]float32, d.length)
	for i := range out {
		out[i] = float32(-d.pulse(i, amplitude) + d.rng.NormFloat64()*4)
	}
	return out
}

// Disconnect drops the connection and any undelivered waveforms.
func (d *Digitiser) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	d.pending = nil
	return nil
}

// Triggers returns the number of triggers generated since the last connect.
func (d *Digitiser) Triggers() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
