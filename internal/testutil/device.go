package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
)

// FakeDevice is a scripted device. Events handed to Emit are returned by
// Poll in order.
type FakeDevice struct {
	mu          sync.Mutex
	connectErr  error
	pollErr     error
	hang        chan struct{}
	connected   bool
	connects    int
	disconnects int
	polls       int

	events chan *event.Event
}

// NewFakeDevice returns a disconnected fake that can hold capacity
// undelivered events.
func NewFakeDevice(capacity int) *FakeDevice {
	return &FakeDevice{events: make(chan *event.Event, capacity)}
}

// Emit queues events for Poll.
func (d *FakeDevice) Emit(evs ...*event.Event) {
	for _, ev := range evs {
		d.events <- ev
	}
}

// SetConnectError makes the following Connect calls fail with err.
func (d *FakeDevice) SetConnectError(err error) {
	d.mu.Lock()
	d.connectErr = err
	d.mu.Unlock()
}

// SetPollError makes the following Poll calls fail with err.
func (d *FakeDevice) SetPollError(err error) {
	d.mu.Lock()
	d.pollErr = err
	d.mu.Unlock()
}

// Hang makes Poll block, ignoring its context and timeout, until the
// returned function is called.
func (d *FakeDevice) Hang() (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.hang = ch
	d.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Connect implements device.Device.
func (d *FakeDevice) Connect(dig, rec loader.Dict) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connects++
	if d.connectErr != nil {
		d.connected = false
		return d.connectErr
	}
	d.connected = true
	return nil
}

// Poll implements device.Device.
func (d *FakeDevice) Poll(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	d.mu.Lock()
	d.polls++
	hang, pollErr := d.hang, d.pollErr
	d.mu.Unlock()

	if hang != nil {
		<-hang
	}
	if pollErr != nil {
		return nil, pollErr
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case ev := <-d.events:
		return ev, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect implements device.Device.
func (d *FakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		d.disconnects++
	}
	d.connected = false
	return nil
}

// Connected reports whether the fake is connected.
func (d *FakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connects returns the number of Connect calls.
func (d *FakeDevice) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Disconnects returns the number of disconnects of a live connection.
func (d *FakeDevice) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// Polls returns the number of Poll calls.
func (d *FakeDevice) Polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

// Waveform builds a uint16 event of the given length.
func Waveform(ch uint32, length int, ts uint64) *event.Event {
	samples := make([]uint16, length)
	for i := range samples {
		samples[i] = uint16(ts) + uint16(i)
	}
	return &event.Event{
		WaveformLength: uint32(length),
		Samples:        event.Uint16Samples(samples),
		Channel:        ch,
		Timestamp:      ts,
	}
}

// Record builds a uint16 record of the given length.
func Record(ch uint32, length int, evtNo uint64) event.Record {
	return event.NewRecord(Waveform(ch, length, evtNo), evtNo)
}
