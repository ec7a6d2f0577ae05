// Package event defines the units that flow through the pipeline: the Event
// produced by the instrument and the Record handed to a writer.
package event

import "fmt"

// SampleKind identifies the numeric width of a waveform's samples.
type SampleKind int

const (
	// KindUint16 holds raw ADC counts.
	KindUint16 SampleKind = iota + 1
	// KindFloat32 holds calibrated values.
	KindFloat32
)

// String returns a human-readable representation of the SampleKind.
func (k SampleKind) String() string {
	switch k {
	case KindUint16:
		return "uint16"
	case KindFloat32:
		return "float32"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Samples is a waveform payload. Exactly one of U16 and F32 is set.
// A Samples value is never mutated after it is handed to the pipeline.
type Samples struct {
	U16 []uint16
	F32 []float32
}

// Uint16Samples wraps raw ADC counts.
func Uint16Samples(v []uint16) Samples { return Samples{U16: v} }

// Float32Samples wraps calibrated samples.
func Float32Samples(v []float32) Samples { return Samples{F32: v} }

// Kind returns the sample width, or 0 for an empty payload.
func (s Samples) Kind() SampleKind {
	switch {
	case s.U16 != nil:
		return KindUint16
	case s.F32 != nil:
		return KindFloat32
	default:
		return 0
	}
}

// Len returns the number of samples.
func (s Samples) Len() int {
	if s.U16 != nil {
		return len(s.U16)
	}
	return len(s.F32)
}

// NBytes returns the payload size in bytes.
func (s Samples) NBytes() int {
	if s.U16 != nil {
		return 2 * len(s.U16)
	}
	return 4 * len(s.F32)
}

// Float64 returns sample i widened to float64.
func (s Samples) Float64(i int) float64 {
	if s.U16 != nil {
		return float64(s.U16[i])
	}
	return float64(s.F32[i])
}

// Event is one waveform capture reported by the instrument.
type Event struct {
	WaveformLength uint32
	Samples        Samples
	Channel        uint32
	Timestamp      uint64
}

// String returns a short description for logs.
func (e *Event) String() string {
	return fmt.Sprintf("ch%d len=%d ts=%d", e.Channel, e.WaveformLength, e.Timestamp)
}

// Record is an Event accepted for storage, stamped with the global event
// number the dispatcher had assigned when it routed it.
type Record struct {
	WaveformLength uint32
	Samples        Samples
	EventNumber    uint64
	Channel        uint32
	Timestamp      uint64
}

// NewRecord builds the write-queue element for ev.
func NewRecord(ev *Event, eventNumber uint64) Record {
	return Record{
		WaveformLength: ev.WaveformLength,
		Samples:        ev.Samples,
		EventNumber:    eventNumber,
		Channel:        ev.Channel,
		Timestamp:      ev.Timestamp,
	}
}
