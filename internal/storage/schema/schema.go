// Package schema fixes the on-disk record layout of a channel recording.
//
// A writer derives its Layout once, from the device generation and the
// waveform length of the first record it sees, and keeps it for its lifetime.
package schema

import (
	"fmt"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
)

// Generation selects the record layout family. It comes from dig_gen.
type Generation int

const (
	// Generation1 stores raw ADC counts in a uint16 sample column.
	Generation1 Generation = 1
	// Generation2 stores calibrated samples in a float32 sample column.
	Generation2 Generation = 2
)

// ParseGeneration maps a dig_gen value to a Generation.
func ParseGeneration(v int) (Generation, error) {
	switch Generation(v) {
	case Generation1, Generation2:
		return Generation(v), nil
	default:
		return 0, errors.NewInvalidValue("dig_gen", v, "supported generations are 1 and 2")
	}
}

// String returns a human-readable representation of the Generation.
func (g Generation) String() string {
	switch g {
	case Generation1:
		return "gen1"
	case Generation2:
		return "gen2"
	default:
		return fmt.Sprintf("gen(%d)", int(g))
	}
}

// SampleKind returns the sample column type of the generation.
func (g Generation) SampleKind() event.SampleKind {
	if g == Generation2 {
		return event.KindFloat32
	}
	return event.KindUint16
}

// Layout is the fixed record layout of one writer.
//
//	evt_no    uint32
//	channel   uint32
//	timestamp uint64
//	rwf       [Length]uint16 (gen1) | [Length]float32 (gen2)
type Layout struct {
	Generation Generation
	Length     int
}

// IsZero reports whether the layout has not been fixed yet.
func (l Layout) IsZero() bool {
	return l.Length == 0
}

// String returns e.g. "gen1 64 x uint16".
func (l Layout) String() string {
	return fmt.Sprintf("%s %d x %s", l.Generation, l.Length, l.Generation.SampleKind())
}

// Derive fixes a layout from the first record observed by a writer.
func Derive(g Generation, first *event.Record) (Layout, error) {
	l := Layout{Generation: g, Length: int(first.WaveformLength)}
	if l.Length <= 0 {
		return Layout{}, errors.NewSchemaMismatch("non-empty waveform", "length 0")
	}
	if err := l.Check(first); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Check returns ErrSchemaMismatch if r does not fit the layout.
func (l Layout) Check(r *event.Record) error {
	if int(r.WaveformLength) != l.Length || r.Samples.Len() != l.Length {
		return errors.NewSchemaMismatch(
			l.String(),
			fmt.Sprintf("waveform_length=%d samples=%d (evt %d)", r.WaveformLength, r.Samples.Len(), r.EventNumber),
		)
	}
	if kind := r.Samples.Kind(); kind != l.Generation.SampleKind() {
		return errors.NewSchemaMismatch(l.String(), fmt.Sprintf("%s samples (evt %d)", kind, r.EventNumber))
	}
	return nil
}
