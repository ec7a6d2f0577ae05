package loader

import (
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/storage/schema"
	"github.com/xtxerr/digirec/internal/validation"
)

// =============================================================================
// Recording configuration
// =============================================================================

// RecordingConfig is the typed view of the recording dictionary.
type RecordingConfig struct {
	// SoftwareTimeout bounds one device poll (software_timeout, ms).
	SoftwareTimeout time.Duration

	// FlushSize is the number of records per durable write (h5_flush_size).
	FlushSize int

	// FileName prefixes output files (file_name). Empty means the channel is used.
	FileName string
}

// ParseRecording validates the recording dictionary. Absent timeout and
// flush size fall back to the process defaults; present but invalid values
// are errors. All problems are reported together.
func ParseRecording(d Dict) (RecordingConfig, error) {
	cfg := RecordingConfig{
		SoftwareTimeout: config.DefaultSoftwareTimeout,
		FlushSize:       config.DefaultFlushSize,
	}
	v := errors.NewValidationErrors()

	timeout, err := d.Milliseconds("software_timeout")
	switch {
	case !d.Has("software_timeout"):
	case err != nil:
		v.Add(err)
	case timeout <= 0:
		v.AddInvalid("software_timeout", timeout, "must be positive")
	default:
		cfg.SoftwareTimeout = timeout
	}

	flush, err := d.Int("h5_flush_size")
	switch {
	case !d.Has("h5_flush_size"):
	case err != nil:
		v.Add(err)
	case flush < 1:
		v.AddInvalid("h5_flush_size", flush, "must be at least 1")
	default:
		cfg.FlushSize = flush
	}

	if d.Has("file_name") {
		name, err := d.String("file_name")
		switch {
		case err != nil:
			v.Add(err)
		case name != "":
			v.Add(validation.ValidateFilePrefix(name))
		}
		cfg.FileName = name
	}

	if err := v.Err(); err != nil {
		return RecordingConfig{}, errors.Wrap(err, "recording config")
	}
	return cfg, nil
}

// =============================================================================
// Digitiser configuration
// =============================================================================

// DigitiserConfig is the typed view of the device dictionary as far as the
// pipeline needs it. Everything else is passed to the device untouched.
type DigitiserConfig struct {
	// Generation selects the record layout (dig_gen).
	Generation schema.Generation
}

// ParseDigitiser validates the device dictionary.
func ParseDigitiser(d Dict) (DigitiserConfig, error) {
	gen, err := d.Int("dig_gen")
	if err != nil {
		return DigitiserConfig{}, errors.Wrap(err, "digitiser config")
	}

	g, err := schema.ParseGeneration(gen)
	if err != nil {
		return DigitiserConfig{}, errors.Wrap(err, "digitiser config")
	}

	return DigitiserConfig{Generation: g}, nil
}
