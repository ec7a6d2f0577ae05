// Package device defines the digitiser the acquisition worker drives.
//
// The pipeline treats the instrument as opaque: it connects with the two
// configuration dictionaries, polls for one event at a time with a bounded
// timeout and disconnects. Retry policy around device errors belongs to the
// caller.
package device

import (
	"context"
	"time"

	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
)

// Device is a connected or connectable digitiser.
//
// Implementations are used from a single goroutine.
type Device interface {
	// Connect opens the instrument and applies its configuration.
	Connect(dig, rec loader.Dict) error

	// Poll waits at most timeout for one event. A nil event with a nil
	// error is the normal no-data outcome.
	Poll(ctx context.Context, timeout time.Duration) (*event.Event, error)

	// Disconnect releases the instrument. It is safe to call when not
	// connected.
	Disconnect() error
}
