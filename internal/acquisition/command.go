// Package acquisition runs the single goroutine that owns the instrument.
//
// The worker consumes operator commands from the command queue, polls the
// device while armed and publishes every event to the display queue. It
// never blocks on the display queue: a full queue drops the event.
package acquisition

import (
	"fmt"

	"github.com/xtxerr/digirec/internal/loader"
)

// Kind identifies an operator command.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindStart
	KindStop
	KindExit
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "CONNECT"
	case KindStart:
		return "START"
	case KindStop:
		return "STOP"
	case KindExit:
		return "EXIT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ConfigPair is the device and recording configuration a CONNECT applies.
type ConfigPair struct {
	Dig loader.Dict
	Rec loader.Dict
}

// Command is one operator request. It is consumed exactly once.
type Command struct {
	Kind Kind

	// Config is only read by CONNECT. Nil reuses the last applied pair.
	Config *ConfigPair
}

// Connect returns a CONNECT command for cfg.
func Connect(cfg *ConfigPair) Command { return Command{Kind: KindConnect, Config: cfg} }

// Start returns a START command.
func Start() Command { return Command{Kind: KindStart} }

// Stop returns a STOP command.
func Stop() Command { return Command{Kind: KindStop} }

// Exit returns an EXIT command.
func Exit() Command { return Command{Kind: KindExit} }
