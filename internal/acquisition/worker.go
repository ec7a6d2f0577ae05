package acquisition

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/device"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/queue"
)

// Options configures a Worker.
type Options struct {
	// SoftwareTimeout bounds a single device poll.
	SoftwareTimeout time.Duration

	// DropLogInterval spaces display-queue drop and device error warnings.
	DropLogInterval time.Duration
}

// Stats holds worker statistics.
type Stats struct {
	Polls            int64
	Events           int64
	DisplayDrops     int64
	DeviceErrors     int64
	RejectedCommands int64
}

// Worker is the acquisition goroutine. It owns the device handle: nothing
// else may call into the device while Run is active.
type Worker struct {
	dev      device.Device
	commands *queue.Queue[Command]
	display  *queue.Queue[*event.Event]
	onData   func()
	opts     Options

	state  atomic.Int32
	config *ConfigPair // last applied, worker goroutine only

	log      *slog.Logger
	dropLog  *logging.Throttle
	errorLog *logging.Throttle

	polls        atomic.Int64
	events       atomic.Int64
	displayDrops atomic.Int64
	deviceErrors atomic.Int64
	rejected     atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewWorker creates a worker in StateDisconnected. onData may be nil.
func NewWorker(dev device.Device, commands *queue.Queue[Command], display *queue.Queue[*event.Event], onData func(), opts Options) *Worker {
	if opts.SoftwareTimeout <= 0 {
		opts.SoftwareTimeout = config.DefaultSoftwareTimeout
	}
	if opts.DropLogInterval <= 0 {
		opts.DropLogInterval = config.DefaultDropLogInterval
	}

	log := logging.Component("worker")
	return &Worker{
		dev:      dev,
		commands: commands,
		display:  display,
		onData:   onData,
		opts:     opts,
		log:      log,
		dropLog:  logging.NewThrottle(log, opts.DropLogInterval),
		errorLog: logging.NewThrottle(log, opts.DropLogInterval),
		done:     make(chan struct{}),
	}
}

// State returns the current state. Safe for concurrent use.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stats returns worker statistics.
func (w *Worker) Stats() Stats {
	return Stats{
		Polls:            w.polls.Load(),
		Events:           w.events.Load(),
		DisplayDrops:     w.displayDrops.Load(),
		DeviceErrors:     w.deviceErrors.Load(),
		RejectedCommands: w.rejected.Load(),
	}
}

// Run is the worker loop. It returns after EXIT, when ctx ends or when the
// command queue is closed, disconnecting the device on the way out.
// The context is checked at least once per poll.
func (w *Worker) Run(ctx context.Context) {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer w.exit()

	w.log.Info("worker started", "sw_timeout", w.opts.SoftwareTimeout)

	for {
		if ctx.Err() != nil {
			return
		}

		if w.State() != StateArmed {
			// Idle: the only suspension point besides the device poll
			cmd, err := w.commands.Pop(ctx)
			if err != nil {
				return
			}
			if w.handle(cmd) {
				return
			}
			continue
		}

		for {
			cmd, ok := w.commands.TryPop()
			if !ok {
				break
			}
			if w.handle(cmd) {
				return
			}
		}
		if w.State() != StateArmed {
			continue
		}

		w.poll(ctx)
	}
}

// handle applies one command and reports whether the worker must exit.
func (w *Worker) handle(cmd Command) bool {
	cur := w.State()
	next, err := Transition(cur, cmd.Kind)
	if err != nil {
		w.rejected.Add(1)
		w.log.Warn("command rejected", "command", cmd.Kind, "state", cur, "error", err)
		return false
	}

	switch cmd.Kind {
	case KindConnect:
		w.connect(cur, cmd.Config)
		return false
	case KindExit:
		return true
	default:
		w.setState(next)
		w.log.Info("state changed", "command", cmd.Kind, "from", cur, "to", next)
		return false
	}
}

func (w *Worker) connect(cur State, cfg *ConfigPair) {
	if cfg == nil {
		cfg = w.config
	}
	if cfg == nil {
		w.rejected.Add(1)
		w.log.Error("connect without configuration", "error", errors.ErrMissingField)
		return
	}

	if cur != StateDisconnected {
		if err := w.dev.Disconnect(); err != nil {
			w.log.Warn("disconnect before reconnect failed", "error", err)
		}
		w.setState(StateDisconnected)
	}

	if err := w.dev.Connect(cfg.Dig, cfg.Rec); err != nil {
		w.deviceErrors.Add(1)
		w.log.Error("connect failed", "error", errors.Classify(errors.ErrConnection, err))
		return
	}

	w.config = cfg
	w.setState(StateConnected)
	w.log.Info("state changed", "command", KindConnect, "from", cur, "to", StateConnected)
}

// poll performs one bounded device poll.
func (w *Worker) poll(ctx context.Context) {
	w.polls.Add(1)

	ev, err := w.dev.Poll(ctx, w.opts.SoftwareTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.deviceErrors.Add(1)
		w.errorLog.Error("poll failed", "error", errors.Classify(errors.ErrConnection, err))
		w.backoff(ctx)
		return
	}
	if ev == nil {
		return
	}

	w.events.Add(1)
	if w.onData != nil {
		w.onData()
	}

	if err := w.display.TryPush(ev); err != nil {
		w.displayDrops.Add(1)
		w.dropLog.Warn("display queue full, event dropped",
			"channel", ev.Channel,
			"dropped_total", w.displayDrops.Load(),
			"error", err)
	}
}

// backoff waits one software timeout after a device error so a failing
// device is not polled in a tight loop.
func (w *Worker) backoff(ctx context.Context) {
	t := time.NewTimer(w.opts.SoftwareTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) exit() {
	if s := w.State(); s == StateConnected || s == StateArmed {
		if err := w.dev.Disconnect(); err != nil {
			w.log.Warn("disconnect on exit failed", "error", err)
		}
	}
	w.setState(StateExited)
	w.log.Info("worker exited", "stats", w.Stats())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}
