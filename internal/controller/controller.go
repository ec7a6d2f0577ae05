// Package controller assembles the pipeline and exposes the operator
// controls.
//
// Every control returns immediately. Device I/O happens on the acquisition
// worker, storage I/O on the writers; the recording writer set is opened on
// a background goroutine the first time recording is started.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xtxerr/digirec/internal/acquisition"
	"github.com/xtxerr/digirec/internal/channel"
	"github.com/xtxerr/digirec/internal/device"
	"github.com/xtxerr/digirec/internal/dispatch"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/recording"
	"github.com/xtxerr/digirec/internal/shutdown"
	"github.com/xtxerr/digirec/internal/storage"
	"github.com/xtxerr/digirec/internal/storage/backpressure"
	"github.com/xtxerr/digirec/internal/tracker"
)

// Options are the collaborators of a Controller.
type Options struct {
	Settings Settings
	Device   device.Device

	// Sink receives the live view. Nil discards it.
	Sink dispatch.Sink

	// Open overrides the storage backend chosen by Settings.
	Open storage.Opener

	// Now is the session clock. Nil uses time.Now.
	Now func() time.Time
}

type recPhase int

const (
	recNone recPhase = iota
	recOpening
	recOpen
	recFailed
)

// Controller owns the pipeline of one daemon run.
type Controller struct {
	settings Settings
	pair     *acquisition.ConfigPair
	recCfg   loader.RecordingConfig
	digCfg   loader.DigitiserConfig
	mapping  channel.Mapping
	open     storage.Opener
	now      func() time.Time

	commands *queue.Queue[acquisition.Command]
	display  *queue.Queue[*event.Event]
	writes   []*queue.Queue[event.Record]

	worker     *acquisition.Worker
	dispatcher *dispatch.Dispatcher
	tracker    *tracker.Tracker

	workerCancel   context.CancelFunc
	dispatchCancel context.CancelFunc
	dispatchDone   chan struct{}
	writerCtx      context.Context
	writerCancel   context.CancelFunc

	mu            sync.Mutex
	closed        bool
	phase         recPhase
	wantRecording bool
	set           *recording.Set
	recErr        error
	opened        chan struct{}

	shutdownOnce sync.Once
	report       shutdown.Report

	log *slog.Logger
}

// New validates both configurations, builds the pipeline, starts the
// worker and dispatcher goroutines and enqueues the initial CONNECT.
// Any configuration problem is returned as a config error before anything
// is started.
func New(dig, rec loader.Dict, opts Options) (*Controller, error) {
	if opts.Device == nil {
		return nil, errors.NewMissingField("device")
	}

	v := errors.NewValidationErrors()
	recCfg, err := loader.ParseRecording(rec)
	v.Add(err)
	digCfg, err := loader.ParseDigitiser(dig)
	v.Add(err)
	mapping, err := channel.FromConfig(rec)
	v.Add(err)
	v.Add(opts.Settings.Validate())
	if err := v.Err(); err != nil {
		return nil, errors.Wrap(err, "controller")
	}
	if mapping.Len() == 0 {
		return nil, errors.Wrap(errors.NewInvalidValue("channels", 0, "no channel is enabled"), "controller")
	}

	open := opts.Open
	if open == nil {
		if open, err = storage.NewOpener(storage.Options{
			Backend:     opts.Settings.Backend,
			Compression: opts.Settings.Compression,
		}); err != nil {
			return nil, errors.Wrap(err, "controller")
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := opts.Settings
	c := &Controller{
		settings: s,
		pair:     &acquisition.ConfigPair{Dig: dig, Rec: rec},
		recCfg:   recCfg,
		digCfg:   digCfg,
		mapping:  mapping,
		open:     open,
		now:      opts.Now,
		commands: queue.New[acquisition.Command]("commands", s.CommandQueue),
		display:  queue.New[*event.Event]("display", s.DisplayQueue),
		tracker:  tracker.New(),
		opened:   make(chan struct{}),
		log:      logging.Component("controller"),
	}
	for _, ch := range mapping.Channels() {
		c.writes = append(c.writes, queue.New[event.Record](fmt.Sprintf("write ch%d", ch), s.WriteQueue))
	}

	// Coalescing data-ready signal from the worker to the dispatcher
	ready := make(chan struct{}, 1)
	notify := func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	c.dispatcher, err = dispatch.New(c.display, mapping, c.writes, opts.Sink, c.tracker, dispatch.Options{
		Mode:            s.CounterMode(),
		Interval:        s.DispatchInterval,
		DropLogInterval: s.DropLogInterval,
		Backpressure:    backpressure.DefaultConfig(),
	})
	if err != nil {
		return nil, err
	}

	c.worker = acquisition.NewWorker(opts.Device, c.commands, c.display, notify, acquisition.Options{
		SoftwareTimeout: recCfg.SoftwareTimeout,
		DropLogInterval: s.DropLogInterval,
	})

	var workerCtx, dispatchCtx context.Context
	workerCtx, c.workerCancel = context.WithCancel(context.Background())
	dispatchCtx, c.dispatchCancel = context.WithCancel(context.Background())
	c.writerCtx, c.writerCancel = context.WithCancel(context.Background())
	c.dispatchDone = make(chan struct{})

	go c.worker.Run(workerCtx)
	go func() {
		defer close(c.dispatchDone)
		c.dispatcher.Run(dispatchCtx, ready)
	}()

	c.log.Info("pipeline started",
		"channels", mapping.String(),
		"generation", digCfg.Generation,
		"flush_size", recCfg.FlushSize,
		"sw_timeout", recCfg.SoftwareTimeout,
		"backend", s.Backend)

	if err := c.Connect(); err != nil {
		c.log.Error("initial connect not enqueued", "error", err)
	}
	return c, nil
}

// =============================================================================
// Acquisition controls
// =============================================================================

// Connect enqueues CONNECT with the controller's configuration.
func (c *Controller) Connect() error {
	return c.push(acquisition.Connect(c.pair))
}

// StartAcquisition enqueues START.
func (c *Controller) StartAcquisition() error {
	return c.push(acquisition.Start())
}

// StopAcquisition enqueues STOP.
func (c *Controller) StopAcquisition() error {
	return c.push(acquisition.Stop())
}

func (c *Controller) push(cmd acquisition.Command) error {
	if err := c.commands.TryPush(cmd); err != nil {
		c.log.Warn("command not enqueued", "command", cmd.Kind, "error", err)
		return errors.Wrapf(err, "%s", cmd.Kind)
	}
	return nil
}

// =============================================================================
// Recording controls
// =============================================================================

// StartRecording turns recording on. The first call opens the writer set in
// the background; recording begins once every container is open. If that
// open failed, the next call tries again with a new session.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrWorkerExited
	}
	c.wantRecording = true
	switch c.phase {
	case recNone, recFailed:
		c.phase = recOpening
		c.recErr = nil
		c.opened = make(chan struct{})
		go c.openRecording(c.opened)
	case recOpen:
		c.dispatcher.SetRecording(true)
	}
	return nil
}

// StopRecording turns recording off. Records already queued are still
// written; the containers stay open for the next StartRecording.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wantRecording = false
	c.dispatcher.SetRecording(false)
}

// WaitRecording waits for the pending writer-set open, if any, and returns
// its error.
func (c *Controller) WaitRecording(ctx context.Context) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()

	select {
	case <-opened:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recErr
}

func (c *Controller) openRecording(opened chan struct{}) {
	defer close(opened)

	session := recording.NewSession(c.now())
	set, err := recording.NewSet(c.mapping, c.writes, recording.SetOptions{
		Dir:         c.settings.DataDir,
		FileName:    c.recCfg.FileName,
		Backend:     c.settings.Backend,
		Open:        c.open,
		Session:     session,
		Rec:         c.pair.Rec,
		Dig:         c.pair.Dig,
		Generation:  c.digCfg.Generation,
		FlushSize:   c.recCfg.FlushSize,
		IdleWait:    c.settings.WriterIdleWait,
		Retries:     c.settings.WriteRetries,
		JoinTimeout: c.settings.WriterTimeout,
	})
	ctx := logging.ContextWithSessionID(c.writerCtx, session.ID)
	log := logging.WithContext(ctx).With("component", "controller")
	if err == nil {
		err = set.Open(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.phase = recFailed
		c.recErr = err
		log.Error("recording not started", "error", err)
		return
	}

	if c.closed {
		// Shutdown already ran without these writers
		for _, w := range set.Writers() {
			w.Close()
		}
		c.phase = recFailed
		c.recErr = errors.ErrWorkerExited
		log.Warn("recording opened after shutdown, containers closed")
		return
	}

	set.Start(ctx)
	c.set = set
	c.phase = recOpen
	c.dispatcher.SetRecording(c.wantRecording)
	log.Info("recording started", "stamp", session.Stamp())
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops the pipeline in order and reports stragglers. Later calls
// return the first report.
func (c *Controller) Shutdown(ctx context.Context) shutdown.Report {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		// A pending open must finish so its writers are part of the plan
		c.mu.Lock()
		opened := c.opened
		phase := c.phase
		c.mu.Unlock()
		pending := false
		if phase == recOpening {
			t := time.NewTimer(c.settings.WriterTimeout)
			select {
			case <-opened:
			case <-t.C:
				pending = true
			case <-ctx.Done():
				pending = true
			}
			t.Stop()
		}

		c.mu.Lock()
		set := c.set
		c.mu.Unlock()

		plan := shutdown.Plan{
			Exit: func() error { return c.commands.TryPush(acquisition.Exit()) },
			Worker: shutdown.Participant{
				Name: "acquisition worker",
				Stop: c.workerCancel,
				Done: c.worker.Done(),
			},
			Dispatcher: shutdown.Participant{
				Name: "dispatcher",
				Stop: c.dispatchCancel,
				Done: c.dispatchDone,
			},
		}
		if set != nil {
			// Records routed by the final drain are still written
			plan.Writers = set.Participants()
		}

		c.report = shutdown.New(shutdown.Options{
			WorkerTimeout: c.settings.WorkerTimeout,
			WriterTimeout: c.settings.WriterTimeout,
		}).Shutdown(ctx, plan)

		if pending {
			select {
			case <-opened:
			default:
				c.log.Error("did not stop cleanly", "participant", "recording open")
				c.report.AddStraggler("recording open")
			}
		}

		c.commands.Close()
		c.writerCancel()
	})
	return c.report
}
