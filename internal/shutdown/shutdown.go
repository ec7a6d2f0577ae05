// Package shutdown stops the pipeline in order and reports who did not.
//
// The order is fixed: EXIT is offered to the command queue, the worker is
// stopped and joined, the dispatcher makes its final drain, then every
// writer is stopped and the writers are joined concurrently, each against
// its own timeout. A participant that
// misses its timeout is named in the Report; nothing is killed.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/logging"
)

// Participant is one goroutine the coordinator joins.
type Participant struct {
	Name string

	// Stop signals the participant. It must not block.
	Stop func()

	// Done is closed once the participant has finished.
	Done <-chan struct{}

	// Timeout bounds the join. Zero uses the coordinator default.
	Timeout time.Duration
}

// Plan lists what to stop.
type Plan struct {
	// Exit offers EXIT to the command queue without blocking. May be nil.
	Exit func() error

	// Worker is the acquisition worker. A nil Done skips it.
	Worker Participant

	// Dispatcher is joined after the worker so its final drain still
	// reaches the write queues. A nil Done skips it.
	Dispatcher Participant

	// Writers are stopped after the worker has been joined.
	Writers []Participant
}

// Report is the outcome of a shutdown.
type Report struct {
	Clean      bool
	Stragglers []string
	Elapsed    time.Duration
}

// Err returns nil for a clean shutdown, otherwise ErrShutdownTimeout
// naming the stragglers.
func (r Report) Err() error {
	if r.Clean {
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrShutdownTimeout, strings.Join(r.Stragglers, ", "))
}

// AddStraggler marks the shutdown unclean because name did not finish.
func (r *Report) AddStraggler(name string) {
	r.Clean = false
	r.Stragglers = append(r.Stragglers, name)
}

// Options configures a Coordinator.
type Options struct {
	WorkerTimeout time.Duration
	WriterTimeout time.Duration
}

// Coordinator runs shutdown plans.
type Coordinator struct {
	opts Options
	log  *slog.Logger
}

// New creates a coordinator. Zero timeouts take the process defaults.
func New(opts Options) *Coordinator {
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = config.DefaultWorkerJoinTimeout
	}
	if opts.WriterTimeout <= 0 {
		opts.WriterTimeout = config.DefaultWriterJoinTimeout
	}
	return &Coordinator{opts: opts, log: logging.Component("shutdown")}
}

// Shutdown executes plan. ctx cuts every join short; participants still
// running then are reported as stragglers.
func (c *Coordinator) Shutdown(ctx context.Context, plan Plan) Report {
	start := time.Now()
	c.log.Info("shutdown started", "writers", len(plan.Writers))

	var (
		mu         sync.Mutex
		stragglers []string
	)
	straggle := func(name string) {
		mu.Lock()
		stragglers = append(stragglers, name)
		mu.Unlock()
		c.log.Error("did not stop cleanly", "participant", name)
	}

	if plan.Exit != nil {
		if err := plan.Exit(); err != nil {
			c.log.Warn("could not enqueue EXIT", "error", err)
		}
	}

	if plan.Worker.Done != nil {
		if !c.join(ctx, plan.Worker, c.opts.WorkerTimeout) {
			straggle(plan.Worker.Name)
		}
	}

	if plan.Dispatcher.Done != nil {
		if !c.join(ctx, plan.Dispatcher, c.opts.WorkerTimeout) {
			straggle(plan.Dispatcher.Name)
		}
	}

	for _, p := range plan.Writers {
		if p.Stop != nil {
			p.Stop()
		}
	}

	var g errgroup.Group
	for _, p := range plan.Writers {
		g.Go(func() error {
			if !c.join(ctx, Participant{Name: p.Name, Done: p.Done, Timeout: p.Timeout}, c.opts.WriterTimeout) {
				straggle(p.Name)
			}
			return nil
		})
	}
	g.Wait()

	r := Report{
		Clean:      len(stragglers) == 0,
		Stragglers: stragglers,
		Elapsed:    time.Since(start),
	}
	if r.Clean {
		c.log.Info("shutdown complete", "elapsed", r.Elapsed)
	} else {
		c.log.Error("shutdown incomplete", "elapsed", r.Elapsed, "stragglers", r.Stragglers)
	}
	return r
}

// join stops p and waits for it. It reports whether p finished in time.
func (c *Coordinator) join(ctx context.Context, p Participant, fallback time.Duration) bool {
	if p.Stop != nil {
		p.Stop()
	}
	if p.Done == nil {
		return true
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-p.Done:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		select {
		case <-p.Done:
			return true
		default:
			return false
		}
	}
}
