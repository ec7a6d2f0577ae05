// Package recording persists the per-channel write queues.
//
// One Writer per mapped channel pops records in batches of at most
// flush_size and makes each batch durable with one append and one flush.
// The first record fixes the writer's layout; a later record that does not
// fit ends that writer, and only that writer. Records a failed writer had
// accepted are spilled to a journal next to its container.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/storage"
	"github.com/xtxerr/digirec/internal/storage/journal"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Status is the lifecycle state of a Writer.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
	StatusFailed
)

// String returns a human-readable representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Channel uint32
	Index   int

	// Path is the container location handed to Open.
	Path string
	Open storage.Opener

	// RecConfig and DigConfig are written as the two config tables.
	RecConfig []loader.KV
	DigConfig []loader.KV

	Generation schema.Generation
	FlushSize  int

	// IdleWait bounds the sleep on an empty queue.
	IdleWait time.Duration

	// Retries is the number of repeats of a failed append or flush.
	Retries int

	// SpillDir receives the journal of a failed writer.
	// Default: Path + ".spill".
	SpillDir string
}

// WriterStats holds writer statistics.
type WriterStats struct {
	Written       int64
	Flushes       int64
	LastFlushSize int64
	Retries       int64
	Spilled       int64
	Lost          int64
}

// Writer drains one write queue into one container.
type Writer struct {
	opts  WriterOptions
	queue *queue.Queue[event.Record]

	// Owned by the Run goroutine
	store  storage.Store
	layout schema.Layout
	batch  []event.Record
	spill  *journal.Writer

	status atomic.Int32
	errMu  sync.Mutex
	err    error

	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error

	log *slog.Logger

	written       atomic.Int64
	flushes       atomic.Int64
	lastFlushSize atomic.Int64
	retries       atomic.Int64
	spilled       atomic.Int64
	lost          atomic.Int64
}

// NewWriter creates an idle writer for q.
func NewWriter(q *queue.Queue[event.Record], opts WriterOptions) *Writer {
	if opts.FlushSize < 1 {
		opts.FlushSize = config.DefaultFlushSize
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = config.DefaultWriterIdleWait
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.SpillDir == "" {
		opts.SpillDir = opts.Path + ".spill"
	}

	return &Writer{
		opts:  opts,
		queue: q,
		batch: make([]event.Record, 0, opts.FlushSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   logging.Channel("writer", opts.Channel),
	}
}

// Channel returns the physical channel this writer records.
func (w *Writer) Channel() uint32 { return w.opts.Channel }

// Path returns the container location.
func (w *Writer) Path() string { return w.opts.Path }

// Open creates the container and writes the config tables. A failure is
// ErrStorageOpen and leaves nothing to close.
func (w *Writer) Open() error {
	st, err := w.opts.Open(w.opts.Path)
	if err != nil {
		return errors.Classify(errors.ErrStorageOpen, err)
	}

	for _, t := range []struct {
		name string
		rows []loader.KV
	}{
		{storage.RecConfigTable, w.opts.RecConfig},
		{storage.DigConfigTable, w.opts.DigConfig},
	} {
		if err := st.WriteConfigTable(t.name, t.rows); err != nil {
			st.Close()
			return errors.Classify(errors.ErrStorageOpen, fmt.Errorf("%s: %w", t.name, err))
		}
	}

	w.store = st
	w.log.Info("container opened", "path", w.opts.Path, "flush_size", w.opts.FlushSize)
	return nil
}

// Status returns the lifecycle state. Safe for concurrent use.
func (w *Writer) Status() Status {
	return Status(w.status.Load())
}

// Err returns the error that failed the writer, if any.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written:       w.written.Load(),
		Flushes:       w.flushes.Load(),
		LastFlushSize: w.lastFlushSize.Load(),
		Retries:       w.retries.Load(),
		Spilled:       w.spilled.Load(),
		Lost:          w.lost.Load(),
	}
}

// Stop asks Run to drain and return. It does not wait.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run has returned and the container is released.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Run is the writer loop. It returns after Stop or when ctx ends, once
// every queued record has been written or spilled.
func (w *Writer) Run(ctx context.Context) {
	defer w.doneOnce.Do(func() { close(w.done) })
	defer w.Close()

	ctx = logging.ContextWithChannel(ctx, w.opts.Channel)
	w.log = logging.WithContext(ctx).With("component", "writer")

	if w.store == nil {
		w.fail(errors.Classify(errors.ErrStorageOpen, fmt.Errorf("run before open")))
		w.spillUntilStop(ctx)
		return
	}

	w.status.Store(int32(StatusRunning))

	for {
		select {
		case <-w.stop:
			w.drain(ctx)
			return
		case <-ctx.Done():
			w.drain(ctx)
			return
		default:
		}

		recs := w.queue.PopN(w.opts.FlushSize - len(w.batch))
		if len(recs) == 0 && len(w.batch) == 0 {
			w.idle(ctx)
			continue
		}
		w.batch = append(w.batch, recs...)

		if len(w.batch) >= w.opts.FlushSize || w.queue.IsEmpty() {
			if err := w.writeBatch(); err != nil {
				w.fail(err)
				w.spillUntilStop(ctx)
				return
			}
		}
	}
}

// idle waits for a push, the idle timeout or a stop signal.
func (w *Writer) idle(ctx context.Context) {
	t := time.NewTimer(w.opts.IdleWait)
	defer t.Stop()

	select {
	case <-w.queue.Ready():
	case <-t.C:
	case <-w.stop:
	case <-ctx.Done():
	}
}

// drain writes the batch and everything still queued in flush-size chunks.
func (w *Writer) drain(ctx context.Context) {
	for {
		if len(w.batch) == 0 {
			recs := w.queue.PopN(w.opts.FlushSize)
			if len(recs) == 0 {
				break
			}
			w.batch = append(w.batch, recs...)
		}
		if err := w.writeBatch(); err != nil {
			w.fail(err)
			w.spillRemaining()
			return
		}
	}

	w.status.Store(int32(StatusStopped))
	w.log.Info("writer stopped", "stats", w.Stats())
}

// writeBatch makes the current batch durable and clears it.
// On a layout violation the valid prefix is still written.
func (w *Writer) writeBatch() error {
	if w.layout.IsZero() {
		l, err := schema.Derive(w.opts.Generation, &w.batch[0])
		if err != nil {
			return err
		}
		w.layout = l
		w.log.Info("layout fixed", "layout", l)
	}

	valid := len(w.batch)
	var mismatch error
	for i := range w.batch {
		if err := w.layout.Check(&w.batch[i]); err != nil {
			valid, mismatch = i, err
			break
		}
	}

	if valid > 0 {
		if err := w.persist(w.batch[:valid]); err != nil {
			if n := errors.PartialWritten(err); n > 0 {
				// Stored rows must not reach the journal as well
				w.written.Add(int64(n))
				w.batch = append(w.batch[:0], w.batch[n:]...)
			}
			return err
		}
		w.batch = append(w.batch[:0], w.batch[valid:]...)
	}
	if mismatch != nil {
		return mismatch
	}
	return nil
}

// persist is one append plus one flush, each repeated up to Retries times.
func (w *Writer) persist(recs []event.Record) error {
	if err := w.retry("append", func() error {
		return w.store.AppendRecords(storage.DataTable, w.layout, recs)
	}); err != nil {
		return err
	}
	if err := w.retry("flush", w.store.Flush); err != nil {
		return err
	}

	w.written.Add(int64(len(recs)))
	w.flushes.Add(1)
	w.lastFlushSize.Store(int64(len(recs)))
	return nil
}

func (w *Writer) retry(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		if attempt > 0 {
			w.retries.Add(1)
		}
		if err = fn(); err == nil {
			return nil
		}
		w.log.Warn("write failed", "op", op, "attempt", attempt+1, "error", err)
		if !errors.IsRetriable(err) {
			break
		}
	}

	err = fmt.Errorf("%s: %w", op, err)
	if !errors.IsFatalToWriter(err) {
		err = errors.Classify(errors.ErrStorageWrite, err)
	}
	return err
}

func (w *Writer) fail(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
	w.status.Store(int32(StatusFailed))
	w.log.Error("writer failed", "path", w.opts.Path, "error", err)
}

// spillUntilStop keeps moving arriving records to the journal until the
// writer is stopped, so nothing accepted after the failure is dropped either.
func (w *Writer) spillUntilStop(ctx context.Context) {
	for {
		w.spillRemaining()
		select {
		case <-w.stop:
			w.spillRemaining()
			return
		case <-ctx.Done():
			w.spillRemaining()
			return
		case <-w.queue.Ready():
		}
	}
}

// spillRemaining moves the batch and the queue to the journal.
func (w *Writer) spillRemaining() {
	for {
		recs := w.batch
		if len(recs) == 0 {
			recs = w.queue.PopN(w.opts.FlushSize)
		}
		if len(recs) == 0 {
			return
		}
		w.batch = w.batch[:0]

		if err := w.spillRecords(recs); err != nil {
			w.lost.Add(int64(len(recs)))
			w.log.Error("records lost", "count", len(recs), "error", err)
		}
	}
}

func (w *Writer) spillRecords(recs []event.Record) error {
	if w.spill == nil {
		j, err := journal.NewWriter(w.opts.SpillDir, journal.DefaultOptions())
		if err != nil {
			return err
		}
		w.spill = j
		w.log.Warn("spilling records to journal", "dir", w.opts.SpillDir)
	}
	if err := w.spill.Append(recs); err != nil {
		return err
	}
	w.spilled.Add(int64(len(recs)))
	return nil
}

// Close releases the container and the journal exactly once. It is called
// by Run on exit; call it directly only for a writer that never ran.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		if w.store != nil {
			if err := w.store.Close(); err != nil {
				w.closeErr = err
				w.log.Error("close failed", "path", w.opts.Path, "error", err)
			}
		}
		if w.spill != nil {
			if err := w.spill.Close(); err != nil && w.closeErr == nil {
				w.closeErr = err
			}
		}
	})
	return w.closeErr
}
