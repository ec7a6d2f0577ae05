package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/digirec/internal/channel"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/logging"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/shutdown"
	"github.com/xtxerr/digirec/internal/storage"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// SetOptions configures every writer of a Set.
type SetOptions struct {
	Dir      string
	FileName string
	Backend  string
	Open     storage.Opener
	Session  Session

	Rec loader.Dict
	Dig loader.Dict

	Generation schema.Generation
	FlushSize  int
	IdleWait   time.Duration
	Retries    int

	// JoinTimeout bounds the wait for each writer at shutdown.
	JoinTimeout time.Duration
}

// Set is the group of writers of one recording session, one per mapped
// channel, in mapping order.
type Set struct {
	mapping channel.Mapping
	queues  []*queue.Queue[event.Record]
	writers []*Writer
	opts    SetOptions

	startOnce sync.Once
}

// NewSet builds one writer per mapped channel. queues[i] feeds the writer of
// mapping index i.
func NewSet(mapping channel.Mapping, queues []*queue.Queue[event.Record], opts SetOptions) (*Set, error) {
	if len(queues) != mapping.Len() {
		return nil, errors.NewInvalidValue("write queues", len(queues),
			fmt.Sprintf("need one per mapped channel (%d)", mapping.Len()))
	}
	if opts.Open == nil {
		return nil, errors.NewMissingField("storage opener")
	}

	rec := append(opts.Rec.Flatten(), loader.KV{Key: "session_id", Value: opts.Session.ID})
	dig := opts.Dig.Flatten()

	s := &Set{mapping: mapping, queues: queues, opts: opts}
	for i, ch := range mapping.Channels() {
		s.writers = append(s.writers, NewWriter(queues[i], WriterOptions{
			Channel:    ch,
			Index:      i,
			Path:       storage.FileName(opts.Dir, opts.FileName, ch, opts.Session.Stamp(), opts.Backend),
			Open:       opts.Open,
			RecConfig:  rec,
			DigConfig:  dig,
			Generation: opts.Generation,
			FlushSize:  opts.FlushSize,
			IdleWait:   opts.IdleWait,
			Retries:    opts.Retries,
		}))
	}
	return s, nil
}

// Open opens every container concurrently. If any open fails, the ones that
// succeeded are closed again and the first error is returned.
func (s *Set) Open(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, w := range s.writers {
		g.Go(w.Open)
	}

	if err := g.Wait(); err != nil {
		for _, w := range s.writers {
			w.Close()
		}
		return err
	}

	logging.Component("recording").Info("recording opened",
		"session", s.opts.Session.ID,
		"channels", s.mapping.String(),
		"backend", s.opts.Backend)
	return nil
}

// Start launches every writer. Later calls are no-ops.
func (s *Set) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for _, w := range s.writers {
			go w.Run(ctx)
		}
	})
}

// Stop signals every writer to drain and close. It does not wait.
func (s *Set) Stop() {
	for _, w := range s.writers {
		w.Stop()
	}
}

// Writers returns the writers in mapping order.
func (s *Set) Writers() []*Writer {
	return s.writers
}

// Queues returns the write queues in mapping order.
func (s *Set) Queues() []*queue.Queue[event.Record] {
	return s.queues
}

// Session returns the session the set records.
func (s *Set) Session() Session {
	return s.opts.Session
}

// Participants describes the writers to the shutdown coordinator.
func (s *Set) Participants() []shutdown.Participant {
	ps := make([]shutdown.Participant, len(s.writers))
	for i, w := range s.writers {
		ps[i] = shutdown.Participant{
			Name:    fmt.Sprintf("writer ch%d", w.Channel()),
			Stop:    w.Stop,
			Done:    w.Done(),
			Timeout: s.opts.JoinTimeout,
		}
	}
	return ps
}
