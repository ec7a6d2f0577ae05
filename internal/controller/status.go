package controller

import (
	"fmt"
	"strings"

	"github.com/xtxerr/digirec/internal/acquisition"
	"github.com/xtxerr/digirec/internal/dispatch"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/recording"
	"github.com/xtxerr/digirec/internal/tracker"
)

// WriterStatus describes one channel writer.
type WriterStatus struct {
	Channel uint32
	Path    string
	Status  recording.Status
	Err     error
	Stats   recording.WriterStats
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	State        acquisition.State
	Recording    bool
	Session      string
	RecordingErr error
	EventCounter uint64

	Worker     acquisition.Stats
	Dispatch   dispatch.Stats
	Throughput tracker.Snapshot

	Commands queue.Stats
	Display  queue.Stats
	Writes   []queue.Stats
	Writers  []WriterStatus
}

// Status collects the current pipeline state. Safe for concurrent use.
func (c *Controller) Status() Status {
	st := Status{
		State:        c.worker.State(),
		Recording:    c.dispatcher.Recording(),
		EventCounter: c.dispatcher.EventCounter(),
		Worker:       c.worker.Stats(),
		Dispatch:     c.dispatcher.Stats(),
		Throughput:   c.tracker.Snapshot(),
		Commands:     c.commands.Stats(),
		Display:      c.display.Stats(),
	}
	for _, q := range c.writes {
		st.Writes = append(st.Writes, q.Stats())
	}

	c.mu.Lock()
	set, recErr := c.set, c.recErr
	c.mu.Unlock()

	st.RecordingErr = recErr
	if set != nil {
		st.Session = set.Session().ID
		for _, w := range set.Writers() {
			st.Writers = append(st.Writers, WriterStatus{
				Channel: w.Channel(),
				Path:    w.Path(),
				Status:  w.Status(),
				Err:     w.Err(),
				Stats:   w.Stats(),
			})
		}
	}
	return st
}

// String renders the status for the console.
func (s Status) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "state:      %s\n", s.State)
	fmt.Fprintf(&b, "recording:  %v", s.Recording)
	if s.Session != "" {
		fmt.Fprintf(&b, " (session %s)", s.Session)
	}
	b.WriteByte('\n')
	if s.RecordingErr != nil {
		fmt.Fprintf(&b, "rec error:  %v\n", s.RecordingErr)
	}
	fmt.Fprintf(&b, "events:     %d (counter %d, display drops %d, write drops %d)\n",
		s.Worker.Events, s.EventCounter, s.Worker.DisplayDrops, s.Dispatch.WriteDrops)
	fmt.Fprintf(&b, "throughput: %s\n", s.Throughput)
	fmt.Fprintf(&b, "pressure:   %s\n", s.Dispatch.Level)
	fmt.Fprintf(&b, "queues:     %s %d/%d, %s %d/%d\n",
		s.Commands.Name, s.Commands.Count, s.Commands.Capacity,
		s.Display.Name, s.Display.Count, s.Display.Capacity)
	for _, q := range s.Writes {
		fmt.Fprintf(&b, "            %s %d/%d\n", q.Name, q.Count, q.Capacity)
	}
	for _, w := range s.Writers {
		fmt.Fprintf(&b, "writer ch%d: %s written=%d flushes=%d spilled=%d",
			w.Channel, w.Status, w.Stats.Written, w.Stats.Flushes, w.Stats.Spilled)
		if w.Err != nil {
			fmt.Fprintf(&b, " error=%v", w.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
