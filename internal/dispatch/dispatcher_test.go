package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/digirec/internal/channel"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/queue"
	"github.com/xtxerr/digirec/internal/storage/backpressure"
	"github.com/xtxerr/digirec/internal/testutil"
	"github.com/xtxerr/digirec/internal/tracker"
)

type fixture struct {
	display *queue.Queue[*event.Event]
	writes  []*queue.Queue[event.Record]
	d       *Dispatcher
}

func newFixture(t *testing.T, writeCap int, mode CounterMode, channels ...uint32) *fixture {
	t.Helper()

	m, err := channel.New(channels...)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{display: queue.New[*event.Event]("display", 64)}
	for range channels {
		f.writes = append(f.writes, queue.New[event.Record]("write", writeCap))
	}
	f.d, err = New(f.display, m, f.writes, nil, tracker.New(), Options{
		Mode:            mode,
		DropLogInterval: time.Hour,
		Backpressure:    backpressure.Config{Enabled: true, Thresholds: backpressure.DefaultConfig().Thresholds},
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) push(t *testing.T, evs ...*event.Event) {
	t.Helper()
	for _, ev := range evs {
		if err := f.display.TryPush(ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNew_QueueCountMismatch(t *testing.T) {
	m, _ := channel.New(0, 1)
	_, err := New(queue.New[*event.Event]("display", 4), m,
		[]*queue.Queue[event.Record]{queue.New[event.Record]("w", 4)}, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected error for one queue and two channels")
	}
}

func TestDrain_NotRecording(t *testing.T) {
	f := newFixture(t, 8, CountLastChannel, 0, 3)

	f.push(t, testutil.Waveform(0, 4, 1), testutil.Waveform(3, 4, 1))
	if n := f.d.Drain(); n != 2 {
		t.Fatalf("Drain() = %d, want 2", n)
	}

	for i, q := range f.writes {
		if q.Len() != 0 {
			t.Errorf("write queue %d has %d records while not recording", i, q.Len())
		}
	}
	if got := f.d.EventCounter(); got != 1 {
		t.Errorf("EventCounter = %d, want 1", got)
	}
}

func TestDrain_RoutesByMapping(t *testing.T) {
	f := newFixture(t, 8, CountLastChannel, 0, 3, 5)
	f.d.SetRecording(true)

	// Two complete groups
	for ts := uint64(1); ts <= 2; ts++ {
		f.push(t,
			testutil.Waveform(0, 4, ts),
			testutil.Waveform(3, 4, ts),
			testutil.Waveform(5, 4, ts))
	}
	f.d.Drain()

	wantCh := []uint32{0, 3, 5}
	for i, q := range f.writes {
		recs := q.PopN(10)
		if len(recs) != 2 {
			t.Fatalf("queue %d: %d records, want 2", i, len(recs))
		}
		for j, r := range recs {
			if r.Channel != wantCh[i] {
				t.Errorf("queue %d got channel %d", i, r.Channel)
			}
			if r.EventNumber != uint64(j) {
				t.Errorf("queue %d record %d EventNumber = %d, want %d", i, j, r.EventNumber, j)
			}
		}
	}
	if got := f.d.EventCounter(); got != 2 {
		t.Errorf("EventCounter = %d, want 2", got)
	}
}

func TestDrain_CounterModes(t *testing.T) {
	tests := []struct {
		name string
		mode CounterMode
		want uint64
	}{
		{"last channel", CountLastChannel, 1},
		{"every event", CountEveryEvent, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 8, tt.mode, 1, 2)
			f.push(t,
				testutil.Waveform(1, 4, 1),
				testutil.Waveform(2, 4, 1),
				testutil.Waveform(1, 4, 2))
			f.d.Drain()
			if got := f.d.EventCounter(); got != tt.want {
				t.Errorf("EventCounter = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDrain_CounterNeverDecreases(t *testing.T) {
	f := newFixture(t, 4, CountLastChannel, 0, 1)
	f.d.SetRecording(true)

	var prev uint64
	for ts := uint64(0); ts < 50; ts++ {
		f.push(t, testutil.Waveform(uint32(ts%2), 4, ts))
		f.d.Drain()
		if cur := f.d.EventCounter(); cur < prev {
			t.Fatalf("counter went from %d to %d", prev, cur)
		} else {
			prev = cur
		}
		if ts%3 == 0 {
			f.d.SetRecording(!f.d.Recording())
		}
	}
}

func TestDrain_UnmappedChannel(t *testing.T) {
	f := newFixture(t, 8, CountLastChannel, 0)
	f.d.SetRecording(true)

	f.push(t, testutil.Waveform(7, 4, 1))
	f.d.Drain()

	st := f.d.Stats()
	if st.Unmapped != 1 || st.Recorded != 0 {
		t.Errorf("stats = %+v, want one unmapped", st)
	}
}

func TestDrain_WriteQueueFullDrops(t *testing.T) {
	f := newFixture(t, 2, CountEveryEvent, 0)
	f.d.SetRecording(true)

	for ts := uint64(0); ts < 5; ts++ {
		f.push(t, testutil.Waveform(0, 4, ts))
	}
	f.d.Drain()

	st := f.d.Stats()
	if st.Recorded != 2 || st.WriteDrops != 3 {
		t.Errorf("Recorded = %d WriteDrops = %d, want 2 and 3", st.Recorded, st.WriteDrops)
	}
	if st.Level != backpressure.LevelEmergency {
		t.Errorf("Level = %s, want emergency", st.Level)
	}

	// FIFO: the oldest records survive
	recs := f.writes[0].PopN(2)
	if recs[0].Timestamp != 0 || recs[1].Timestamp != 1 {
		t.Errorf("kept timestamps %d, %d", recs[0].Timestamp, recs[1].Timestamp)
	}
}

func TestDrain_StopRecordingKeepsQueuedRecords(t *testing.T) {
	f := newFixture(t, 8, CountEveryEvent, 0)

	f.d.SetRecording(true)
	f.push(t, testutil.Waveform(0, 4, 1))
	f.d.Drain()

	f.d.SetRecording(false)
	f.push(t, testutil.Waveform(0, 4, 2))
	f.d.Drain()

	if got := f.writes[0].Len(); got != 1 {
		t.Errorf("write queue len = %d, want 1", got)
	}
}

func TestDrain_PanicIsContained(t *testing.T) {
	f := newFixture(t, 8, CountEveryEvent, 0)

	calls := 0
	f.d.sink = FuncSink(func(ch uint32, x []uint32, s event.Samples) {
		calls++
		if calls == 1 {
			panic("bad frame")
		}
	})

	f.push(t, testutil.Waveform(0, 4, 1), nil, testutil.Waveform(0, 4, 2))
	if n := f.d.Drain(); n != 3 {
		t.Fatalf("Drain() = %d, want 3", n)
	}

	st := f.d.Stats()
	if st.ItemErrors != 2 {
		t.Errorf("ItemErrors = %d, want 2", st.ItemErrors)
	}
	if calls != 2 {
		t.Errorf("sink calls = %d, want 2", calls)
	}
	if got := f.d.EventCounter(); got != 1 {
		t.Errorf("EventCounter = %d, want 1", got)
	}
}

func TestDrain_SinkAxis(t *testing.T) {
	f := newFixture(t, 8, CountEveryEvent, 0)

	var gotX []uint32
	f.d.sink = FuncSink(func(ch uint32, x []uint32, s event.Samples) { gotX = x })

	f.push(t, testutil.Waveform(0, 5, 1))
	f.d.Drain()

	if len(gotX) != 5 {
		t.Fatalf("len(x) = %d, want 5", len(gotX))
	}
	for i, v := range gotX {
		if v != uint32(i) {
			t.Errorf("x[%d] = %d", i, v)
		}
	}
}

func TestRun_DrainsOnReadyAndExit(t *testing.T) {
	f := newFixture(t, 8, CountEveryEvent, 0)
	f.d.opts.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx, f.display.Ready())
		close(done)
	}()

	f.push(t, testutil.Waveform(0, 4, 1))
	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return f.d.Stats().Drained == 1
	}); err != nil {
		t.Fatal(err)
	}

	cancel()
	testutil.WaitClosed(t, done, time.Second, "dispatcher")
}

func TestLogSink_CountsUpdates(t *testing.T) {
	s := NewLogSink(time.Hour)
	for i := 0; i < 3; i++ {
		s.Update(2, axis(4), event.Uint16Samples([]uint16{1, 9, 3, 4}))
	}
	if got := s.Updates(2); got != 3 {
		t.Errorf("Updates = %d, want 3", got)
	}
}

func TestMinMax(t *testing.T) {
	lo, hi := minMax(event.Float32Samples([]float32{0.5, -2, 7}))
	if lo != -2 || hi != 7 {
		t.Errorf("minMax = %v, %v", lo, hi)
	}
}
