package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/digirec/internal/acquisition"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/recording"
	"github.com/xtxerr/digirec/internal/storage"
	"github.com/xtxerr/digirec/internal/storage/parquet"
	"github.com/xtxerr/digirec/internal/testutil"
)

const recYAML = `
software_timeout: 10
h5_flush_size: 4
file_name: run
ch0:
  enabled: true
ch3:
  enabled: true
ch5:
  enabled: false
`

const digYAML = `
dig_gen: 1
record_length: 8
`

func parse(t *testing.T, doc string) loader.Dict {
	t.Helper()
	d, err := loader.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

type fixture struct {
	c       *Controller
	dev     *testutil.FakeDevice
	backend *testutil.MemBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{dev: testutil.NewFakeDevice(256), backend: testutil.NewMemBackend()}
	s := DefaultSettings()
	s.DataDir = t.TempDir()
	s.WriterIdleWait = time.Millisecond
	s.DispatchInterval = time.Millisecond

	c, err := New(parse(t, digYAML), parse(t, recYAML), Options{
		Settings: s,
		Device:   f.dev,
		Open:     f.backend.Open,
		Now:      func() time.Time { return time.Date(2026, 3, 4, 10, 20, 30, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	f.c = c
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return f
}

func (f *fixture) waitState(t *testing.T, want acquisition.State) {
	t.Helper()
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return f.c.Status().State == want
	}); err != nil {
		t.Fatalf("state = %s, want %s", f.c.Status().State, want)
	}
}

// emitGroups emits n complete trigger groups on channels 0 and 3.
func (f *fixture) emitGroups(from, n int) {
	for i := from; i < from+n; i++ {
		f.dev.Emit(testutil.Waveform(0, 8, uint64(i)), testutil.Waveform(3, 8, uint64(i)))
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		dig  string
		rec  string
	}{
		{"missing dig_gen", "record_length: 8\n", recYAML},
		{"bad generation", "dig_gen: 7\n", recYAML},
		{"bad flush size", digYAML, "h5_flush_size: 0\nch0:\n  enabled: true\n"},
		{"bad channel key", digYAML, "chX:\n  enabled: true\n"},
		{"no channels", digYAML, "ch0:\n  enabled: false\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(parse(t, tt.dig), parse(t, tt.rec), Options{
				Settings: DefaultSettings(),
				Device:   testutil.NewFakeDevice(1),
			})
			if !errors.IsConfig(err) {
				t.Errorf("New() = %v, want config error", err)
			}
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	s.Backend = "hdf5"
	s.WriteQueue = 0
	s.DataDir = ""

	err := s.Validate()
	var v *errors.ValidationErrors
	if !errors.As(err, &v) || len(v.Errors) != 3 {
		t.Fatalf("Validate() = %v, want 3 errors", err)
	}
	if DefaultSettings().Validate() != nil {
		t.Error("default settings invalid")
	}
}

func TestController_InitialConnect(t *testing.T) {
	f := newFixture(t)
	f.waitState(t, acquisition.StateConnected)

	if f.dev.Connects() != 1 {
		t.Errorf("Connects = %d, want 1", f.dev.Connects())
	}
}

func TestController_RecordingEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.waitState(t, acquisition.StateConnected)

	if err := f.c.StartAcquisition(); err != nil {
		t.Fatal(err)
	}
	f.waitState(t, acquisition.StateArmed)

	if err := f.c.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.WaitRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.c.Status().Recording {
		t.Fatal("recording flag not set after open")
	}

	f.emitGroups(0, 10)
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return f.c.Status().EventCounter == 10
	}); err != nil {
		t.Fatalf("EventCounter = %d, want 10", f.c.Status().EventCounter)
	}

	r := f.c.Shutdown(context.Background())
	if !r.Clean {
		t.Fatalf("shutdown report = %+v", r)
	}

	st := f.c.Status()
	if st.State != acquisition.StateExited {
		t.Errorf("state = %s, want EXITED", st.State)
	}
	if len(st.Writers) != 2 {
		t.Fatalf("writers = %d, want 2", len(st.Writers))
	}
	for _, w := range st.Writers {
		recs := f.backend.Store(w.Path).Records()
		if len(recs) != 10 {
			t.Errorf("ch%d stored %d records, want 10", w.Channel, len(recs))
		}
		for i, r := range recs {
			if r.EventNumber != uint64(i) {
				t.Errorf("ch%d record %d EventNumber = %d", w.Channel, i, r.EventNumber)
				break
			}
		}
		if w.Status != recording.StatusStopped {
			t.Errorf("ch%d status %s", w.Channel, w.Status)
		}
	}
	if f.dev.Connected() {
		t.Error("device left connected")
	}
}

func TestController_StopRecordingKeepsContainersOpen(t *testing.T) {
	f := newFixture(t)
	f.waitState(t, acquisition.StateConnected)
	f.c.StartAcquisition()
	f.waitState(t, acquisition.StateArmed)

	f.c.StartRecording()
	if err := f.c.WaitRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.emitGroups(0, 3)
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return f.c.Status().Dispatch.Recorded == 6
	}); err != nil {
		t.Fatal(err)
	}

	f.c.StopRecording()
	f.emitGroups(3, 2)
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return f.c.Status().EventCounter == 5
	}); err != nil {
		t.Fatal(err)
	}

	f.c.StartRecording()
	f.emitGroups(5, 1)
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return f.c.Status().Dispatch.Recorded == 8
	}); err != nil {
		t.Fatalf("Recorded = %d, want 8", f.c.Status().Dispatch.Recorded)
	}

	f.c.Shutdown(context.Background())

	// One session: containers were opened once
	if got := len(f.backend.Paths()); got != 2 {
		t.Errorf("containers = %d, want 2", got)
	}
	w := f.c.Status().Writers[0]
	recs := f.backend.Store(w.Path).Records()
	if len(recs) != 4 {
		t.Fatalf("stored %d, want 4", len(recs))
	}
	if recs[3].EventNumber != 5 {
		t.Errorf("last EventNumber = %d, want 5", recs[3].EventNumber)
	}
}

func TestController_RecordingOpenFailure(t *testing.T) {
	f := newFixture(t)

	fail := fmt.Errorf("disk full")
	failing := func(path string) (storage.Store, error) { return nil, fail }
	f.c.open = failing

	f.c.StartRecording()
	err := f.c.WaitRecording(context.Background())
	if !errors.Is(err, errors.ErrStorageOpen) {
		t.Fatalf("WaitRecording() = %v, want ErrStorageOpen", err)
	}
	if st := f.c.Status(); st.Recording || st.RecordingErr == nil {
		t.Errorf("status after failed open: recording=%v err=%v", st.Recording, st.RecordingErr)
	}

	// A later call retries
	f.c.open = f.backend.Open
	f.c.StartRecording()
	if err := f.c.WaitRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.c.Status().Recording {
		t.Error("recording flag not set after retry")
	}
}

func TestController_CommandQueueFull(t *testing.T) {
	dev := testutil.NewFakeDevice(1)
	release := dev.Hang()
	defer release()

	s := DefaultSettings()
	s.CommandQueue = 2
	s.DataDir = t.TempDir()
	c, err := New(parse(t, digYAML), parse(t, recYAML), Options{Settings: s, Device: dev, Open: testutil.NewMemBackend().Open})
	if err != nil {
		t.Fatal(err)
	}

	// Connect, then START arms the worker, which hangs in Poll
	c.StartAcquisition()
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return dev.Polls() > 0
	}); err != nil {
		t.Fatal(err)
	}

	c.StopAcquisition()
	c.StopAcquisition()
	if err := c.StopAcquisition(); !errors.Is(err, errors.ErrQueueOverflow) {
		t.Errorf("third push = %v, want ErrQueueOverflow", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.WorkerTimeout = 50 * time.Millisecond
	c.settings = s
	r := c.Shutdown(ctx)
	if r.Clean || r.Stragglers[0] != "acquisition worker" {
		t.Errorf("report = %+v, want the hung worker named", r)
	}
}

func TestController_StartRecordingAfterShutdown(t *testing.T) {
	f := newFixture(t)
	f.c.Shutdown(context.Background())

	if err := f.c.StartRecording(); !errors.Is(err, errors.ErrWorkerExited) {
		t.Errorf("StartRecording() = %v, want ErrWorkerExited", err)
	}
	if r := f.c.Shutdown(context.Background()); !r.Clean {
		t.Errorf("second Shutdown report = %+v", r)
	}
}

func TestController_ShutdownWithPendingOpen(t *testing.T) {
	f := newFixture(t)

	block := make(chan struct{})
	f.c.open = func(path string) (storage.Store, error) {
		<-block
		return f.backend.Open(path)
	}
	f.c.settings.WriterTimeout = 50 * time.Millisecond

	if err := f.c.StartRecording(); err != nil {
		t.Fatal(err)
	}

	r := f.c.Shutdown(context.Background())
	if r.Clean || len(r.Stragglers) != 1 || r.Stragglers[0] != "recording open" {
		t.Fatalf("report = %+v, want the pending open named", r)
	}
	if !errors.Is(r.Err(), errors.ErrShutdownTimeout) {
		t.Errorf("Err() = %v, want ErrShutdownTimeout", r.Err())
	}

	// The open completes after shutdown: nothing starts, containers close
	close(block)
	if err := f.c.WaitRecording(context.Background()); !errors.Is(err, errors.ErrWorkerExited) {
		t.Fatalf("WaitRecording() = %v, want ErrWorkerExited", err)
	}
	if f.c.dispatcher.Recording() {
		t.Error("recording flag set on a stopped pipeline")
	}

	paths := f.backend.Paths()
	if len(paths) != 2 {
		t.Fatalf("opened %d containers, want 2", len(paths))
	}
	for _, p := range paths {
		if n := f.backend.Store(p).Closes(); n != 1 {
			t.Errorf("%s closed %d times, want 1", p, n)
		}
	}
}

func TestController_ParquetBackend(t *testing.T) {
	dev := testutil.NewFakeDevice(64)
	s := DefaultSettings()
	s.DataDir = t.TempDir()
	s.WriterIdleWait = time.Millisecond

	c, err := New(parse(t, digYAML), parse(t, recYAML), Options{Settings: s, Device: dev})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Shutdown(context.Background())

	c.StartAcquisition()
	c.StartRecording()
	if err := c.WaitRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		dev.Emit(testutil.Waveform(3, 8, uint64(i)))
	}
	if err := testutil.Eventually(2*time.Second, time.Millisecond, func() bool {
		return c.Status().Dispatch.Recorded == 6
	}); err != nil {
		t.Fatal(err)
	}

	if r := c.Shutdown(context.Background()); !r.Clean {
		t.Fatalf("report = %+v", r)
	}

	var path string
	for _, w := range c.Status().Writers {
		if w.Channel == 3 {
			path = w.Path
		}
	}
	recs, _, err := parquet.ReadRecords(path, storage.DataTable)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 6 {
		t.Errorf("read %d records, want 6", len(recs))
	}
	rows, err := parquet.ReadConfigTable(path, storage.RecConfigTable)
	if err != nil {
		t.Fatal(err)
	}
	if rows[len(rows)-1].Key != "session_id" {
		t.Errorf("last rec config row = %+v", rows[len(rows)-1])
	}
}
