package console

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/digirec/internal/acquisition"
	"github.com/xtxerr/digirec/internal/controller"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/testutil"
)

type fakeControls struct {
	calls     []string
	recording bool
	startErr  error
}

func (f *fakeControls) Connect() error { f.calls = append(f.calls, "connect"); return nil }
func (f *fakeControls) StartAcquisition() error {
	f.calls = append(f.calls, "start")
	return f.startErr
}
func (f *fakeControls) StopAcquisition() error { f.calls = append(f.calls, "stop"); return nil }
func (f *fakeControls) StartRecording() error {
	f.calls = append(f.calls, "record")
	f.recording = true
	return nil
}
func (f *fakeControls) StopRecording() { f.calls = append(f.calls, "pause"); f.recording = false }
func (f *fakeControls) Status() controller.Status {
	return controller.Status{State: acquisition.StateArmed, Recording: f.recording}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		line     string
		wantCall string
		wantOut  string
		wantQuit bool
	}{
		{"connect", "connect", "ok", false},
		{"  START ", "start", "ok", false},
		{"stop", "stop", "ok", false},
		{"record", "record", "ok", false},
		{"pause", "pause", "ok", false},
		{"status", "", "ARMED", false},
		{"help", "", "shut down and exit", false},
		{"bogus", "", "unknown command", false},
		{"", "", "", false},
		{"quit", "", "", true},
		{"exit", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctl := &fakeControls{}
			var out bytes.Buffer
			c := New(ctl, &out)

			if got := c.Execute(tt.line); got != tt.wantQuit {
				t.Errorf("Execute(%q) = %v, want %v", tt.line, got, tt.wantQuit)
			}
			if tt.wantCall != "" && (len(ctl.calls) != 1 || ctl.calls[0] != tt.wantCall) {
				t.Errorf("calls = %v, want [%s]", ctl.calls, tt.wantCall)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output %q does not contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func TestExecute_ReportsErrors(t *testing.T) {
	ctl := &fakeControls{startErr: fmt.Errorf("START: %w", errors.ErrQueueOverflow)}
	var out bytes.Buffer
	New(ctl, &out).Execute("start")

	if !strings.Contains(out.String(), "queue overflow") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunLines(t *testing.T) {
	ctl := &fakeControls{}
	var out bytes.Buffer
	c := New(ctl, &out)

	in := strings.NewReader("start\nrecord\npause\nquit\nstop\n")
	if err := testutil.WithTimeout(time.Second, func() error {
		c.RunLines(context.Background(), in)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(ctl.calls, ","); got != "start,record,pause" {
		t.Errorf("calls = %s, want start,record,pause", got)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after quit")
	}
}

func TestRunLines_EndOfInput(t *testing.T) {
	ctl := &fakeControls{}
	c := New(ctl, &bytes.Buffer{})

	if err := testutil.WithTimeout(time.Second, func() error {
		c.RunLines(context.Background(), strings.NewReader("record\n"))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !ctl.recording {
		t.Error("record not executed")
	}
}

func TestComplete(t *testing.T) {
	c := New(&fakeControls{}, &bytes.Buffer{})

	buf := prompt.NewBuffer()
	buf.InsertText("st", false, true)
	got := c.Complete(*buf.Document())

	var names []string
	for _, s := range got {
		names = append(names, s.Text)
	}
	if strings.Join(names, ",") != "start,status,stop" {
		t.Errorf("suggestions = %v", names)
	}
}

func TestRunLines_EndOfInputDoesNotQuit(t *testing.T) {
	c := New(&fakeControls{}, &bytes.Buffer{})
	c.RunLines(context.Background(), strings.NewReader("status\n"))

	select {
	case <-c.Done():
		t.Error("end of input closed Done")
	default:
	}
}
