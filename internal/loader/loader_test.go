package loader

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/xtxerr/digirec/config"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

const recYAML = `
software_timeout: 500
h5_flush_size: 4
file_name: run42
ch5:
  enabled: true
ch0:
  enabled: false
ch3:
  enabled: true
  threshold: 120
`

func TestParsePreservesOrder(t *testing.T) {
	d, err := Parse([]byte(recYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []string{"software_timeout", "h5_flush_size", "file_name", "ch5", "ch0", "ch3"}
	if got := d.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}

	ch3, ok := d.Section("ch3")
	if !ok {
		t.Fatal("ch3 should be a section")
	}
	if got := ch3.Keys(); !reflect.DeepEqual(got, []string{"enabled", "threshold"}) {
		t.Errorf("ch3 keys = %v", got)
	}
}

func TestFlatten(t *testing.T) {
	d, err := Parse([]byte(recYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []KV{
		{"software_timeout", "500"},
		{"h5_flush_size", "4"},
		{"file_name", "run42"},
		{"ch5/enabled", "true"},
		{"ch0/enabled", "false"},
		{"ch3/enabled", "true"},
		{"ch3/threshold", "120"},
	}
	if got := d.Flatten(); !reflect.DeepEqual(got, want) {
		t.Errorf("Flatten() = %v, want %v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"two levels", "a:\n  b:\n    c: 1\n"},
		{"sequence", "a: [1, 2]\n"},
		{"scalar document", "42\n"},
		{"duplicate key", "a: 1\na: 2\n"},
		{"syntax", "a: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.yaml")
	if err := os.WriteFile(path, []byte(recYAML), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 6 {
		t.Errorf("expected 6 keys, got %d", d.Len())
	}
}

func TestParseRecording(t *testing.T) {
	d, err := Parse([]byte(recYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := ParseRecording(d)
	if err != nil {
		t.Fatalf("ParseRecording: %v", err)
	}

	if cfg.SoftwareTimeout != 500*time.Millisecond {
		t.Errorf("SoftwareTimeout = %v", cfg.SoftwareTimeout)
	}
	if cfg.FlushSize != 4 {
		t.Errorf("FlushSize = %d", cfg.FlushSize)
	}
	if cfg.FileName != "run42" {
		t.Errorf("FileName = %q", cfg.FileName)
	}
}

func TestParseRecordingDurationString(t *testing.T) {
	d, err := Parse([]byte("software_timeout: 2s\nh5_flush_size: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := ParseRecording(d)
	if err != nil {
		t.Fatalf("ParseRecording: %v", err)
	}
	if cfg.SoftwareTimeout != 2*time.Second {
		t.Errorf("SoftwareTimeout = %v", cfg.SoftwareTimeout)
	}
	if cfg.FileName != "" {
		t.Errorf("FileName should default to empty, got %q", cfg.FileName)
	}
}

func TestParseRecordingCollectsErrors(t *testing.T) {
	d, err := Parse([]byte("software_timeout: -1\nh5_flush_size: zero\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = ParseRecording(d)
	if err == nil {
		t.Fatal("expected error")
	}

	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 2 {
		t.Errorf("expected 2 errors (timeout, flush size), got %d: %v", len(verrs.Errors), err)
	}
	if !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestParseRecordingRejectsFileName(t *testing.T) {
	for _, name := range []string{"../escape", "a b", ".hidden"} {
		d, err := Parse([]byte("file_name: \"" + name + "\"\n"))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if _, err := ParseRecording(d); !errors.IsConfig(err) {
			t.Errorf("file_name %q: expected config error, got %v", name, err)
		}
	}
}

func TestParseRecordingDefaults(t *testing.T) {
	d, err := Parse([]byte("file_name: x\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := ParseRecording(d)
	if err != nil {
		t.Fatalf("ParseRecording: %v", err)
	}
	if cfg.SoftwareTimeout != config.DefaultSoftwareTimeout || cfg.FlushSize != config.DefaultFlushSize {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParseDigitiser(t *testing.T) {
	d, _ := Parse([]byte("dig_gen: 2\nrecord_length: 64\n"))
	cfg, err := ParseDigitiser(d)
	if err != nil {
		t.Fatalf("ParseDigitiser: %v", err)
	}
	if cfg.Generation != schema.Generation2 {
		t.Errorf("Generation = %v", cfg.Generation)
	}

	bad, _ := Parse([]byte("dig_gen: 9\n"))
	if _, err := ParseDigitiser(bad); !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}

	missing, _ := Parse([]byte("record_length: 64\n"))
	if _, err := ParseDigitiser(missing); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected missing field, got %v", err)
	}
}
