package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/journal"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

func writeContainer(t *testing.T, backend, path string, n int) {
	t.Helper()

	open, err := NewOpener(Options{Backend: backend})
	if err != nil {
		t.Fatal(err)
	}
	st, err := open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.WriteConfigTable(RecConfigTable, []loader.KV{{Key: "h5_flush_size", Value: "4"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.WriteConfigTable(DigConfigTable, []loader.KV{{Key: "dig_gen", Value: "2"}}); err != nil {
		t.Fatal(err)
	}

	if n > 0 {
		layout := schema.Layout{Generation: schema.Generation2, Length: 3}
		recs := make([]event.Record, n)
		for i := range recs {
			recs[i] = event.Record{
				WaveformLength: 3,
				Samples:        event.Float32Samples([]float32{1, 2, 3}),
				EventNumber:    uint64(i + 10),
				Channel:        4,
				Timestamp:      uint64(i * 100),
			}
		}
		if err := st.AppendRecords(DataTable, layout, recs); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestInspect(t *testing.T) {
	for _, backend := range []string{BackendParquet, BackendDuckDB} {
		t.Run(backend, func(t *testing.T) {
			path := FileName(t.TempDir(), "run", 4, "09-00-00", backend)
			writeContainer(t, backend, path, 5)

			in, err := Inspect(context.Background(), path)
			if err != nil {
				t.Fatal(err)
			}
			if in.Backend != backend {
				t.Errorf("Backend = %s", in.Backend)
			}
			if in.Layout != (schema.Layout{Generation: schema.Generation2, Length: 3}) {
				t.Errorf("Layout = %s", in.Layout)
			}
			if in.Summary == nil || in.Summary.Rows != 5 || in.Summary.FirstEvent != 10 || in.Summary.LastEvent != 14 {
				t.Errorf("Summary = %v", in.Summary)
			}
			if len(in.DigConfig) != 1 || in.DigConfig[0].Value != "2" {
				t.Errorf("DigConfig = %v", in.DigConfig)
			}
			if !strings.Contains(in.String(), "h5_flush_size = 4") {
				t.Errorf("String() = %q", in.String())
			}
		})
	}
}

func TestInspect_EmptyContainerWithSpill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_1_09-00-00.rwf")
	writeContainer(t, BackendParquet, path, 0)

	j, err := journal.NewWriter(path+".spill", journal.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	rec := event.Record{WaveformLength: 2, Samples: event.Uint16Samples([]uint16{1, 2}), Channel: 1}
	if err := j.Append([]event.Record{rec, rec, rec}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	in, err := Inspect(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if in.Summary != nil {
		t.Errorf("Summary = %v, want none", in.Summary)
	}
	if in.Spilled != 3 {
		t.Errorf("Spilled = %d, want 3", in.Spilled)
	}
	if !strings.Contains(in.String(), "spilled: 3 records") {
		t.Errorf("String() = %q", in.String())
	}
}
