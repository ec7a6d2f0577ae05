package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/parquet"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

func records(n, length int, ch uint32) []event.Record {
	recs := make([]event.Record, n)
	for i := range recs {
		rwf := make([]uint16, length)
		for j := range rwf {
			rwf[j] = uint16(i + j)
		}
		recs[i] = event.Record{
			WaveformLength: uint32(length),
			Samples:        event.Uint16Samples(rwf),
			EventNumber:    uint64(i + 1),
			Channel:        ch,
			Timestamp:      uint64(100 * (i + 1)),
		}
	}
	return recs
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_2_10-00-00.duckdb")
	layout := schema.Layout{Generation: schema.Generation1, Length: 4}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := []loader.KV{{Key: "dig_gen", Value: "1"}, {Key: "model", Value: "sim"}}
	if err := s.WriteConfigTable("config_dig", cfg); err != nil {
		t.Fatalf("WriteConfigTable: %v", err)
	}

	recs := records(10, 4, 2)
	for _, batch := range [][]event.Record{recs[:4], recs[4:8], recs[8:]} {
		if err := s.AppendRecords("rwf", layout, batch); err != nil {
			t.Fatalf("AppendRecords: %v", err)
		}
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	got, gotLayout, err := ReadRecords(path, "rwf")
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if gotLayout != layout {
		t.Errorf("layout = %v, want %v", gotLayout, layout)
	}
	if len(got) != 10 {
		t.Fatalf("read %d records, want 10", len(got))
	}
	for i := range recs {
		if got[i].EventNumber != recs[i].EventNumber || !reflect.DeepEqual(got[i].Samples.U16, recs[i].Samples.U16) {
			t.Errorf("record %d differs: %+v", i, got[i])
		}
	}

	kvs, err := ReadConfigTable(path, "config_dig")
	if err != nil {
		t.Fatalf("ReadConfigTable: %v", err)
	}
	if !reflect.DeepEqual(kvs, cfg) {
		t.Errorf("config = %v, want %v", kvs, cfg)
	}
}

func TestStore_Float32(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.duckdb")
	layout := schema.Layout{Generation: schema.Generation2, Length: 2}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := event.Record{
		WaveformLength: 2,
		Samples:        event.Float32Samples([]float32{1.5, -0.25}),
		EventNumber:    3,
		Timestamp:      9,
	}
	if err := s.AppendRecords("rwf", layout, []event.Record{rec}); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	s.Close()

	got, _, err := ReadRecords(path, "rwf")
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0].Samples.F32, rec.Samples.F32) {
		t.Errorf("unexpected records %+v", got)
	}
}

func TestStore_SchemaMismatch(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "c.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	layout := schema.Layout{Generation: schema.Generation1, Length: 64}
	if err := s.AppendRecords("rwf", layout, records(1, 64, 0)); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	if err := s.AppendRecords("rwf", layout, records(1, 128, 0)); !errors.Is(err, errors.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestAppendList(t *testing.T) {
	tests := []struct {
		samples event.Samples
		want    string
	}{
		{event.Uint16Samples([]uint16{1, 2, 65535}), "[1,2,65535]"},
		{event.Float32Samples([]float32{0.5, -2}), "[0.5,-2]"},
		{event.Uint16Samples([]uint16{}), "[]"},
	}

	for _, tt := range tests {
		if got := string(appendList(nil, tt.samples)); got != tt.want {
			t.Errorf("appendList = %q, want %q", got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.duckdb")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	layout := schema.Layout{Generation: schema.Generation1, Length: 4}
	s.AppendRecords("rwf", layout, records(5, 4, 6))
	s.Close()

	sum, err := Summarize(context.Background(), path)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Rows != 5 || sum.FirstEvent != 1 || sum.LastEvent != 5 || sum.LastTimestamp != 500 {
		t.Errorf("unexpected summary %s", sum)
	}
	if !reflect.DeepEqual(sum.Channels, []uint32{6}) {
		t.Errorf("channels = %v", sum.Channels)
	}
}

func TestSummarizeMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty.rwf")
	os.MkdirAll(dir, 0755)

	if _, err := Summarize(context.Background(), dir); err == nil {
		t.Error("expected error for container without data table")
	}
}

func TestSummarizeParquetContainer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c.rwf")
	s, err := parquet.Open(dir, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	layout := schema.Layout{Generation: schema.Generation1, Length: 4}
	if err := s.AppendRecords("rwf", layout, records(3, 4, 1)); err != nil {
		t.Fatalf("AppendRecords: %v", err)
	}
	s.Close()

	sum, err := Summarize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Rows != 3 || sum.FirstEvent != 1 || sum.LastEvent != 3 {
		t.Errorf("unexpected summary %s", sum)
	}
}
