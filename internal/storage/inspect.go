package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/duckdb"
	"github.com/xtxerr/digirec/internal/storage/journal"
	"github.com/xtxerr/digirec/internal/storage/parquet"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Inspection describes a finished recording container.
type Inspection struct {
	Backend   string
	Layout    schema.Layout
	Summary   *duckdb.Summary
	RecConfig []loader.KV
	DigConfig []loader.KV

	// Spilled counts records in the container's spill journal, if any.
	Spilled   int
	Truncated int
}

// Inspect reads the config tables, layout and data summary of the container
// at path, plus its spill journal when one exists.
func Inspect(ctx context.Context, path string) (*Inspection, error) {
	in := &Inspection{Backend: BackendParquet}
	if strings.HasSuffix(path, duckdb.Extension) {
		in.Backend = BackendDuckDB
	}

	readConfig := parquet.ReadConfigTable
	readLayout := func(p, name string) (schema.Layout, error) {
		fi, err := parquet.GetFileInfo(p, name)
		if err != nil {
			return schema.Layout{}, err
		}
		return fi.Layout, nil
	}
	if in.Backend == BackendDuckDB {
		readConfig = duckdb.ReadConfigTable
		readLayout = duckdb.ReadLayout
	}

	var err error
	if in.RecConfig, err = readConfig(path, RecConfigTable); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if in.DigConfig, err = readConfig(path, DigConfigTable); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}

	// A container that never received a record has no data table
	if l, err := readLayout(path, DataTable); err == nil {
		in.Layout = l
		if in.Summary, err = duckdb.Summarize(ctx, path); err != nil {
			return nil, err
		}
	}

	spill := path + ".spill"
	if _, err := os.Stat(spill); err == nil {
		recs, truncated, err := journal.ReadAll(spill)
		if err != nil {
			return nil, fmt.Errorf("read spill journal: %w", err)
		}
		in.Spilled, in.Truncated = len(recs), truncated
	}
	return in, nil
}

// String renders the inspection for the command line.
func (in *Inspection) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend: %s\n", in.Backend)
	if in.Summary != nil {
		fmt.Fprintf(&b, "layout:  %s\n", in.Layout)
		fmt.Fprintf(&b, "data:    %s\n", in.Summary)
	} else {
		fmt.Fprintln(&b, "data:    none")
	}
	for _, t := range []struct {
		name string
		rows []loader.KV
	}{{RecConfigTable, in.RecConfig}, {DigConfigTable, in.DigConfig}} {
		fmt.Fprintf(&b, "%s:\n", t.name)
		for _, kv := range t.rows {
			fmt.Fprintf(&b, "  %s = %s\n", kv.Key, kv.Value)
		}
	}
	if in.Spilled > 0 || in.Truncated > 0 {
		fmt.Fprintf(&b, "spilled: %d records (%d truncated segments)\n", in.Spilled, in.Truncated)
	}
	return b.String()
}
