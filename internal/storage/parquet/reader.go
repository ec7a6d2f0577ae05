package parquet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// ReadConfigTable reads a key/value table from a container.
func ReadConfigTable(dir, name string) ([]loader.KV, error) {
	rows, err := parquet.ReadFile[ConfigRow](filepath.Join(dir, name+".parquet"))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	kvs := make([]loader.KV, len(rows))
	for i, r := range rows {
		kvs[i] = loader.KV{Key: r.Key, Value: r.Value}
	}
	return kvs, nil
}

// ReadRecords reads every row of a data table in write order, together with
// the layout stored in its footer.
func ReadRecords(dir, name string) ([]event.Record, schema.Layout, error) {
	f, err := os.Open(filepath.Join(dir, name+".parquet"))
	if err != nil {
		return nil, schema.Layout{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	layout, err := readLayout(f)
	if err != nil {
		return nil, schema.Layout{}, err
	}

	var recs []event.Record
	switch layout.Generation {
	case schema.Generation1:
		rows, err := readAll[Gen1Row](f)
		if err != nil {
			return nil, layout, err
		}
		recs = make([]event.Record, len(rows))
		for i, r := range rows {
			recs[i] = event.Record{
				WaveformLength: uint32(len(r.Rwf)),
				Samples:        event.Uint16Samples(r.Rwf),
				EventNumber:    uint64(r.EvtNo),
				Channel:        r.Channel,
				Timestamp:      r.Timestamp,
			}
		}
	case schema.Generation2:
		rows, err := readAll[Gen2Row](f)
		if err != nil {
			return nil, layout, err
		}
		recs = make([]event.Record, len(rows))
		for i, r := range rows {
			recs[i] = event.Record{
				WaveformLength: uint32(len(r.Rwf)),
				Samples:        event.Float32Samples(r.Rwf),
				EventNumber:    uint64(r.EvtNo),
				Channel:        r.Channel,
				Timestamp:      r.Timestamp,
			}
		}
	default:
		return nil, layout, fmt.Errorf("unknown generation %d", layout.Generation)
	}

	return recs, layout, nil
}

func readLayout(f *os.File) (schema.Layout, error) {
	stat, err := f.Stat()
	if err != nil {
		return schema.Layout{}, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return schema.Layout{}, fmt.Errorf("open parquet: %w", err)
	}

	genStr, ok := pf.Lookup(metaGeneration)
	if !ok {
		return schema.Layout{}, fmt.Errorf("missing %s metadata", metaGeneration)
	}
	lenStr, ok := pf.Lookup(metaLength)
	if !ok {
		return schema.Layout{}, fmt.Errorf("missing %s metadata", metaLength)
	}

	gen, err := strconv.Atoi(genStr)
	if err != nil {
		return schema.Layout{}, fmt.Errorf("parse %s: %w", metaGeneration, err)
	}
	length, err := strconv.Atoi(lenStr)
	if err != nil {
		return schema.Layout{}, fmt.Errorf("parse %s: %w", metaLength, err)
	}

	return schema.Layout{Generation: schema.Generation(gen), Length: length}, nil
}

func readAll[R any](f *os.File) ([]R, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	reader := parquet.NewGenericReader[R](f, parquet.ReadBufferSize(1024*1024))
	defer reader.Close()

	rows := make([]R, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// FileInfo holds information about a data table file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	Layout  schema.Layout
}

// GetFileInfo returns information about a data table of a container.
func GetFileInfo(dir, name string) (*FileInfo, error) {
	path := filepath.Join(dir, name+".parquet")

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	layout, err := readLayout(f)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		Layout:  layout,
	}, nil
}
