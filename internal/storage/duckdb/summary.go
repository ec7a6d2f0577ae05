package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
)

// Summary describes the data table of one container.
type Summary struct {
	Source         string
	Rows           int64
	FirstEvent     uint64
	LastEvent      uint64
	FirstTimestamp uint64
	LastTimestamp  uint64
	Channels       []uint32
}

// Summarize queries the data table of a container. path may be a .duckdb
// file or a parquet container directory; both are read through DuckDB.
func Summarize(ctx context.Context, path string) (*Summary, error) {
	var (
		db     *sql.DB
		source string
		args   []any
		err    error
	)

	if strings.HasSuffix(path, Extension) {
		db, err = openReadOnly(path)
		source = "rwf"
	} else {
		// In-memory database over the parquet file
		db, err = sql.Open("duckdb", "")
		source = "read_parquet(?)"
		args = []any{filepath.Join(path, "rwf.parquet")}
	}
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := `
		SELECT
			count(*),
			coalesce(min(evt_no), 0), coalesce(max(evt_no), 0),
			coalesce(min("timestamp"), 0), coalesce(max("timestamp"), 0)
		FROM ` + source

	s := &Summary{Source: path}
	var firstEvt, lastEvt uint32
	if err := db.QueryRowContext(ctx, query, args...).Scan(
		&s.Rows, &firstEvt, &lastEvt, &s.FirstTimestamp, &s.LastTimestamp,
	); err != nil {
		return nil, fmt.Errorf("summarize %s: %w", path, err)
	}
	s.FirstEvent, s.LastEvent = uint64(firstEvt), uint64(lastEvt)

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT channel FROM `+source+` ORDER BY channel`, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ch uint32
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		s.Channels = append(s.Channels, ch)
	}
	return s, rows.Err()
}

// String renders the summary on one line.
func (s *Summary) String() string {
	return fmt.Sprintf("%s: %d rows, evt %d..%d, ts %d..%d, channels %v",
		s.Source, s.Rows, s.FirstEvent, s.LastEvent, s.FirstTimestamp, s.LastTimestamp, s.Channels)
}
