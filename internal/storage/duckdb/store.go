package duckdb

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// Extension is the container file suffix.
const Extension = ".duckdb"

const layoutTable = "digirec_layout"

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store is an open DuckDB container.
type Store struct {
	mu      sync.Mutex
	path    string
	db      *sql.DB
	layouts map[string]schema.Layout
	inserts map[string]*sql.Stmt
	closed  bool
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// One connection keeps every statement on the same transaction context
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + layoutTable +
		` (tbl VARCHAR PRIMARY KEY, generation INTEGER, length INTEGER)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create layout table: %w", err)
	}

	return &Store{
		path:    path,
		db:      db,
		layouts: make(map[string]schema.Layout),
		inserts: make(map[string]*sql.Stmt),
	}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// WriteConfigTable creates name(key, value) and fills it in one transaction.
func (s *Store) WriteConfigTable(name string, rows []loader.KV) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Classify(errors.ErrStorageWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE OR REPLACE TABLE ` + name + ` (key VARCHAR, value VARCHAR)`); err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("create %s: %w", name, err))
	}

	stmt, err := tx.Prepare(`INSERT INTO ` + name + ` VALUES (?, ?)`)
	if err != nil {
		return errors.Classify(errors.ErrStorageWrite, err)
	}
	defer stmt.Close()

	for _, kv := range rows {
		if _, err := stmt.Exec(kv.Key, kv.Value); err != nil {
			return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("insert %s: %w", name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Classify(errors.ErrStorageWrite, err)
	}
	return nil
}

// AppendRecords inserts recs into table in one transaction, creating the
// table with layout on first use.
func (s *Store) AppendRecords(name string, layout schema.Layout, recs []event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	have, ok := s.layouts[name]
	if !ok {
		if err := s.createTable(name, layout); err != nil {
			return err
		}
		have = layout
	} else if have != layout {
		return errors.NewSchemaMismatch(have.String(), layout.String())
	}

	for i := range recs {
		if err := have.Check(&recs[i]); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Classify(errors.ErrStorageWrite, err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.inserts[name])
	defer stmt.Close()

	var buf []byte
	for i := range recs {
		r := &recs[i]
		buf = appendList(buf[:0], r.Samples)
		if _, err := stmt.Exec(uint32(r.EventNumber), r.Channel, r.Timestamp, string(buf)); err != nil {
			return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("insert evt %d: %w", r.EventNumber, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) createTable(name string, layout schema.Layout) error {
	if !tableName.MatchString(name) || name == layoutTable {
		return fmt.Errorf("invalid table name %q", name)
	}
	if layout.IsZero() {
		return errors.NewSchemaMismatch("fixed layout", "zero layout")
	}

	sampleType, err := sqlSampleType(layout.Generation)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE TABLE %s (evt_no UINTEGER, channel UINTEGER, "timestamp" UBIGINT, rwf %s)`, name, sampleType)
	if _, err := s.db.Exec(ddl); err != nil {
		return errors.Classify(errors.ErrStorageOpen, fmt.Errorf("create %s: %w", name, err))
	}
	if _, err := s.db.Exec(`INSERT INTO `+layoutTable+` VALUES (?, ?, ?)`,
		name, int(layout.Generation), layout.Length); err != nil {
		return errors.Classify(errors.ErrStorageOpen, fmt.Errorf("record layout: %w", err))
	}

	stmt, err := s.db.Prepare(fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, CAST(? AS %s))`, name, sampleType))
	if err != nil {
		return errors.Classify(errors.ErrStorageOpen, fmt.Errorf("prepare insert: %w", err))
	}

	s.layouts[name] = layout
	s.inserts[name] = stmt
	return nil
}

func sqlSampleType(g schema.Generation) (string, error) {
	switch g {
	case schema.Generation1:
		return "USMALLINT[]", nil
	case schema.Generation2:
		return "FLOAT[]", nil
	default:
		return "", errors.NewSchemaMismatch("gen1 or gen2", g.String())
	}
}

// appendList renders samples as a DuckDB list literal, e.g. [1,2,3].
func appendList(buf []byte, s event.Samples) []byte {
	buf = append(buf, '[')
	if s.U16 != nil {
		for i, v := range s.U16 {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendUint(buf, uint64(v), 10)
		}
	} else {
		for i, v := range s.F32 {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
		}
	}
	return append(buf, ']')
}

// Flush checkpoints the write-ahead log into the database file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}

	if _, err := s.db.Exec(`CHECKPOINT`); err != nil {
		return errors.Classify(errors.ErrStorageWrite, fmt.Errorf("checkpoint: %w", err))
	}
	return nil
}

// Close checkpoints and closes the database. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range s.inserts {
		stmt.Close()
	}

	var firstErr error
	if _, err := s.db.Exec(`CHECKPOINT`); err != nil {
		firstErr = fmt.Errorf("checkpoint: %w", err)
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close duckdb: %w", err)
	}
	return firstErr
}

// =============================================================================
// Read side
// =============================================================================

// ReadConfigTable reads a key/value table from a container file.
func ReadConfigTable(path, name string) ([]loader.KV, error) {
	if !tableName.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}

	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT key, value FROM ` + name + ` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var kvs []loader.KV
	for rows.Next() {
		var kv loader.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		kvs = append(kvs, kv)
	}
	return kvs, rows.Err()
}

// ReadRecords reads every row of a data table in insertion order.
func ReadRecords(path, name string) ([]event.Record, schema.Layout, error) {
	if !tableName.MatchString(name) {
		return nil, schema.Layout{}, fmt.Errorf("invalid table name %q", name)
	}

	db, err := openReadOnly(path)
	if err != nil {
		return nil, schema.Layout{}, err
	}
	defer db.Close()

	layout, err := queryLayout(db, name)
	if err != nil {
		return nil, layout, err
	}

	rows, err := db.Query(`SELECT evt_no, channel, "timestamp", CAST(rwf AS VARCHAR) FROM ` + name + ` ORDER BY rowid`)
	if err != nil {
		return nil, layout, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var recs []event.Record
	for rows.Next() {
		var (
			evtNo uint32
			r     event.Record
			list  string
		)
		if err := rows.Scan(&evtNo, &r.Channel, &r.Timestamp, &list); err != nil {
			return nil, layout, err
		}
		r.EventNumber = uint64(evtNo)
		if r.Samples, err = parseList(list, layout.Generation); err != nil {
			return nil, layout, err
		}
		r.WaveformLength = uint32(r.Samples.Len())
		recs = append(recs, r)
	}
	return recs, layout, rows.Err()
}

// ReadLayout returns the layout a data table was created with.
func ReadLayout(path, name string) (schema.Layout, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return schema.Layout{}, err
	}
	defer db.Close()
	return queryLayout(db, name)
}

func queryLayout(db *sql.DB, name string) (schema.Layout, error) {
	var layout schema.Layout
	var gen int
	err := db.QueryRow(`SELECT generation, length FROM `+layoutTable+` WHERE tbl = ?`, name).
		Scan(&gen, &layout.Length)
	if err != nil {
		return layout, fmt.Errorf("read layout of %s: %w", name, err)
	}
	layout.Generation = schema.Generation(gen)
	return layout, nil
}

func parseList(s string, g schema.Generation) (event.Samples, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var fields []string
	if s != "" {
		fields = strings.Split(s, ",")
	}

	if g == schema.Generation2 {
		out := make([]float32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				return event.Samples{}, fmt.Errorf("parse sample %d: %w", i, err)
			}
			out[i] = float32(v)
		}
		return event.Float32Samples(out), nil
	}

	out := make([]uint16, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
		if err != nil {
			return event.Samples{}, fmt.Errorf("parse sample %d: %w", i, err)
		}
		out[i] = uint16(v)
	}
	return event.Uint16Samples(out), nil
}

func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}
