// Package duckdb implements the single-file recording container and the
// read-side summaries used by the inspect command.
//
// A container <name>.duckdb holds config_rec and config_dig (key, value)
// tables, a data table whose sample column is USMALLINT[] or FLOAT[], and a
// digirec_layout table recording the layout each data table was created with.
package duckdb
