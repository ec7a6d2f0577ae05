// Package parquet implements the directory-based recording container.
//
// A container <name>.rwf/ holds:
//   - config_rec.parquet and config_dig.parquet, key/value tables written at open
//   - rwf.parquet, the data table, created on the first append
//
// The data table's row type is chosen from the writer's layout: Gen1Row for
// raw uint16 waveforms and Gen2Row for float32 ones. Every Flush closes the
// current row group and fsyncs the file. The footer that makes the file
// readable is only written on Close.
package parquet
