// Package journal is the spill log of a failed writer.
//
// When a writer can no longer reach its store, the records it had accepted
// but not made durable are appended here instead of being lost. A journal is
// a directory of segment files:
//
//	Header:  8 bytes magic + 4 bytes version
//	Records: [4 bytes length][4 bytes crc32][payload]
//
// Each payload is one batch of records (see encoding.go). Segments are
// fsynced on every append.
package journal
