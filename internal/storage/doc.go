// Package storage defines the durable per-channel container a writer records
// into, and selects its backend.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│ Write Queue │────▶│   Writer    │────▶│    Store    │  parquet | duckdb
//	│ (per chan)  │     │ batch/flush │     │             │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │ fatal error
//	                           ▼
//	                    ┌─────────────┐
//	                    │   Journal   │  spill of accepted, unwritten records
//	                    └─────────────┘
//
// A container holds two static configuration tables, written once at open,
// and one data table created on the first append with the writer's fixed
// layout (see package schema). Each AppendRecords+Flush pair is one durable
// write.
package storage
