// Package snapshot persists rowstore models by name.
//
// Each snapshot is the model's schema, rows (in store order) and sequence
// number, encoded with MsgPack, compressed with zstd and protected by an
// xxhash64 checksum. Snapshots live in a Bolt file, or in memory for tests.
package snapshot
