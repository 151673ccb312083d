// Package persist stores device registry snapshots in SQLite.
//
// The store keeps exactly one row: the most recent snapshot. The payload
// is the JSON encoding of device.Snapshot, optionally zstd-compressed.
// Persistence is best-effort; the registry stays authoritative in memory.
package persist
