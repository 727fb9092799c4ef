// Package util provides utility components for the database implementations
// that satisfy the db.KVDB interface.
//
// The package contains:
//   - keyqueue: A lock-free Multi-Producer Single-Consumer (MPSC) queue with a pull-based
//     consumer, used as the ordered key feed of every change log
//   - functions: Seed generation, FNV-1a string hashing and shard selection
package util
