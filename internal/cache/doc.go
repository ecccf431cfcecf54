// Package cache stores arbitrary Go values together with a side-channel of
// named metadata fields under string keys on disk. Each record is three
// streams in the disklru engine: a presence marker (0), the encoded value (1)
// and the encoded metadata (2). Writes stage the value and metadata first and
// hand back a tracked marker stream; closing that stream commits all three
// streams together, or aborts them if any tracked write failed, so readers
// never observe a partially written record. External keys are hashed to fixed
// width hex before reaching the engine, and a process-wide DirRegistry keeps
// two caches from sharing one directory.
package cache
