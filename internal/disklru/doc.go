// Package disklru implements the journaled, size-bounded, least-recently-used
// disk store that backs the object cache. Every entry is a fixed number of
// independently written byte streams ("values") stored as <key>.<index>
// files; edits stage streams as <key>.<index>.tmp and publish them together
// on Commit, so readers only ever see complete entries. An append-only
// journal records DIRTY/CLEAN/REMOVE/READ operations and is replayed on Open
// to rebuild the index and the recency order; when the journal grows
// redundant it is compacted through journal.tmp + rename.
//
// All file access goes through a billy.Filesystem, which defaults to an
// osfs rooted at the cache directory and can be swapped in tests.
package disklru
