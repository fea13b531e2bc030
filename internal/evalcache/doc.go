// Package evalcache is the write-back cache between interactive evaluation
// edits and the metadata embedded in each image.
//
// Reads resolve in the order pending change, read-through cache, store.
// Writes only touch memory; Flush and FlushAll persist them. All shared
// state lives in a mutex-guarded struct whose methods never perform I/O, so
// store reads and writes always run with the lock released.
package evalcache
