// Package cache implements the named, versioned cache buckets the agent
// stores responses in. A bucket maps a request Locator to an immutable stored
// Response (status, headers, body). Two drivers are provided: a disk store
// laid out as StoragePath/<bucket>/<path>.entry with temp file + rename
// replacement, and a bounded in-memory LRU store for ephemeral deployments
// and tests. Buckets are enumerated with Keys and dropped with Delete, which
// is how stale versions are garbage-collected on activation.
package cache
