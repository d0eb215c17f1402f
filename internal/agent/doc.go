// Package agent is the offline caching agent itself. It owns the lifecycle
// of the versioned cache bucket (Install seeds the asset manifest, Activate
// drops buckets left by older versions), intercepts every request (documents
// are revalidated against the origin, everything else is served cache-first
// with a network fallback) and reports refreshed documents through the
// Notifier port. Network access goes through the Fetcher port so the HTTP
// layer, the cache store and the message fan-out can all be replaced in tests.
package agent
