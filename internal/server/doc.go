// Package server hosts the Fiber HTTP service that fronts the caching agent:
// the request-id middleware, the catch-all interception route and the shared
// upstream HTTP client. Diagnostics live under the reserved /-/ prefix and are
// registered by the routes subpackage; everything else is handed to the
// injected ProxyHandler.
package server
