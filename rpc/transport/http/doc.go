// Package http implements the rpc transport over HTTP.
//
// Requests are posted to /db/{database}. The server additionally exposes the
// process metrics in the Prometheus text format on GET /metrics.
//
// The client selects the endpoint round-robin and retries failed connection
// attempts on the next endpoint. It is safe for concurrent use.
package http
