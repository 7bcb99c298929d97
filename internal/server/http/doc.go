// Package httpserver exposes the read API over HTTP: latest snapshots,
// per-device position streams and the raw event stream as SSE, plus cache
// statistics and position history.
package httpserver
