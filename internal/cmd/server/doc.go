// Package serverrun boots the tracker server: runtime, pipeline and the
// HTTP read API, with signal-aware shutdown.
package serverrun
