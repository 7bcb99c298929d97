// Package runtime assembles the storage, cache, history and repository
// layers into a single-node instance with one lifecycle.
package runtime
