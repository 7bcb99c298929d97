// Package log provides the tracker's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/outputs pipeline, keeping output consistent across the codebase.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("repo"), log.Int64("device", 42))
//	l.Info("subscribed", log.Int("listeners", 3))
//
// Use ApplyConfig to build a logger from a declarative Config (text or JSON
// formatting, optional file output). To integrate with libraries expecting a
// *log.Logger, use ToStdLogger or RedirectStdLog.
package log
