// Package logger adapts popular logging libraries to zedstore's Logger
// interface, so an application's existing logger plugs into the store
// without boilerplate. The standard library's slog.Logger satisfies
// zedstore.Logger directly and needs no adapter.
//
// Example with zap:
//
//	zapLogger, _ := zap.NewProduction()
//	db, err := zedstore.Open("columns.db",
//		zedstore.WithLogger(logger.NewZap(zapLogger)))
package logger
