package kvstore

import "go.uber.org/zap"

// newLogger returns l, or a production zap logger if l is nil, falling
// back to a no-op logger if even that construction fails. Every
// constructor in this package threads a *zap.SugaredLogger through the
// way iamNilotpal-ignite's storage package does, except here supplying
// one is optional rather than required.
func newLogger(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	prod, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return prod.Sugar()
}
