package daemon

import "go.uber.org/zap"

// newLogger builds the daemon's structured logger: zap.NewProduction,
// which writes JSON lines at Info level and above to stderr. It falls
// back to a no-op logger if that cannot be built.
func newLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
