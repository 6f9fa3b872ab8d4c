package bptree

import "go.uber.org/zap"

// defaultLogger is used by any Tree that isn't given one explicitly. It
// is a no-op logger so that the core stays silent by default.
var defaultLogger = zap.NewNop()

// SetDefaultLogger replaces the package-wide fallback logger used by
// trees opened without an explicit WithLogger option. The storage/buffer
// and storage/store collaborators take their own logger and do not use it.
func SetDefaultLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	defaultLogger = l
}
