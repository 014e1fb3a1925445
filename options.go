package rgssad

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithReadOnly opens the archive for reading only. Write handles and flushes
// are refused with fs.ErrPermission, and OpenPath opens the backing file
// without write access.
func WithReadOnly() Option {
	return func(a *Archive) {
		a.readOnly = true
	}
}

// WithLogger sets a structured logger for operational events (parsing,
// flushes, relocations). By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// applyOptions collects option effects without touching a real archive,
// for callers that need configuration before construction.
func applyOptions(opts []Option) *Archive {
	var a Archive
	for _, opt := range opts {
		opt(&a)
	}
	return &a
}
