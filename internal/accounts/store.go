package accounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpd/server"
)

// Store is an AccountStore that can enumerate its accounts.
type Store interface {
	server.AccountStore
	List(ctx context.Context) ([]*server.Account, error)
	Close() error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLStore)(nil)
)

// Open returns the store for backend. For "file" the source is the path of
// the YAML file; for "sqlite" and "postgres" it is the DSN. Records skipped
// while loading a file are logged.
func Open(ctx context.Context, backend, source string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case "file":
		f, skipped, err := OpenFile(source)
		if err != nil {
			return nil, err
		}
		LogSkipped(logger, source, skipped)
		return f, nil
	case "sqlite", "postgres":
		return OpenSQL(ctx, backend, source, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
}

// LogSkipped writes one warning per rejected record.
func LogSkipped(logger *slog.Logger, source string, skipped *multierror.Error) {
	for _, err := range skipped.WrappedErrors() {
		logger.Warn("account record skipped", "source", source, "error", err)
	}
}
