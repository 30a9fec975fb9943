package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/gonzalop/ftpd/server"
)

// ErrUnsupportedBackend is returned by OpenSQL and Open for an unknown backend.
var ErrUnsupportedBackend = errors.New("accounts: unsupported backend")

const schema = `
CREATE TABLE IF NOT EXISTS ftp_accounts (
	username          TEXT    NOT NULL PRIMARY KEY,
	password          TEXT    NOT NULL DEFAULT '',
	home              TEXT    NOT NULL,
	quota             BIGINT  NOT NULL DEFAULT -1,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	anonymous         BOOLEAN NOT NULL DEFAULT FALSE,
	password_required BOOLEAN NOT NULL DEFAULT TRUE
)`

const accountColumns = `username, password, home, quota, active, anonymous, password_required`

// SQLStore reads accounts from the ftp_accounts table on every lookup, so
// edits take effect on the next login.
type SQLStore struct {
	db      *sql.DB
	backend string
	logger  *slog.Logger
}

// OpenSQL connects to an "sqlite" or "postgres" database and creates the
// accounts table if needed.
func OpenSQL(ctx context.Context, backend, dsn string, logger *slog.Logger) (*SQLStore, error) {
	var driver string
	switch backend {
	case "sqlite":
		driver = "sqlite"
	case "postgres":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("accounts: open %s: %w", backend, err)
	}
	if backend == "sqlite" {
		// Wait for locks held by "ftpd accounts add" instead of failing.
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("accounts: set busy_timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("accounts: create table: %w", err)
	}
	return &SQLStore{db: db, backend: backend, logger: logger}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.backend != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*server.Account, error) {
	var (
		a                         server.Account
		active, anon, passwordReq bool
	)
	if err := row.Scan(&a.Username, &a.Password, &a.HomeDir, &a.Quota, &active, &anon, &passwordReq); err != nil {
		return nil, err
	}
	if active {
		a.Flags |= server.FlagActive
	}
	if anon {
		a.Flags |= server.FlagAnonymous
	}
	if passwordReq {
		a.Flags |= server.FlagPasswordRequired
	}
	return &a, nil
}

// Lookup implements server.AccountStore. A row that fails validation, for
// example because its home directory is gone, is treated as unknown.
func (s *SQLStore) Lookup(ctx context.Context, username string) (*server.Account, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+accountColumns+` FROM ftp_accounts WHERE username = ?`), username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, server.ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: lookup %q: %w", username, err)
	}
	if err := a.Validate(); err != nil {
		s.logger.Warn("invalid account record", "user", username, "error", err)
		return nil, server.ErrUnknownAccount
	}
	return a, nil
}

// Put inserts or replaces an account.
func (s *SQLStore) Put(ctx context.Context, a *server.Account) error {
	if a.Username == "" {
		return errors.New("accounts: username is empty")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO ftp_accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (username) DO UPDATE SET
	password = excluded.password,
	home = excluded.home,
	quota = excluded.quota,
	active = excluded.active,
	anonymous = excluded.anonymous,
	password_required = excluded.password_required`),
		a.Username, a.Password, a.HomeDir, a.Quota,
		a.Flags.Has(server.FlagActive),
		a.Flags.Has(server.FlagAnonymous),
		a.Flags.Has(server.FlagPasswordRequired),
	)
	if err != nil {
		return fmt.Errorf("accounts: put %q: %w", a.Username, err)
	}
	return nil
}

// Delete removes an account. Removing an unknown account is not an error.
func (s *SQLStore) Delete(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM ftp_accounts WHERE username = ?`), username); err != nil {
		return fmt.Errorf("accounts: delete %q: %w", username, err)
	}
	return nil
}

// List returns every row sorted by name, valid or not.
func (s *SQLStore) List(ctx context.Context) ([]*server.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM ftp_accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("accounts: list: %w", err)
	}
	defer rows.Close()

	var out []*server.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("accounts: list: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
