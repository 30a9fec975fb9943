package accounts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpd/server"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	data := fmt.Sprintf(`
accounts:
  - username: ""
    password: ""
    home: %[1]s
    quota: -1
  - username: bob
    password: secret
    password_required: true
    home: %[1]s
    quota: 1048576
  - username: carol
    password: x
    home: %[1]s
    quota: 0
    active: false
`, home)

	store, skipped, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Nil(t, skipped)
	assert.Equal(t, 3, store.Len())

	ctx := context.Background()
	anon, err := store.Lookup(ctx, "anonymous")
	require.NoError(t, err)
	assert.True(t, anon.Flags.Has(server.FlagAnonymous|server.FlagActive))
	assert.False(t, anon.Flags.Has(server.FlagPasswordRequired))

	bob, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Flags.Has(server.FlagActive|server.FlagPasswordRequired))
	assert.Equal(t, int64(1<<20), bob.Quota)
	assert.True(t, bob.CheckPassword("secret"))

	carol, err := store.Lookup(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, carol.Flags.Has(server.FlagActive))
}

func TestDecodeSkipsBadRecords(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	data := fmt.Sprintf(`
accounts:
  - username: bob
    password: one
    home: %[1]s
    quota: -1
  - username: bob
    password: two
    home: %[1]s
    quota: -1
  - username: dave
    password: ""
    password_required: true
    home: %[1]s
    quota: -1
  - username: erin
    password: x
    home: %[1]s/missing
    quota: -1
  - username: frank
    password: x
    home: %[1]s
  - username: grace
    password: x
    home: %[1]s
    quota: -5
`, home)

	store, skipped, err := Decode([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, skipped)
	assert.Len(t, skipped.Errors, 5)
	assert.Equal(t, 1, store.Len())

	bob, err := store.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "one", bob.Password, "first occurrence wins")
}

func TestDecodeSyntaxError(t *testing.T) {
	t.Parallel()

	_, _, err := Decode([]byte("accounts: [\n"))
	assert.Error(t, err)
}

func TestFileStoreReload(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	write := func(user string) {
		body := fmt.Sprintf("accounts:\n  - username: %s\n    password: pw\n    home: %s\n    quota: -1\n", user, home)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}

	write("bob")
	store, skipped, err := OpenFile(path)
	require.NoError(t, err)
	assert.Nil(t, skipped)

	ctx := context.Background()
	_, err = store.Lookup(ctx, "bob")
	require.NoError(t, err)

	write("alice")
	_, err = store.Reload()
	require.NoError(t, err)

	_, err = store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, server.ErrUnknownAccount)
	_, err = store.Lookup(ctx, "alice")
	assert.NoError(t, err)

	// A broken file keeps the previous accounts.
	require.NoError(t, os.WriteFile(path, []byte("accounts: [\n"), 0o600))
	_, err = store.Reload()
	assert.Error(t, err)
	_, err = store.Lookup(ctx, "alice")
	assert.NoError(t, err)
}

func openTestSQL(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "accounts.db")
	store, err := OpenSQL(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStore(t *testing.T) {
	t.Parallel()

	store := openTestSQL(t)
	ctx := context.Background()
	home := t.TempDir()

	_, err := store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, server.ErrUnknownAccount)

	bob := &server.Account{
		Username: "bob",
		Password: "secret",
		HomeDir:  home,
		Quota:    4096,
		Flags:    server.FlagActive | server.FlagPasswordRequired,
	}
	require.NoError(t, store.Put(ctx, bob))

	got, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	// Put replaces.
	bob.Quota = server.Unlimited
	bob.Flags = server.FlagActive
	require.NoError(t, store.Put(ctx, bob))
	got, err = store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, server.Unlimited, got.Quota)
	assert.False(t, got.Flags.Has(server.FlagPasswordRequired))

	require.NoError(t, store.Put(ctx, &server.Account{
		Username: "anonymous",
		HomeDir:  home,
		Quota:    server.Unlimited,
		Flags:    server.FlagActive | server.FlagAnonymous,
	}))
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "anonymous", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)

	require.NoError(t, store.Delete(ctx, "bob"))
	_, err = store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, server.ErrUnknownAccount)
}

func TestSQLStoreInvalidRowIsUnknown(t *testing.T) {
	t.Parallel()

	store := openTestSQL(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &server.Account{
		Username: "ghost",
		Password: "x",
		HomeDir:  filepath.Join(t.TempDir(), "gone"),
		Quota:    server.Unlimited,
		Flags:    server.FlagActive,
	}))

	_, err := store.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, server.ErrUnknownAccount)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &SQLStore{backend: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{backend: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenUnsupportedBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "ldap", "", nil)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
	_, err = OpenSQL(context.Background(), "mysql", "", nil)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestOpenFileBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.yaml")
	body := fmt.Sprintf("accounts:\n  - username: bob\n    password: pw\n    home: %s\n    quota: -1\n  - username: nohome\n    password: pw\n    quota: -1\n", t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	store, err := Open(context.Background(), "file", path, nil)
	require.NoError(t, err)
	defer store.Close()

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Username)
}
