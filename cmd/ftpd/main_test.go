package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpd/internal/accounts"
	"github.com/gonzalop/ftpd/server"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ftpd ver. "+server.Version), out)
}

func TestAccountsAddAndList(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	dsn := filepath.Join(dir, "accounts.db")
	cfgPath := writeConfig(t, fmt.Sprintf("[accounts]\nbackend = \"sqlite\"\ndsn = %q\n", dsn))

	out, err := run(t, "--config", cfgPath, "accounts", "add", "bob",
		"--home", home, "--password", "secret", "--quota", "10MiB")
	require.NoError(t, err)
	assert.Contains(t, out, "account bob saved")

	_, err = run(t, "--config", cfgPath, "accounts", "add", "anonymous",
		"--home", home, "--no-password", "--anonymous")
	require.NoError(t, err)

	out, err = run(t, "--config", cfgPath, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "anonymous")
	assert.Contains(t, out, "10 MiB")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "2 account(s)")

	// The password is stored hashed and still checks.
	store, err := accounts.OpenSQL(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)
	defer store.Close()
	bob, err := store.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", bob.Password)
	assert.True(t, bob.CheckPassword("secret"))
	assert.Equal(t, int64(10<<20), bob.Quota)
}

func TestAccountsAddRejectsInvalid(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "accounts.db")
	cfgPath := writeConfig(t, fmt.Sprintf("[accounts]\nbackend = \"sqlite\"\ndsn = %q\n", dsn))

	_, err := run(t, "--config", cfgPath, "accounts", "add", "bob",
		"--home", filepath.Join(t.TempDir(), "missing"), "--password", "x")
	assert.Error(t, err)

	_, err = run(t, "--config", cfgPath, "accounts", "add", "bob", "--home", t.TempDir())
	assert.Error(t, err, "password required but empty")
}

func TestAccountsAddNeedsSQLBackend(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(file, []byte("accounts: []\n"), 0o600))
	cfgPath := writeConfig(t, fmt.Sprintf("[accounts]\nbackend = \"file\"\nfile = %q\n", file))

	_, err := run(t, "--config", cfgPath, "accounts", "add", "bob", "--home", dir, "--password", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite or postgres")
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "accounts", "list")
	assert.Error(t, err)
}

func TestParseQuota(t *testing.T) {
	for in, want := range map[string]int64{
		"-1":    -1,
		"0":     0,
		"4096":  4096,
		"1KiB":  1024,
		"10MiB": 10 << 20,
		"1 kB":  1000,
	} {
		got, err := parseQuota(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseQuota("lots")
	assert.Error(t, err)
}
