package server

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interop with a stock client library: it probes FEAT, switches to TYPE I,
// and prefers EPSV over PASV.
func TestStockClient(t *testing.T) {
	t.Parallel()
	env := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(env.home, "pub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.home, "pub", "hello.txt"), []byte("hello\n"), 0o644))

	c, err := ftp.Dial(env.addr, ftp.DialWithTimeout(3*time.Second))
	require.NoError(t, err)
	defer c.Quit()

	require.NoError(t, c.Login("bob", "secret"))

	dir, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, env.home, dir)

	require.NoError(t, c.ChangeDir("pub"))
	dir, err = c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.home, "pub"), dir)

	entries, err := c.List("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name)
	assert.Equal(t, uint64(6), entries[0].Size)
	assert.Equal(t, ftp.EntryTypeFile, entries[0].Type)

	r, err := c.Retr("hello.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello\n", string(got), "binary mode after login")

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, c.Stor("upload.bin", bytes.NewReader(payload)))
	stored, err := os.ReadFile(filepath.Join(env.home, "pub", "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	size, err := c.FileSize("upload.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	names, err := c.NameList("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hello.txt", "upload.bin"}, names)

	assert.Error(t, c.ChangeDir("missing"))
	_, err = c.Retr("missing")
	assert.Error(t, err)
}

func TestStockClientPassiveOnly(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, WithDisabledCommands("EPSV"))
	require.NoError(t, os.WriteFile(filepath.Join(env.home, "f"), []byte("pasv"), 0o644))

	c, err := ftp.Dial(env.addr, ftp.DialWithTimeout(3*time.Second))
	require.NoError(t, err)
	defer c.Quit()
	require.NoError(t, c.Login("anonymous", "guest@"))

	r, err := c.Retr("f")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "pasv", string(got))
}
