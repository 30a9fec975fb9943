package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gonzalop/ftpd/internal/ftptest"
)

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

// memSink keeps every recorded group in memory.
type memSink struct {
	mu     sync.Mutex
	groups [][]Event
}

func (m *memSink) Record(events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, append([]Event(nil), events...))
}

func (m *memSink) find(msg string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		for _, ev := range g {
			if ev.Message == msg {
				return ev, true
			}
		}
	}
	return Event{}, false
}

// waitFor polls until an event named msg shows up.
func (m *memSink) waitFor(msg string, timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if ev, ok := m.find(msg); ok {
			return ev, true
		}
		if time.Now().After(deadline) {
			return Event{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (m *memSink) groupsWith(msg string) [][]Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]Event
	for _, g := range m.groups {
		for _, ev := range g {
			if ev.Message == msg {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv   *Server
	addr  string
	home  string
	audit *memSink
}

// newTestServer starts a server on 127.0.0.1 with an "anonymous" account and
// a password account "bob"/"secret", both homed in a fresh temp directory.
// opts are applied after the defaults and may override them.
func newTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	home := t.TempDir()
	accounts, err := NewStaticAccounts(
		&Account{
			Username: AnonymousUser,
			HomeDir:  home,
			Quota:    Unlimited,
			Flags:    FlagActive | FlagAnonymous,
		},
		&Account{
			Username: "bob",
			Password: "secret",
			HomeDir:  home,
			Quota:    Unlimited,
			Flags:    FlagActive | FlagPasswordRequired,
		},
	)
	fatalIfErr(t, err, "accounts")

	audit := &memSink{}
	base := []Option{
		WithAccounts(accounts),
		WithAuditSink(audit),
		WithLogger(discardLogger()),
		WithHostname("test.local"),
		WithFailLoginDelay(10 * time.Millisecond),
		WithReapInterval(20 * time.Millisecond),
		WithDataTimeout(2 * time.Second),
	}
	srv, err := NewServer("127.0.0.1:0", append(base, opts...)...)
	fatalIfErr(t, err, "NewServer")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "listen")

	go func() {
		if err := srv.Serve(ln); err != nil && err != ErrServerClosed {
			t.Logf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("Shutdown: %v", err)
		}
	})

	return &testEnv{srv: srv, addr: ln.Addr().String(), home: home, audit: audit}
}

// dial opens a raw control connection and checks the greeting.
func (e *testEnv) dial(t *testing.T) *ftptest.Conn {
	t.Helper()
	c, greeting, err := ftptest.DialGreeting(e.addr, 3*time.Second)
	fatalIfErr(t, err, "dial")
	if greeting.Code != 220 {
		c.Close()
		t.Fatalf("greeting: got %d %q", greeting.Code, greeting.Message)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// login dials and logs in as user.
func (e *testEnv) login(t *testing.T, user, pass string) *ftptest.Conn {
	t.Helper()
	c := e.dial(t)
	r, err := c.Login(user, pass)
	fatalIfErr(t, err, "login")
	if r.Code != 230 {
		t.Fatalf("login %s: got %d %q", user, r.Code, r.Message)
	}
	return c
}

// expect sends a command and fails the test unless the reply has code.
func expect(t *testing.T, c *ftptest.Conn, code int, format string, args ...any) *ftptest.Reply {
	t.Helper()
	r, err := c.Cmd(format, args...)
	fatalIfErr(t, err, "command %q", format)
	if r.Code != code {
		t.Fatalf("%q: expected %d, got %d %q", format, code, r.Code, r.Message)
	}
	return r
}

// expectReply reads the next reply without sending anything.
func expectReply(t *testing.T, c *ftptest.Conn, code int) *ftptest.Reply {
	t.Helper()
	r, err := c.ReadReply()
	fatalIfErr(t, err, "read reply")
	if r.Code != code {
		t.Fatalf("expected %d, got %d %q", code, r.Code, r.Message)
	}
	return r
}

// pasv issues PASV and connects to the advertised address.
func pasv(t *testing.T, c *ftptest.Conn) net.Conn {
	t.Helper()
	r := expect(t, c, 227, "PASV")
	addr, err := ftptest.ParsePASV(r.Message)
	fatalIfErr(t, err, "parse PASV")
	data, err := net.DialTimeout("tcp", addr, 2*time.Second)
	fatalIfErr(t, err, "dial data")
	t.Cleanup(func() { data.Close() })
	return data
}

// readAll drains a data connection.
func readAll(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	b, err := io.ReadAll(conn)
	fatalIfErr(t, err, "read data")
	return b
}
