package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Identity reported in the greeting and by SYST.
const (
	ServerName = "ftpd"
	Version    = "0.9"
)

// Defaults for values not set through options.
const (
	DefaultIdleTimeout     = 900 * time.Second
	DefaultFailLoginDelay  = 5 * time.Second
	DefaultConnectionLimit = 50
	DefaultReapInterval    = time.Second
	DefaultDataTimeout     = 30 * time.Second

	// DefaultDataPort is dialled on the peer when a transfer starts without
	// PORT, PASV or EPSV.
	DefaultDataPort = 20
)

// Server is the FTP server.
//
// It accepts control connections and hands them to a supervisor, which
// starts one session goroutine per admitted connection and reaps them when
// they end.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Call Shutdown() to stop accepting and close every session
//
// Basic example:
//
//	accounts, _ := server.NewStaticAccounts(&server.Account{
//	    Username: "anonymous",
//	    HomeDir:  "/srv/ftp",
//	    Quota:    server.Unlimited,
//	    Flags:    server.FlagActive | server.FlagAnonymous,
//	})
//	s, err := server.NewServer(":21", server.WithAccounts(accounts))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr string

	accounts AccountStore
	logger   *slog.Logger
	audit    AuditSink
	// ownAudit is set when the server created audit and must close it.
	ownAudit *AuditLog
	metrics  MetricsCollector

	idleTimeout      time.Duration
	failDelay        time.Duration
	defaultQuota     int64
	connLimit        int
	reapInterval     time.Duration
	dataTimeout      time.Duration
	pasvAddress      net.IP
	pasvPorts        portRange
	bandwidth        int64
	bounceProtection bool
	disabled         map[string]struct{}

	helloMessage string
	helloLines   []string
	hostname     string

	nextPassivePort atomic.Int32

	sup *supervisor

	mu         sync.Mutex
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	supOnce    sync.Once
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a server for addr ("host:port" or ":port").
// The account store must be provided through WithAccounts.
//
// Default values:
//   - Logger: slog.Default()
//   - IdleTimeout: 15 minutes
//   - FailLoginDelay: 5 seconds
//   - ConnectionLimit: 50
//   - DefaultQuota: Unlimited
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:         addr,
		logger:       slog.Default(),
		idleTimeout:  DefaultIdleTimeout,
		failDelay:    DefaultFailLoginDelay,
		defaultQuota: Unlimited,
		connLimit:    DefaultConnectionLimit,
		reapInterval: DefaultReapInterval,
		dataTimeout:  DefaultDataTimeout,
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.accounts == nil {
		return nil, fmt.Errorf("account store is required (use WithAccounts option)")
	}
	if s.hostname == "" {
		s.hostname, _ = os.Hostname()
		if s.hostname == "" {
			s.hostname = "localhost"
		}
	}
	if s.audit == nil {
		s.ownAudit = NewAuditLog(s.logger, 0)
		s.audit = s.ownAudit
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sup = newSupervisor(s.connLimit, s.reapInterval, s.metrics)
	return s, nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve accepts control connections on l until Shutdown is called.
//
// The connection limit is read once when Serve starts. A connection that
// arrives while active plus queued sessions are at the limit gets a 421
// reply and is closed without ever becoming a session.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.supOnce.Do(func() { go s.sup.run(s.ctx) })

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	limit := s.connLimit
	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.logger.Error("accept error", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if limit > 0 && s.sup.count() >= limit {
			s.reject(conn, "limit_reached", limit)
			continue
		}

		sess := newSession(s, conn)
		if !s.sup.enqueue(s.ctx, sess) {
			s.reject(conn, "queue_full", limit)
			continue
		}
		s.audit.Record(Event{
			Category:  CategoryConnection,
			Level:     LevelNormal,
			SessionID: sess.id,
			Message:   "connection_accepted",
			Attrs:     []slog.Attr{slog.String("remote_ip", sess.remoteIP)},
		})
		if s.metrics != nil {
			s.metrics.RecordConnection(true, "accepted")
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// reject answers 421 and closes a connection that was not admitted.
func (s *Server) reject(conn net.Conn, reason string, limit int) {
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}
	s.audit.Record(Event{
		Category: CategoryConnection,
		Level:    LevelWarning,
		Message:  "connection_rejected",
		Attrs: []slog.Attr{
			slog.String("remote_ip", ip),
			slog.String("reason", reason),
			slog.Int("limit", limit),
		},
	})
	if s.metrics != nil {
		s.metrics.RecordConnection(false, reason)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	fmt.Fprintf(conn, "421 There are too many clients connected, try again later.\r\n")
	conn.Close()
}

// Shutdown stops the listener, closes every session and waits for their
// goroutines to finish or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.cancel()
	s.sup.stop()

	if werr := s.sup.wait(ctx); werr != nil {
		return werr
	}
	if s.ownAudit != nil {
		s.ownAudit.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// ActiveSessions returns the number of admitted sessions that have not been
// reaped yet.
func (s *Server) ActiveSessions() int {
	return s.sup.activeCount()
}
