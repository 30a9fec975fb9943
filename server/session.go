package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// authState is the login progress of a session. It only moves forward.
type authState int

const (
	stateUnauthenticated authState = iota
	statePasswordPending
	stateAuthenticated
)

// session is one control connection. All fields except those under mu are
// owned by the session goroutine.
type session struct {
	server *Server
	ctx    context.Context
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	done   chan struct{}

	id       string
	remoteIP string
	remote   net.IP
	localIP  net.IP

	state   authState
	user    string
	account *Account
	home    string
	workDir string
	ascii   bool

	// At most one of passive and active is set.
	passive *passiveChannel
	active  *net.TCPAddr

	bytesTransferred int64
	dataConns        int

	lastCode int
	quit     bool

	mu       sync.Mutex
	dataConn net.Conn
}

// commandHandlers maps FTP commands to their handler functions.
// It is filled in init because HELP consults it.
var commandHandlers map[string]func(*session, string)

func init() {
	commandHandlers = map[string]func(*session, string){
		// Access control
		"USER": (*session).handleUSER,
		"PASS": (*session).handlePASS,
		"ACCT": (*session).handleACCT,
		"QUIT": (*session).handleQUIT,
		"NOOP": (*session).handleNOOP,

		// Navigation and listing
		"PWD":  (*session).handlePWD,
		"XPWD": (*session).handlePWD,
		"CWD":  (*session).handleCWD,
		"XCWD": (*session).handleCWD,
		"CDUP": (*session).handleCDUP,
		"XCUP": (*session).handleCDUP,
		"LIST": (*session).handleLIST,
		"NLST": (*session).handleNLST,

		// Transfer
		"RETR": (*session).handleRETR,
		"STOR": (*session).handleSTOR,

		// Transfer parameters
		"TYPE": (*session).handleTYPE,
		"MODE": (*session).handleMODE,
		"STRU": (*session).handleSTRU,
		"PORT": (*session).handlePORT,
		"PASV": (*session).handlePASV,
		"EPSV": (*session).handleEPSV,

		// Information
		"SYST": (*session).handleSYST,
		"FEAT": (*session).handleFEAT,
		"HELP": (*session).handleHELP,
		"STAT": (*session).handleSTAT,
		"SIZE": (*session).handleSIZE,
		"MDTM": (*session).handleMDTM,
	}
}

func newSession(server *Server, conn net.Conn) *session {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}
	var localIP net.IP
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		localIP = la.IP
	}

	return &session{
		server:   server,
		ctx:      server.ctx,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		done:     make(chan struct{}),
		id:       uuid.NewString(),
		remoteIP: remoteIP,
		remote:   net.ParseIP(remoteIP),
		localIP:  localIP,
		ascii:    true,
	}
}

// serve runs the command loop until QUIT, idle timeout or a control
// connection failure.
func (s *session) serve() {
	defer s.close()

	s.record(CategoryConnection, LevelNormal, "session_started",
		slog.String("remote_ip", s.remoteIP))
	s.sendGreeting()

	for !s.quit {
		if s.server.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))
		}

		line, err := readCommandLine(s.reader, MaxCommandLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.reply(500, "Command line too long.")
				s.record(CategoryControl, LevelWarning, "command_too_long")
				continue
			}
			s.endOnReadError(err)
			return
		}

		s.handleCommand(line)
	}
}

func (s *session) endOnReadError(err error) {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		secs := int(s.server.idleTimeout / time.Second)
		s.reply(421, fmt.Sprintf("Timeout (%d seconds): closing control connection.", secs))
		s.record(CategoryConnection, LevelNotice, "session_idle_timeout",
			slog.String("user", s.user), slog.Int("timeout_s", secs))
	case errors.Is(err, io.EOF):
		s.record(CategoryConnection, LevelNormal, "session_closed_by_peer",
			slog.String("user", s.user))
	case errors.Is(err, net.ErrClosed):
		// Interrupted by shutdown.
	default:
		s.record(CategoryConnection, LevelError, "read_error",
			slog.String("user", s.user), slog.String("error", err.Error()))
	}
}

func (s *session) sendGreeting() {
	first := fmt.Sprintf("%s ver. %s @ %s", ServerName, Version, s.server.hostname)
	if s.server.helloMessage != "" {
		first += ": " + s.server.helloMessage
	}
	lines := make([]string, 0, len(s.server.helloLines)+2)
	lines = append(lines, first)
	lines = append(lines, s.server.helloLines...)
	lines = append(lines, "Please login...")
	s.replyLines(220, lines)
}

// close releases the control connection and any pending data channel.
func (s *session) close() {
	s.clearDataRequest()
	s.mu.Lock()
	if s.dataConn != nil {
		s.dataConn.Close()
		s.dataConn = nil
	}
	s.mu.Unlock()
	s.conn.Close()

	s.record(CategoryConnection, LevelNormal, "session_closed",
		slog.String("user", s.user),
		slog.Int64("bytes", s.bytesTransferred),
		slog.Int("data_conns", s.dataConns),
	)
}

// interrupt is called from the supervisor during shutdown. It unblocks the
// session goroutine wherever it is waiting on the network.
func (s *session) interrupt() {
	s.mu.Lock()
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	s.mu.Unlock()
	s.conn.Close()
}

// handleCommand parses and dispatches a command.
func (s *session) handleCommand(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)
	arg = strings.TrimSpace(arg)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	received := s.event(CategoryControl, LevelNormal, "command_received",
		slog.String("user", s.user),
		slog.String("cmd", cmd),
		slog.String("arg", logArg),
	)

	handler, ok := commandHandlers[cmd]
	if ok && s.server.commandDisabled(cmd) {
		s.server.audit.Record(received)
		s.reply(502, fmt.Sprintf("%s command not implemented.", cmd))
		return
	}
	if !ok {
		// Both lines go out as one group.
		s.server.audit.Record(received, s.event(CategoryControl, LevelWarning, "command_unknown",
			slog.String("cmd", cmd)))
		s.reply(500, fmt.Sprintf("'%s': command not understood.", cmd))
		return
	}
	s.server.audit.Record(received)

	start := time.Now()
	handler(s, arg)
	if s.server.metrics != nil {
		s.server.metrics.RecordCommand(cmd, s.lastCode < 400, time.Since(start))
	}
}

// loggedIn replies 530 and returns false for an unauthenticated session.
func (s *session) loggedIn() bool {
	if s.state != stateAuthenticated {
		s.reply(530, "Please login with USER and PASS.")
		return false
	}
	return true
}

// noArgs replies 501 and returns false when arg is not empty.
func (s *session) noArgs(arg string) bool {
	if arg != "" {
		s.reply(501, "Syntax error: command takes no arguments.")
		return false
	}
	return true
}

// oneArg replies 501 and returns false when arg is empty.
func (s *session) oneArg(arg string) bool {
	if arg == "" {
		s.reply(501, "Syntax error: command needs an argument.")
		return false
	}
	return true
}

// reply sends a single-line response to the client.
func (s *session) reply(code int, message string) {
	s.lastCode = code
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyLines sends a multi-line response. Every line carries the code; all
// but the last use the "NNN-" form.
func (s *session) replyLines(code int, lines []string) {
	s.lastCode = code
	for i, l := range lines {
		sep := '-'
		if i == len(lines)-1 {
			sep = ' '
		}
		fmt.Fprintf(s.writer, "%d%c%s\r\n", code, sep, l)
	}
	s.writer.Flush()
}

func (s *session) event(cat Category, level Level, msg string, attrs ...slog.Attr) Event {
	return Event{
		Time:      time.Now(),
		Category:  cat,
		Level:     level,
		SessionID: s.id,
		Message:   msg,
		Attrs:     attrs,
	}
}

func (s *session) record(cat Category, level Level, msg string, attrs ...slog.Attr) {
	s.server.audit.Record(s.event(cat, level, msg, attrs...))
}

func (s *session) handleQUIT(_ string) {
	s.reply(221, fmt.Sprintf("Goodbye (transferred %d B in %d data connections).",
		s.bytesTransferred, s.dataConns))
	s.quit = true
}

func (s *session) handleNOOP(_ string) {
	s.reply(200, "NOOP command successful.")
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
