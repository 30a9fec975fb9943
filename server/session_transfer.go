package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// blockSize is the unit in which file payloads are moved and quota is checked.
const blockSize = 1024

func (s *session) handleTYPE(arg string) {
	if !s.loggedIn() {
		return
	}
	fields := strings.Fields(strings.ReplaceAll(arg, ",", " "))
	if len(fields) == 0 {
		s.reply(501, "Syntax error: TYPE needs an argument.")
		return
	}

	code := strings.ToUpper(fields[0])
	switch code {
	case "A", "I":
		s.ascii = code == "A"
		msg := fmt.Sprintf("Type set to %s.", code)
		if len(fields) > 1 {
			msg = fmt.Sprintf("Type set to %s; format option is always N.", code)
		}
		s.reply(200, msg)
	case "E", "L":
		s.reply(504, fmt.Sprintf("Type %s not implemented.", code))
	default:
		s.reply(501, fmt.Sprintf("Unknown type %s.", fields[0]))
	}
}

func (s *session) handleMODE(arg string) {
	if !s.loggedIn() {
		return
	}
	switch strings.ToUpper(arg) {
	case "S":
		s.reply(200, "Mode is always STREAM.")
	case "B", "C":
		s.reply(504, "Only STREAM mode is supported.")
	case "":
		s.reply(501, "Syntax error: MODE needs an argument.")
	default:
		s.reply(501, fmt.Sprintf("Unknown mode %s.", arg))
	}
}

func (s *session) handleSTRU(arg string) {
	if !s.loggedIn() {
		return
	}
	switch strings.ToUpper(arg) {
	case "F":
		s.reply(200, "Structure is always FILE.")
	case "R", "P":
		s.reply(504, "Only FILE structure is supported.")
	case "":
		s.reply(501, "Syntax error: STRU needs an argument.")
	default:
		s.reply(501, fmt.Sprintf("Unknown structure %s.", arg))
	}
}

func (s *session) handlePORT(arg string) {
	if !s.loggedIn() {
		return
	}

	// h1,h2,h3,h4,p1,p2
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	var nums [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			s.reply(501, "Syntax error in parameters or arguments.")
			return
		}
		nums[i] = n
	}
	ip := net.IPv4(byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3])).To4()
	port := nums[4]*256 + nums[5]
	if port == 0 {
		s.reply(501, "Invalid port number.")
		return
	}

	if s.server.bounceProtection && !ip.Equal(s.remote) {
		s.record(CategoryControl, LevelWarning, "port_bounce_refused",
			slog.String("user", s.user), slog.String("target", ip.String()))
		s.reply(500, "Illegal PORT command.")
		return
	}

	s.clearDataRequest()
	s.active = &net.TCPAddr{IP: ip, Port: port}
	s.reply(200, "PORT command successful.")
}

// passiveIP chooses the address to bind and the IPv4 address to advertise.
func (s *session) passiveIP() (bind, advertise net.IP) {
	bind = s.localIP
	advertise = s.localIP.To4()
	if s.server.pasvAddress != nil {
		advertise = s.server.pasvAddress
	}
	return bind, advertise
}

func (s *session) handlePASV(_ string) {
	if !s.loggedIn() {
		return
	}
	s.clearDataRequest()

	bind, advertise := s.passiveIP()
	if advertise == nil {
		s.reply(425, "Can't open passive connection: IPv6 is not supported, use EPSV.")
		return
	}

	addr, err := s.startPassive(bind)
	if err != nil {
		s.dataFailed("PASV", err)
		return
	}

	p1, p2 := addr.Port/256, addr.Port%256
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		advertise[0], advertise[1], advertise[2], advertise[3], p1, p2))
}

func (s *session) handleEPSV(arg string) {
	if !s.loggedIn() {
		return
	}

	v4 := s.localIP.To4() != nil
	switch strings.ToUpper(arg) {
	case "":
	case "ALL":
		s.reply(504, "EPSV ALL not supported.")
		return
	case "1":
		if !v4 {
			s.reply(522, "Network protocol not supported, use (2).")
			return
		}
	case "2":
		if v4 {
			s.reply(522, "Network protocol not supported, use (1).")
			return
		}
	default:
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	s.clearDataRequest()
	addr, err := s.startPassive(s.localIP)
	if err != nil {
		s.dataFailed("EPSV", err)
		return
	}
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", addr.Port))
}

func (s *session) startPassive(bind net.IP) (*net.TCPAddr, error) {
	ch := newPassiveChannel()
	addr, err := ch.prepare(bind, s.server.pasvPorts, &s.server.nextPassivePort)
	if err != nil {
		return nil, err
	}
	if err := ch.start(); err != nil {
		ch.close()
		return nil, err
	}
	s.passive = ch
	return addr, nil
}

// clearDataRequest drops any pending PORT target or passive listener.
func (s *session) clearDataRequest() {
	if s.passive != nil {
		s.passive.close()
		s.passive = nil
	}
	s.active = nil
}

// openDataConn consumes the pending data request. Without one it dials the
// control peer on the default data port.
func (s *session) openDataConn() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.server.dataTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	switch {
	case s.passive != nil:
		ch := s.passive
		s.passive = nil
		conn, err = ch.wait(ctx)
		ch.close()
	case s.active != nil:
		addr := s.active
		s.active = nil
		conn, err = dialActive(ctx, addr, s.server.dataTimeout)
	default:
		conn, err = dialActive(ctx, &net.TCPAddr{IP: s.remote, Port: DefaultDataPort}, s.server.dataTimeout)
	}
	if err != nil {
		return nil, err
	}

	s.dataConns++
	s.mu.Lock()
	s.dataConn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *session) releaseDataConn(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.dataConn == conn {
		s.dataConn = nil
	}
	s.mu.Unlock()
}

func (s *session) dataFailed(op string, err error) {
	s.record(CategoryTransfer, LevelWarning, "data_connection_failed",
		slog.String("user", s.user),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	s.reply(425, "Can't open data connection.")
}

func (s *session) transferComplete(op, path string, n int64, d time.Duration) {
	s.record(CategoryTransfer, LevelNormal, "transfer_complete",
		slog.String("user", s.user),
		slog.String("operation", op),
		slog.String("path", path),
		slog.Int64("bytes", n),
		slog.Int64("duration_ms", d.Milliseconds()),
	)
	if s.server.metrics != nil {
		s.server.metrics.RecordTransfer(op, n, d)
	}
}

func (s *session) transferAborted(op, path string, n int64, err error) {
	s.record(CategoryTransfer, LevelError, "transfer_aborted",
		slog.String("user", s.user),
		slog.String("operation", op),
		slog.String("path", path),
		slog.Int64("bytes", n),
		slog.String("error", err.Error()),
	)
}

// transferSummary renders "1.2 kB in 35ms (34 kB/s)".
func transferSummary(n int64, d time.Duration) string {
	rate := float64(n)
	if secs := d.Seconds(); secs > 0 {
		rate = float64(n) / secs
	}
	return fmt.Sprintf("%s in %s (%s/s)",
		humanize.Bytes(uint64(n)), d.Round(time.Millisecond), humanize.Bytes(uint64(rate)))
}

func (s *session) limiter() *ratelimit.Limiter {
	return ratelimit.New(s.server.bandwidth)
}

func (s *session) modeName() string {
	if s.ascii {
		return "ASCII"
	}
	return "BINARY"
}

func (s *session) handleRETR(arg string) {
	if !s.loggedIn() || !s.oneArg(arg) {
		return
	}
	target := resolvePath(s.workDir, arg)

	info, err := os.Stat(target)
	if err != nil {
		s.reply(550, fmt.Sprintf("%s: No such file.", arg))
		return
	}
	if info.IsDir() {
		s.reply(550, fmt.Sprintf("%s: Not a plain file.", arg))
		return
	}
	if !canRead(target) {
		s.reply(450, fmt.Sprintf("%s: Permission denied.", arg))
		return
	}
	file, err := os.Open(target)
	if err != nil {
		s.reply(450, fmt.Sprintf("%s: Can't open file.", arg))
		return
	}
	defer file.Close()

	conn, err := s.openDataConn()
	if err != nil {
		s.dataFailed("RETR", err)
		return
	}

	s.reply(150, fmt.Sprintf("Opening %s mode data connection for %s (%d bytes).",
		s.modeName(), arg, info.Size()))

	var src io.Reader = file
	if s.ascii {
		src = newCRLFEncoder(file)
	}
	dst := ratelimit.NewWriter(s.ctx, conn, s.limiter())

	start := time.Now()
	n, readErr, writeErr := copyBlocks(dst, src, nil)
	s.bytesTransferred += n
	// The final reply goes out only after the data socket is closed.
	s.releaseDataConn(conn)

	switch {
	case writeErr != nil:
		s.transferAborted("RETR", target, n, writeErr)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	case readErr != nil:
		s.transferAborted("RETR", target, n, readErr)
		s.reply(451, "Local error in processing: read failed.")
		return
	}

	d := time.Since(start)
	s.transferComplete("RETR", target, n, d)
	s.reply(226, "Transfer complete: "+transferSummary(n, d)+".")
}

func (s *session) handleSTOR(arg string) {
	if !s.loggedIn() || !s.oneArg(arg) {
		return
	}
	target := resolvePath(s.workDir, arg)
	parent := filepath.Dir(target)

	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			s.reply(550, fmt.Sprintf("%s: Is a directory.", arg))
			return
		}
		if !canWrite(target) {
			s.reply(450, fmt.Sprintf("%s: Permission denied.", arg))
			return
		}
	} else if !canWrite(parent) || !canTraverse(parent) {
		s.reply(450, fmt.Sprintf("%s: Can't create file.", arg))
		return
	}

	conn, err := s.openDataConn()
	if err != nil {
		s.dataFailed("STOR", err)
		return
	}

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.releaseDataConn(conn)
		s.reply(450, fmt.Sprintf("%s: Can't create file.", arg))
		return
	}
	defer file.Close()

	var guard *quotaGuard
	if parent == s.home {
		if limit := effectiveQuota(s.account.Quota, s.server.defaultQuota); limit != Unlimited {
			used, err := dirUsage(parent)
			if err != nil {
				s.releaseDataConn(conn)
				s.reply(451, "Local error in processing: can't compute quota usage.")
				return
			}
			guard = &quotaGuard{limit: limit, used: used}
		}
	}

	s.reply(150, fmt.Sprintf("Opening %s mode data connection for %s.", s.modeName(), arg))

	var src io.Reader = ratelimit.NewReader(s.ctx, conn, s.limiter())
	if s.ascii {
		src = newCRLFDecoder(src)
	}

	start := time.Now()
	n, readErr, writeErr := copyBlocks(file, src, guard)
	s.bytesTransferred += n
	s.releaseDataConn(conn)

	switch {
	case errors.Is(readErr, errQuotaExceeded):
		s.record(CategoryTransfer, LevelWarning, "quota_exceeded",
			slog.String("user", s.user),
			slog.String("path", target),
			slog.Int64("bytes", n),
			slog.Int64("quota", guard.limit),
		)
		s.reply(552, fmt.Sprintf("Quota exceeded: %s of %s used.",
			humanize.Bytes(uint64(guard.used)), humanize.Bytes(uint64(guard.limit))))
		return
	case readErr != nil:
		s.transferAborted("STOR", target, n, readErr)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	case writeErr != nil:
		s.transferAborted("STOR", target, n, writeErr)
		s.reply(451, "Local error in processing: write failed.")
		return
	}

	d := time.Since(start)
	s.transferComplete("STOR", target, n, d)
	s.reply(226, "Transfer complete: "+transferSummary(n, d)+".")
}

var errQuotaExceeded = errors.New("quota exceeded")

// copyBlocks moves src to dst in blockSize chunks. With a guard, each block is
// admitted before it is written; a refused block ends the copy with
// errQuotaExceeded as the read error and is not written.
func copyBlocks(dst io.Writer, src io.Reader, guard *quotaGuard) (n int64, readErr, writeErr error) {
	buf := make([]byte, blockSize)
	for {
		m, err := src.Read(buf)
		if m > 0 {
			if !guard.admit(m) {
				return n, errQuotaExceeded, nil
			}
			w, werr := dst.Write(buf[:m])
			n += int64(w)
			if werr != nil {
				return n, nil, werr
			}
		}
		if err == io.EOF {
			return n, nil, nil
		}
		if err != nil {
			return n, err, nil
		}
	}
}
