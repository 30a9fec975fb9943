package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

func (s *session) handlePWD(arg string) {
	if !s.loggedIn() || !s.noArgs(arg) {
		return
	}
	s.reply(257, quotePath(s.workDir)+" is the current directory.")
}

func (s *session) handleCWD(arg string) {
	if !s.loggedIn() || !s.oneArg(arg) {
		return
	}
	s.changeDir(arg, resolvePath(s.workDir, arg))
}

func (s *session) handleCDUP(arg string) {
	if !s.loggedIn() || !s.noArgs(arg) {
		return
	}
	s.changeDir("..", resolvePath(s.workDir, ".."))
}

// changeDir moves the working directory to target if it exists, is a
// directory and is traversable. On failure the working directory is kept.
func (s *session) changeDir(arg, target string) {
	info, err := os.Stat(target)
	switch {
	case err != nil:
		s.reply(550, fmt.Sprintf("%s: No such file or directory.", arg))
		return
	case !info.IsDir():
		s.reply(550, fmt.Sprintf("%s: Not a directory.", arg))
		return
	case !canTraverse(target):
		s.record(CategoryControl, LevelNotice, "cwd_denied",
			slog.String("user", s.user), slog.String("path", target))
		s.reply(550, fmt.Sprintf("%s: Permission denied.", arg))
		return
	}
	s.workDir = target
	s.reply(250, fmt.Sprintf("CWD command successful; now in %s.", quotePath(target)))
}

// listArgs drops "-l" style options from a LIST argument. It reports
// whether any were present.
func listArgs(arg string) (path string, hadOptions bool) {
	var rest []string
	for _, f := range strings.Fields(arg) {
		if strings.HasPrefix(f, "-") {
			hadOptions = true
			continue
		}
		rest = append(rest, f)
	}
	return strings.Join(rest, " "), hadOptions
}

func (s *session) handleLIST(arg string) {
	if !s.loggedIn() {
		return
	}
	path, hadOptions := listArgs(arg)
	s.sendListing("LIST", path, hadOptions, func(target string) ([]string, error) {
		return listTarget(target, time.Now())
	})
}

func (s *session) handleNLST(arg string) {
	if !s.loggedIn() {
		return
	}
	path, hadOptions := listArgs(arg)
	s.sendListing("NLST", path, hadOptions, nameList)
}

// sendListing runs a listing transfer. The data connection is opened first;
// a missing target is then reported with 550 and no 150.
func (s *session) sendListing(op, path string, hadOptions bool, build func(string) ([]string, error)) {
	target := resolvePath(s.workDir, path)

	conn, err := s.openDataConn()
	if err != nil {
		s.dataFailed(op, err)
		return
	}
	defer s.releaseDataConn(conn)

	lines, err := build(target)
	if err != nil {
		s.reply(550, fmt.Sprintf("%s: No such file or directory.", displayArg(path, target)))
		return
	}

	msg := "Opening ASCII mode data connection for file list."
	if hadOptions {
		msg = "Opening ASCII mode data connection for file list (options are not supported)."
	}
	s.reply(150, msg)

	start := time.Now()
	n, err := writeLines(conn, lines)
	s.bytesTransferred += n
	if err != nil {
		s.transferAborted(op, target, n, err)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.transferComplete(op, target, n, time.Since(start))
	s.reply(226, "Transfer complete.")
}

func writeLines(conn net.Conn, lines []string) (int64, error) {
	w := bufio.NewWriter(conn)
	var n int64
	for _, l := range lines {
		m, err := w.WriteString(l + "\r\n")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, w.Flush()
}

func displayArg(arg, resolved string) string {
	if arg == "" {
		return resolved
	}
	return arg
}
