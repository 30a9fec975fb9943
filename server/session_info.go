package server

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// handleSYST reports the system type. It needs no login.
func (s *session) handleSYST(_ string) {
	var systType string
	switch runtime.GOOS {
	case "windows":
		systType = "Windows_NT"
	case "plan9":
		systType = "Plan9"
	default:
		systType = "UNIX Type: L8"
	}
	s.reply(215, fmt.Sprintf("%s (%s; %s %s)", systType, runtime.GOOS, ServerName, Version))
}

func (s *session) handleFEAT(_ string) {
	s.replyLines(211, []string{
		"Features:",
		" EPSV",
		" MDTM",
		" PASV",
		" SIZE",
		"End",
	})
}

func (s *session) handleHELP(arg string) {
	if arg != "" {
		cmd := strings.ToUpper(arg)
		if _, ok := commandHandlers[cmd]; ok {
			s.reply(214, fmt.Sprintf("%s is supported.", cmd))
			return
		}
		s.reply(502, fmt.Sprintf("Unknown command %s.", cmd))
		return
	}

	cmds := make([]string, 0, len(commandHandlers))
	for c := range commandHandlers {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)

	lines := []string{"The following commands are recognized:"}
	for i := 0; i < len(cmds); i += 8 {
		end := min(i+8, len(cmds))
		lines = append(lines, " "+strings.Join(cmds[i:end], " "))
	}
	lines = append(lines, "Help OK.")
	s.replyLines(214, lines)
}

// handleSTAT reports session status. STAT with a path is not supported.
func (s *session) handleSTAT(arg string) {
	if arg != "" {
		s.reply(502, "STAT with a path is not implemented; use LIST.")
		return
	}

	lines := []string{fmt.Sprintf("%s status:", ServerName)}
	lines = append(lines, " Connected from "+s.remoteIP)
	if s.state == stateAuthenticated {
		lines = append(lines, " Logged in as "+s.user, " Working directory "+s.workDir)
	} else {
		lines = append(lines, " Not logged in")
	}
	lines = append(lines, fmt.Sprintf(" TYPE: %s; STRUcture: File; transfer MODE: Stream", s.modeName()))
	switch {
	case s.passive != nil:
		lines = append(lines, " Passive listener pending")
	case s.active != nil:
		lines = append(lines, " Active target "+s.active.String())
	}
	lines = append(lines,
		fmt.Sprintf(" %d bytes in %d data connections", s.bytesTransferred, s.dataConns),
		"End of status")
	s.replyLines(211, lines)
}

func (s *session) handleSIZE(arg string) {
	if !s.loggedIn() || !s.oneArg(arg) {
		return
	}
	info, err := os.Stat(resolvePath(s.workDir, arg))
	if err != nil || !info.Mode().IsRegular() {
		s.reply(550, fmt.Sprintf("%s: No such file.", arg))
		return
	}
	s.reply(213, fmt.Sprintf("%d", info.Size()))
}

func (s *session) handleMDTM(arg string) {
	if !s.loggedIn() || !s.oneArg(arg) {
		return
	}
	info, err := os.Stat(resolvePath(s.workDir, arg))
	if err != nil || !info.Mode().IsRegular() {
		s.reply(550, fmt.Sprintf("%s: No such file.", arg))
		return
	}
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}
