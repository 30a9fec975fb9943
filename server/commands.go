package server

import (
	"fmt"
	"strings"
)

// Predefined command groups for use with WithDisabledCommands.
//
// Example usage:
//
//	// Passive mode only, no legacy aliases
//	srv, _ := server.NewServer(":21",
//	    server.WithAccounts(accounts),
//	    server.WithDisabledCommands(server.ActiveModeCommands...),
//	    server.WithDisabledCommands(server.LegacyCommands...),
//	)
var (
	// LegacyCommands are the RFC 775 X* aliases.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD"}

	// ActiveModeCommands make the server dial out to the client.
	ActiveModeCommands = []string{"PORT"}

	// InformationCommands reveal file metadata or server details beyond
	// what LIST shows.
	InformationCommands = []string{"FEAT", "HELP", "STAT", "SIZE", "MDTM"}
)

// WithDisabledCommands makes the named commands answer 502.
// USER, PASS and QUIT can not be disabled.
func WithDisabledCommands(cmds ...string) Option {
	return func(s *Server) error {
		if s.disabled == nil {
			s.disabled = make(map[string]struct{})
		}
		for _, c := range cmds {
			if err := CheckDisableable(c); err != nil {
				return err
			}
			s.disabled[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
		}
		return nil
	}
}

func (s *Server) commandDisabled(cmd string) bool {
	_, ok := s.disabled[cmd]
	return ok
}

// CheckDisableable reports why cmd may not be passed to WithDisabledCommands.
func CheckDisableable(cmd string) error {
	c := strings.ToUpper(strings.TrimSpace(cmd))
	switch c {
	case "USER", "PASS", "QUIT":
		return fmt.Errorf("command %s can not be disabled", c)
	}
	if _, ok := commandHandlers[c]; !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
