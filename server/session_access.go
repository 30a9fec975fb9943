package server

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

func (s *session) handleUSER(arg string) {
	if s.state == stateAuthenticated {
		s.reply(530, "Already logged in; can't change user.")
		return
	}

	name := arg
	if name == "" {
		name = AnonymousUser
	}

	account, err := s.server.accounts.Lookup(s.ctx, name)
	if err != nil {
		if !errors.Is(err, ErrUnknownAccount) {
			s.record(CategoryControl, LevelError, "account_lookup_failed",
				slog.String("user", name), slog.String("error", err.Error()))
		}
		if arg == "" {
			s.reply(501, "Syntax error: USER needs a user name.")
			return
		}
		s.authFailed(name, "unknown_user")
		s.reply(530, "Login incorrect.")
		return
	}
	if arg == "" && !account.Flags.Has(FlagAnonymous) {
		s.reply(501, "Syntax error: USER needs a user name.")
		return
	}
	if !account.Flags.Has(FlagActive) {
		s.authFailed(name, "account_disabled")
		s.reply(530, "Account disabled.")
		return
	}

	s.user = name
	if !account.Flags.Has(FlagPasswordRequired) {
		s.login(account)
		s.reply(230, fmt.Sprintf("User %s logged in.", name))
		return
	}

	s.state = statePasswordPending
	s.account = account
	s.reply(331, fmt.Sprintf("Password required for %s.", name))
}

func (s *session) handlePASS(arg string) {
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return
	}
	if s.state == stateAuthenticated {
		s.reply(230, "Already logged in; PASS superfluous.")
		return
	}
	if !s.oneArg(arg) {
		return
	}

	if s.account.CheckPassword(arg) {
		s.login(s.account)
		s.reply(230, fmt.Sprintf("User %s logged in.", s.user))
		return
	}

	s.authFailed(s.user, "bad_password")
	// Pauses only this session.
	if err := sleepContext(s.ctx, s.server.failDelay); err != nil {
		return
	}
	s.reply(530, "Login incorrect.")
}

func (s *session) login(account *Account) {
	home, err := filepath.Abs(account.HomeDir)
	if err != nil {
		home = filepath.Clean(account.HomeDir)
	}
	s.account = account
	s.state = stateAuthenticated
	s.home = home
	s.workDir = home

	s.record(CategoryControl, LevelNotice, "authentication_success",
		slog.String("user", s.user),
		slog.String("remote_ip", s.remoteIP),
		slog.String("home", home),
	)
	if s.server.metrics != nil {
		s.server.metrics.RecordAuthentication(true, s.user)
	}
}

func (s *session) authFailed(user, reason string) {
	s.record(CategoryControl, LevelWarning, "authentication_failed",
		slog.String("user", user),
		slog.String("remote_ip", s.remoteIP),
		slog.String("reason", reason),
	)
	if s.server.metrics != nil {
		s.server.metrics.RecordAuthentication(false, user)
	}
}

// handleACCT always refuses; accounts are selected by USER alone.
func (s *session) handleACCT(_ string) {
	if !s.loggedIn() {
		return
	}
	s.reply(502, "ACCT command not implemented.")
}
