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

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithAccounts sets the account store. This option is required.
//
// Example:
//
//	accounts, _ := server.NewStaticAccounts(&server.Account{
//	    Username: "bob",
//	    Password: "secret",
//	    HomeDir:  "/srv/ftp/bob",
//	    Quota:    server.Unlimited,
//	    Flags:    server.FlagActive | server.FlagPasswordRequired,
//	})
//	s, _ := server.NewServer(":21", server.WithAccounts(accounts))
func WithAccounts(store AccountStore) Option {
	return func(s *Server) error {
		if store == nil {
			return fmt.Errorf("account store is nil")
		}
		s.accounts = store
		return nil
	}
}

// WithLogger sets the logger for server-level messages and, unless
// WithAuditSink is used, for the audit trail. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithAuditSink routes session events to sink instead of an AuditLog over
// the server logger. The caller owns sink and closes it after Shutdown.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Server) error {
		s.audit = sink
		return nil
	}
}

// WithMetrics installs a metrics collector.
func WithMetrics(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = collector
		return nil
	}
}

// WithIdleTimeout sets how long a control connection may stay silent.
// Defaults to 15 minutes.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("idle timeout must be positive, got %s", d)
		}
		s.idleTimeout = d
		return nil
	}
}

// WithFailLoginDelay sets the pause before answering a wrong password.
// Defaults to 5 seconds.
func WithFailLoginDelay(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("fail login delay must not be negative, got %s", d)
		}
		s.failDelay = d
		return nil
	}
}

// WithDefaultQuota sets the quota for accounts that have none of their own.
// Unlimited (-1) is the default.
func WithDefaultQuota(bytes int64) Option {
	return func(s *Server) error {
		if bytes < Unlimited {
			return fmt.Errorf("default quota must be >= -1, got %d", bytes)
		}
		s.defaultQuota = bytes
		return nil
	}
}

// WithConnectionLimit caps active plus queued sessions. 0 disables the cap.
// Defaults to 50.
//
// When the limit is reached, new connections receive a 421 reply and are
// closed.
func WithConnectionLimit(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("connection limit must not be negative, got %d", n)
		}
		s.connLimit = n
		return nil
	}
}

// WithReapInterval sets how often the supervisor sweeps finished sessions.
func WithReapInterval(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("reap interval must be positive, got %s", d)
		}
		s.reapInterval = d
		return nil
	}
}

// WithDataTimeout bounds the wait for a passive connection and the dial of
// an active one. Defaults to 30 seconds.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("data timeout must be positive, got %s", d)
		}
		s.dataTimeout = d
		return nil
	}
}

// WithPassiveAddress sets the IPv4 address advertised in PASV replies, for
// servers behind NAT. The listener still binds the control connection's
// local address.
func WithPassiveAddress(addr string) Option {
	return func(s *Server) error {
		if addr == "" {
			return nil
		}
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("passive address %q is not an IPv4 address", addr)
		}
		s.pasvAddress = ip.To4()
		return nil
	}
}

// WithPassivePorts restricts passive listeners to [min, max].
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithAccounts(accounts),
//	    server.WithPassivePorts(30000, 30100),
//	)
func WithPassivePorts(min, max int) Option {
	return func(s *Server) error {
		if min == 0 && max == 0 {
			return nil
		}
		if min < 1 || max > 65535 || min > max {
			return fmt.Errorf("invalid passive port range %d-%d", min, max)
		}
		s.pasvPorts = portRange{min: min, max: max}
		return nil
	}
}

// WithBandwidthLimit throttles each data transfer to bytesPerSecond.
// 0 disables throttling.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.bandwidth = bytesPerSecond
		return nil
	}
}

// WithBounceProtection makes PORT refuse targets other than the control
// connection's peer address.
func WithBounceProtection(enabled bool) Option {
	return func(s *Server) error {
		s.bounceProtection = enabled
		return nil
	}
}

// WithHelloMessage appends text to the first greeting line.
func WithHelloMessage(msg string) Option {
	return func(s *Server) error {
		s.helloMessage = strings.TrimSpace(msg)
		return nil
	}
}

// WithHelloFile adds every line of the file at path to the greeting.
func WithHelloFile(path string) Option {
	return func(s *Server) error {
		if path == "" {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("hello file: %w", err)
		}
		defer f.Close()

		var lines []string
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("hello file: %w", err)
		}
		s.helloLines = lines
		return nil
	}
}

// WithHostname overrides the host name shown in the greeting.
func WithHostname(name string) Option {
	return func(s *Server) error {
		s.hostname = name
		return nil
	}
}
