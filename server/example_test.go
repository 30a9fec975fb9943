package server_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gonzalop/ftpd/server"
)

// ExampleNewServer runs a server with one password account and anonymous
// access to a shared directory.
func ExampleNewServer() {
	accounts, err := server.NewStaticAccounts(
		&server.Account{
			Username: "user",
			Password: "pass",
			HomeDir:  "/srv/ftp/user",
			Quota:    64 << 20,
			Flags:    server.FlagActive | server.FlagPasswordRequired,
		},
		&server.Account{
			Username: server.AnonymousUser,
			HomeDir:  "/srv/ftp/pub",
			Quota:    server.Unlimited,
			Flags:    server.FlagActive | server.FlagAnonymous,
		},
	)
	if err != nil {
		log.Fatal(err)
	}

	srv, err := server.NewServer(":2121",
		server.WithAccounts(accounts),
		server.WithIdleTimeout(5*time.Minute),
		server.WithPassivePorts(30000, 30100),
		server.WithHelloMessage("example site"),
	)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != server.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ... later
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// ExampleNewAuditLog sends the audit trail to its own JSON logger instead of
// the server logger.
func ExampleNewAuditLog() {
	audit := server.NewAuditLog(slog.New(slog.NewJSONHandler(os.Stdout, nil)), 1024)
	defer audit.Close()

	accounts, _ := server.NewStaticAccounts()
	srv, err := server.NewServer(":2121",
		server.WithAccounts(accounts),
		server.WithAuditSink(audit),
	)
	if err != nil {
		log.Fatal(err)
	}
	_ = srv
}

func ExampleWithDisabledCommands() {
	accounts, _ := server.NewStaticAccounts()
	_, err := server.NewServer(":2121",
		server.WithAccounts(accounts),
		server.WithDisabledCommands(server.ActiveModeCommands...),
		server.WithDisabledCommands(server.LegacyCommands...),
	)
	fmt.Println(err)

	_, err = server.NewServer(":2121",
		server.WithAccounts(accounts),
		server.WithDisabledCommands("QUIT"),
	)
	fmt.Println(err)
	// Output:
	// <nil>
	// command QUIT can not be disabled
}

func ExampleAccountFlag_String() {
	fmt.Println(server.FlagActive | server.FlagPasswordRequired)
	fmt.Println(server.AccountFlag(0))
	// Output:
	// active,password
	// none
}
