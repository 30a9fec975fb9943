// Package server implements the FTP protocol engine: the per-connection
// command interpreter, the data channel negotiation and the supervisor that
// bounds how many sessions run at once.
//
// # Overview
//
// A Server accepts control connections and hands each one to a supervisor.
// The supervisor queues it, starts a session goroutine for it on its next
// cycle and removes it once the goroutine returns. Connections arriving
// while the limit is reached are answered with 421 and closed.
//
// Sessions authenticate against an AccountStore and work on the real file
// system: the working directory starts at the account's home directory and
// may move anywhere the server process can traverse.
//
// # Getting Started
//
//	accounts, err := server.NewStaticAccounts(&server.Account{
//	    Username: "bob",
//	    Password: "secret",
//	    HomeDir:  "/srv/ftp/bob",
//	    Quota:    10 << 20,
//	    Flags:    server.FlagActive | server.FlagPasswordRequired,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s, err := server.NewServer(":2121",
//	    server.WithAccounts(accounts),
//	    server.WithIdleTimeout(10*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// # Data Connections
//
// PASV and EPSV bind a one-shot listener on the control connection's local
// address. PORT stores a target which is dialled when the transfer starts.
// Issuing any of them discards the previous request. A transfer without a
// prior request dials the peer on port 20.
//
// # Quota
//
// An account's quota bounds the total size of the regular files directly in
// its home directory. It is enforced block by block during STOR into the
// home directory itself; uploads into subdirectories are not counted.
//
// # Audit
//
// Sessions report what they do as Events to an AuditSink. The default sink
// is an AuditLog writing through the server's slog.Logger from a single
// goroutine. Events handed over in one Record call stay together.
//
// # Supported Commands
//
// USER PASS ACCT QUIT NOOP PWD XPWD CWD XCWD CDUP XCUP LIST NLST RETR STOR
// TYPE MODE STRU PORT PASV EPSV SYST FEAT HELP STAT SIZE MDTM
package server
