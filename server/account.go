package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AnonymousUser is the account name selected by an empty USER argument.
const AnonymousUser = "anonymous"

// Unlimited is the quota value meaning "no limit".
const Unlimited int64 = -1

// ErrUnknownAccount is returned by an AccountStore when no account matches.
var ErrUnknownAccount = errors.New("ftp: unknown account")

// AccountFlag is a bit set of account modifiers.
type AccountFlag uint8

const (
	// FlagActive marks an account that may log in.
	FlagActive AccountFlag = 1 << iota
	// FlagAnonymous marks the account used for an empty USER argument.
	FlagAnonymous
	// FlagPasswordRequired makes USER answer 331 and wait for PASS.
	FlagPasswordRequired
)

// Has reports whether all bits of f are set.
func (a AccountFlag) Has(f AccountFlag) bool {
	return a&f == f
}

func (a AccountFlag) String() string {
	var parts []string
	if a.Has(FlagActive) {
		parts = append(parts, "active")
	}
	if a.Has(FlagAnonymous) {
		parts = append(parts, "anonymous")
	}
	if a.Has(FlagPasswordRequired) {
		parts = append(parts, "password")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Account is one login record. Accounts are immutable once handed to a store.
type Account struct {
	Username string
	// Password is either plain text or a bcrypt hash ($2a$, $2b$, $2y$).
	Password string
	HomeDir  string
	// Quota is the byte limit for files directly in HomeDir.
	// Unlimited defers to the server-wide default.
	Quota int64
	Flags AccountFlag
}

// Validate checks an account record. The home directory must exist.
func (a *Account) Validate() error {
	if a.Username == "" {
		return errors.New("username is empty")
	}
	if a.Flags.Has(FlagPasswordRequired) && a.Password == "" {
		return fmt.Errorf("account %q requires a password but none is set", a.Username)
	}
	if a.Quota < Unlimited {
		return fmt.Errorf("account %q: quota %d is below -1", a.Username, a.Quota)
	}
	if a.HomeDir == "" {
		return fmt.Errorf("account %q has no home directory", a.Username)
	}
	info, err := os.Stat(a.HomeDir)
	if err != nil {
		return fmt.Errorf("account %q: home directory: %w", a.Username, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("account %q: home %s is not a directory", a.Username, a.HomeDir)
	}
	return nil
}

// CheckPassword compares pass against the stored password.
func (a *Account) CheckPassword(pass string) bool {
	if isBcryptHash(a.Password) {
		return bcrypt.CompareHashAndPassword([]byte(a.Password), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.Password), []byte(pass)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// AccountStore looks up accounts by name. Implementations must be safe for
// concurrent use; every session shares the same store.
type AccountStore interface {
	Lookup(ctx context.Context, username string) (*Account, error)
}

// StaticAccounts is an in-memory AccountStore.
type StaticAccounts struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewStaticAccounts builds a store from already validated accounts.
// A duplicate username is an error.
func NewStaticAccounts(accounts ...*Account) (*StaticAccounts, error) {
	s := &StaticAccounts{accounts: make(map[string]*Account, len(accounts))}
	for _, a := range accounts {
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts an account. It fails if the name is taken.
func (s *StaticAccounts) Add(a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Username]; ok {
		return fmt.Errorf("duplicate account %q", a.Username)
	}
	s.accounts[a.Username] = a
	return nil
}

// Lookup implements AccountStore.
func (s *StaticAccounts) Lookup(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[username]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return a, nil
}

// List returns the accounts sorted by name.
func (s *StaticAccounts) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Len returns the number of accounts.
func (s *StaticAccounts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
