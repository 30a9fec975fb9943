// Package accounts provides the AccountStore backends used by ftpd: a YAML
// record file held in memory and an SQL table queried per login.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/gonzalop/ftpd/server"
)

// RecordYAML is one entry of the accounts file.
//
// username, password, home and quota must all be present. An empty
// username names the anonymous account.
type RecordYAML struct {
	Username         *string `yaml:"username"`
	Password         *string `yaml:"password"`
	PasswordRequired bool    `yaml:"password_required,omitempty"`
	Home             string  `yaml:"home"`
	Quota            *int64  `yaml:"quota"`
	Active           *bool   `yaml:"active,omitempty"`
}

// FileYAML is the top-level layout of the accounts file.
type FileYAML struct {
	Accounts []RecordYAML `yaml:"accounts"`
}

// Decode parses an accounts file. Records that are incomplete, invalid or
// duplicated are skipped and listed in skipped while the rest still load.
// Only a YAML syntax error is returned as err.
func Decode(data []byte) (store *server.StaticAccounts, skipped *multierror.Error, err error) {
	var doc FileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse accounts: %w", err)
	}

	store, _ = server.NewStaticAccounts()
	for i, rec := range doc.Accounts {
		acc, err := rec.account()
		if err == nil {
			err = store.Add(acc)
		}
		if err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("record %d: %w", i+1, err))
		}
	}
	return store, skipped, nil
}

func (r RecordYAML) account() (*server.Account, error) {
	if r.Username == nil || r.Password == nil || r.Home == "" || r.Quota == nil {
		return nil, errors.New("username, password, home and quota are required")
	}

	acc := &server.Account{
		Username: *r.Username,
		Password: *r.Password,
		HomeDir:  r.Home,
		Quota:    *r.Quota,
	}
	if r.Active == nil || *r.Active {
		acc.Flags |= server.FlagActive
	}
	if r.PasswordRequired {
		acc.Flags |= server.FlagPasswordRequired
	}
	if acc.Username == "" {
		acc.Username = server.AnonymousUser
		acc.Flags |= server.FlagAnonymous
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	return acc, nil
}

// FileStore serves accounts from a YAML file loaded into memory. Reload
// swaps in a fresh copy; sessions in progress keep the account they
// already looked up.
type FileStore struct {
	path    string
	current atomic.Pointer[server.StaticAccounts]
}

// OpenFile loads path. A missing or unparsable file is an error; records
// left out are listed in skipped.
func OpenFile(path string) (*FileStore, *multierror.Error, error) {
	f := &FileStore{path: path}
	skipped, err := f.Reload()
	if err != nil {
		return nil, nil, err
	}
	return f, skipped, nil
}

// Reload re-reads the file. On a read or parse error the previous accounts
// stay in place.
func (f *FileStore) Reload() (*multierror.Error, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	store, skipped, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	f.current.Store(store)
	return skipped, nil
}

// Lookup implements server.AccountStore.
func (f *FileStore) Lookup(ctx context.Context, username string) (*server.Account, error) {
	return f.current.Load().Lookup(ctx, username)
}

// List returns the loaded accounts sorted by name.
func (f *FileStore) List(ctx context.Context) ([]*server.Account, error) {
	return f.current.Load().List(ctx)
}

// Close is a no-op; it lets FileStore satisfy Store.
func (f *FileStore) Close() error { return nil }
