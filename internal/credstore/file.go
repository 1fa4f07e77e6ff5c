package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"uk.co.dudmesh.sentinel/internal/model"
)

const FileName = "users.json"

// File keeps the whole account collection in one JSON document. Every
// mutation re-reads the document, applies the change to a copy and writes the
// copy back in full; the cached snapshot is replaced only after the write
// succeeded.
//
// The mutex serializes writers inside one process. Two processes sharing the
// same file can still lose updates, use SQLite for that.
type File struct {
	mu     sync.Mutex
	path   string
	opts   options
	digest uint64
	c      *collection
}

func NewFile(dataDir string, opts ...Option) (*File, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	f := &File{
		path: filepath.Join(dataDir, FileName),
		opts: newOptions(opts),
	}
	if err := f.refresh(); err != nil {
		return nil, fmt.Errorf("loading credential file: %w", err)
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Close() error {
	return nil
}

func (f *File) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	return f.read(func(c *collection) *model.Account {
		return c.byEmail(email)
	})
}

func (f *File) FindByID(_ context.Context, id model.UserID) (*model.Account, error) {
	return f.read(func(c *collection) *model.Account {
		return c.byID(id)
	})
}

func (f *File) Create(_ context.Context, params *model.NewAccount) (*model.Account, error) {
	return f.mutate(func(c *collection) (*model.Account, error) {
		return c.create(params, f.opts.timestamp())
	})
}

func (f *File) RecordSuccessfulLogin(_ context.Context, id model.UserID, ipAddress string) (*model.Account, error) {
	return f.mutate(func(c *collection) (*model.Account, error) {
		return c.recordSuccessfulLogin(id, ipAddress, f.opts.timestamp())
	})
}

func (f *File) RecordFailedLogin(_ context.Context, email string, rule model.LockoutRule) (*model.Account, error) {
	return f.mutate(func(c *collection) (*model.Account, error) {
		return c.recordFailedLogin(email, rule, f.opts.timestamp())
	})
}

func (f *File) ClearLock(_ context.Context, id model.UserID) (*model.Account, error) {
	return f.mutate(func(c *collection) (*model.Account, error) {
		return c.clearLock(id, f.opts.timestamp())
	})
}

func (f *File) UpdateProfile(_ context.Context, id model.UserID, update *model.ProfileUpdate) (*model.Account, error) {
	return f.mutate(func(c *collection) (*model.Account, error) {
		return c.updateProfile(id, update, f.opts.timestamp())
	})
}

func (f *File) List(_ context.Context) ([]model.PublicAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refresh(); err != nil {
		return nil, err
	}
	return f.c.list(), nil
}

func (f *File) read(fn func(*collection) *model.Account) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refresh(); err != nil {
		return nil, err
	}
	if a := fn(f.c); a != nil {
		return a.Clone(), nil
	}
	return nil, model.ErrorUserNotFound
}

func (f *File) mutate(fn func(*collection) (*model.Account, error)) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refresh(); err != nil {
		return nil, err
	}

	next := f.c.clone()
	account, err := fn(next)
	if err != nil {
		return nil, err
	}
	if err := f.write(next); err != nil {
		return nil, err
	}
	f.c = next
	return account.Clone(), nil
}

// refresh reloads the document unless its digest matches the cached snapshot.
// A missing file is an empty store; an unreadable or corrupt one is an error.
func (f *File) refresh() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.c = &collection{}
			f.digest = 0
			return nil
		}
		return fmt.Errorf("reading %s: %w", f.path, err)
	}

	digest := xxhash.Sum64(data)
	if f.c != nil && digest == f.digest {
		return nil
	}

	loaded := &collection{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, loaded); err != nil {
			return fmt.Errorf("parsing %s: %w", f.path, err)
		}
	}
	f.c = loaded
	f.digest = digest
	return nil
}

func (f *File) write(c *collection) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling accounts: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "users-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}

	f.digest = xxhash.Sum64(data)
	return nil
}
