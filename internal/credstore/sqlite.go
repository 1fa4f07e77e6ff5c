package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.sentinel/internal/model"
)

const DatabaseName = "users.db"

// SQLite stores one row per account. Counter updates are single UPDATE
// statements, so concurrent failed logins never lose an increment.
type SQLite struct {
	db   *sqlx.DB
	opts options
}

func NewSQLite(dataDir string, opts ...Option) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbName := filepath.Join(dataDir, DatabaseName)

	db, err := sqlx.Connect("sqlite3", "file:"+dbName+"?_loc=UTC&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite has a single writer anyway
	db.SetMaxOpenConns(1)

	store := &SQLite{db: db, opts: newOptions(opts)}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return store, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	_, err := s.db.Exec(`create table if not exists account(
		ID                  integer not null primary key,
		Email               text not null collate nocase unique,
		Name                text not null,
		Department          text not null,
		PasswordHash        text not null,
		IsActive            boolean not null default 1,
		CreatedAt           DATETIME not null,
		UpdatedAt           DATETIME not null,
		LastLogin           DATETIME null,
		LoginCount          integer not null default 0,
		LastIPAddress       text null,
		FailedLoginAttempts integer not null default 0,
		AccountLockedUntil  DATETIME null,
		SecurityLevel       text not null default 'medium',
		TwoFactorEnabled    boolean not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("creating account table: %w", err)
	}
	return nil
}

func (s *SQLite) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.get(ctx, s.db, `select * from account where Email = ?`, model.NormalizeEmail(email))
}

func (s *SQLite) FindByID(ctx context.Context, id model.UserID) (*model.Account, error) {
	return s.get(ctx, s.db, `select * from account where ID = ?`, id)
}

func (s *SQLite) Create(ctx context.Context, params *model.NewAccount) (*model.Account, error) {
	now := s.opts.timestamp()
	account := &model.Account{
		Email:         model.NormalizeEmail(params.Email),
		Name:          params.Name,
		Department:    params.Department,
		PasswordHash:  params.PasswordHash,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
		SecurityLevel: model.SecurityLevelMedium,
	}

	res, err := s.db.NamedExecContext(ctx, `insert into account
		(Email, Name, Department, PasswordHash, IsActive, CreatedAt, UpdatedAt, LoginCount, FailedLoginAttempts, SecurityLevel, TwoFactorEnabled)
		values(:Email, :Name, :Department, :PasswordHash, :IsActive, :CreatedAt, :UpdatedAt, :LoginCount, :FailedLoginAttempts, :SecurityLevel, :TwoFactorEnabled)`, account)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, model.ErrorDuplicateEmail
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting inserted id: %w", err)
	}
	return s.FindByID(ctx, model.UserID(id))
}

func (s *SQLite) RecordSuccessfulLogin(ctx context.Context, id model.UserID, ipAddress string) (*model.Account, error) {
	now := s.opts.timestamp()
	var ip interface{}
	if ipAddress != "" {
		ip = ipAddress
	}
	return s.update(ctx, `select * from account where ID = ?`, id, `update account set
		LastLogin = ?,
		LoginCount = LoginCount + 1,
		FailedLoginAttempts = 0,
		LastIPAddress = coalesce(?, LastIPAddress),
		UpdatedAt = ?
		where ID = ?`, now, ip, now, id)
}

func (s *SQLite) RecordFailedLogin(ctx context.Context, email string, rule model.LockoutRule) (*model.Account, error) {
	now := s.opts.timestamp()
	key := model.NormalizeEmail(email)
	return s.update(ctx, `select * from account where Email = ?`, key, `update account set
		FailedLoginAttempts = FailedLoginAttempts + 1,
		AccountLockedUntil = case when FailedLoginAttempts + 1 >= ? then ? else AccountLockedUntil end,
		UpdatedAt = ?
		where Email = ?`, rule.MaxAttempts, now.Add(rule.Duration), now, key)
}

func (s *SQLite) ClearLock(ctx context.Context, id model.UserID) (*model.Account, error) {
	now := s.opts.timestamp()
	return s.update(ctx, `select * from account where ID = ?`, id, `update account set
		AccountLockedUntil = null,
		FailedLoginAttempts = 0,
		UpdatedAt = ?
		where ID = ?`, now, id)
}

func (s *SQLite) UpdateProfile(ctx context.Context, id model.UserID, update *model.ProfileUpdate) (*model.Account, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.get(ctx, tx, `select * from account where ID = ?`, id)
	if err != nil {
		return nil, err
	}
	update.Apply(account)
	account.UpdatedAt = s.opts.timestamp()

	_, err = tx.NamedExecContext(ctx, `update account set
		Name = :Name,
		Department = :Department,
		SecurityLevel = :SecurityLevel,
		TwoFactorEnabled = :TwoFactorEnabled,
		IsActive = :IsActive,
		UpdatedAt = :UpdatedAt
		where ID = :ID`, account)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing profile update: %w", err)
	}
	return account, nil
}

func (s *SQLite) List(ctx context.Context) ([]model.PublicAccount, error) {
	var accounts []*model.Account
	if err := s.db.SelectContext(ctx, &accounts, `select * from account order by ID`); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	public := make([]model.PublicAccount, 0, len(accounts))
	for _, a := range accounts {
		public = append(public, a.Public())
	}
	return public, nil
}

// update runs one mutating statement and reads the row back in the same transaction.
func (s *SQLite) update(ctx context.Context, query string, key interface{}, stmt string, args ...interface{}) (*model.Account, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	} else if rows == 0 {
		return nil, model.ErrorUserNotFound
	}

	account, err := s.get(ctx, tx, query, key)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing account update: %w", err)
	}
	return account, nil
}

func (s *SQLite) get(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*model.Account, error) {
	account := &model.Account{}
	if err := sqlx.GetContext(ctx, q, account, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return account, nil
}
