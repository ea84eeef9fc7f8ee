// Package users is the credential store backed by the users database. It maps a username to a
// bcrypt password hash, a role and the last session id. Session issuance lives elsewhere.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/wirecutter/app/store"
)

// known roles
const (
	RoleAdmin = "admin"
	RoleBasic = "basic"
)

// UnitOfWork runs op inside one transaction on one pooled connection, see store.Gateway
type UnitOfWork interface {
	Do(ctx context.Context, op func(tx *sqlx.Tx) error) error
}

// Credential is a stored user record
type Credential struct {
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	SessionID    string `db:"session_id"`
}

// Registration is a new user request
type Registration struct {
	Username     string `yaml:"username" db:"username"`
	PasswordHash string `yaml:"password_hash" db:"password_hash"` // bcrypt hash
	Role         string `yaml:"role" db:"role"`
	Email        string `yaml:"email" db:"email"`
	Name         string `yaml:"name" db:"name"`
}

// Store implements credential lookups and registration
type Store struct {
	gw UnitOfWork
}

// Schema defines the users table, per driver
var Schema = store.Schema{
	store.DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'basic',
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		)`,
	},
	store.DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'basic',
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT ''
		)`,
	},
}

// New makes a credential store on top of the users database
func New(gw UnitOfWork) *Store {
	return &Store{gw: gw}
}

// Lookup returns the credential for username, ErrNotFound if there is no such user
func (s *Store) Lookup(ctx context.Context, username string) (cred Credential, err error) {
	err = s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &cred, tx.Rebind(`SELECT username, password_hash, role, email, name, session_id
			FROM users WHERE username = ?`), username)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get user %q: %w", username, err)
		}
		return nil
	})
	return cred, err
}

// SetSession stores the session token for username
func (s *Store) SetSession(ctx context.Context, username, token string) error {
	return s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET session_id = ? WHERE username = ?`), token, username)
		if err != nil {
			return fmt.Errorf("failed to set session for %q: %w", username, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil
	})
}

// Register adds a new user, ErrAlreadyExists if the username is taken. Empty role means basic.
func (s *Store) Register(ctx context.Context, r Registration) error {
	if strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("%w: username is required", store.ErrInvalid)
	}
	if r.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", store.ErrInvalid)
	}
	if _, err := bcrypt.Cost([]byte(r.PasswordHash)); err != nil {
		return fmt.Errorf("%w: password hash for %q is not a bcrypt hash", store.ErrInvalid, r.Username)
	}
	switch r.Role {
	case "":
		r.Role = RoleBasic
	case RoleAdmin, RoleBasic:
	default:
		return fmt.Errorf("%w: unknown role %q", store.ErrInvalid, r.Role)
	}

	err := s.gw.Do(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM users WHERE username = ?`), r.Username); err != nil {
			return fmt.Errorf("failed to check user %q: %w", r.Username, err)
		}
		if count > 0 {
			return fmt.Errorf("user %q: %w", r.Username, store.ErrAlreadyExists)
		}
		_, err := tx.NamedExecContext(ctx, `INSERT INTO users (username, password_hash, role, email, name)
			VALUES (:username, :password_hash, :role, :email, :name)`, r)
		if err != nil {
			return fmt.Errorf("failed to insert user %q: %w", r.Username, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] user %q registered with role %s", r.Username, r.Role)
	return nil
}

// Authenticate checks password against the stored bcrypt hash. Unknown users and wrong
// passwords both return ErrUnauthorized.
func (s *Store) Authenticate(ctx context.Context, username, password string) (Credential, error) {
	cred, err := s.Lookup(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return Credential{}, fmt.Errorf("user %q: %w", username, store.ErrUnauthorized)
	}
	if err != nil {
		return Credential{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Credential{}, fmt.Errorf("user %q: %w", username, store.ErrUnauthorized)
	}
	return cred, nil
}
