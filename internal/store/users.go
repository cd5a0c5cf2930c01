package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/downlee/downlee/internal/domain"
)

func (s *Store) CreateUser(username, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	query := s.rebind("INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)")

	u := &domain.User{Username: username, PasswordHash: string(hash), CreatedAt: now}

	if s.driver == driverPostgres {
		if err := s.db.QueryRow(query+" RETURNING id", username, string(hash), now).Scan(&u.ID); err != nil {
			return nil, fmt.Errorf("%w: insert user: %v", domain.ErrStorage, err)
		}
		return u, nil
	}

	res, err := s.db.Exec(query, username, string(hash), now)
	if err != nil {
		return nil, fmt.Errorf("%w: insert user: %v", domain.ErrStorage, err)
	}
	u.ID, _ = res.LastInsertId()
	return u, nil
}

func (s *Store) UserByUsername(username string) (*domain.User, error) {
	u := &domain.User{}
	query := s.rebind("SELECT id, username, password_hash, created_at FROM users WHERE username = ? LIMIT 1")
	err := s.db.QueryRow(query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: fetch user: %v", domain.ErrStorage, err)
	}
	return u, nil
}

// Authenticate verifies the credentials and returns the user, or ErrNotFound
// for both an unknown username and a wrong password.
func (s *Store) Authenticate(username, password string) (*domain.User, error) {
	u, err := s.UserByUsername(username)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

// UpdatePassword verifies the current password before writing the new hash.
func (s *Store) UpdatePassword(userID int64, current, next string) error {
	var hash string
	query := s.rebind("SELECT password_hash FROM users WHERE id = ? LIMIT 1")
	if err := s.db.QueryRow(query, userID).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: fetch user: %v", domain.ErrStorage, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)) != nil {
		return domain.ErrNotFound
	}

	return s.SetPassword(userID, next)
}

// SetPassword writes a new hash without verifying the old one. Reserved for
// the admin reset command.
func (s *Store) SetPassword(userID int64, password string) error {
	newHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res, err := s.db.Exec(s.rebind("UPDATE users SET password_hash = ? WHERE id = ?"), string(newHash), userID)
	if err != nil {
		return fmt.Errorf("%w: update password: %v", domain.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SeedDefaultUser creates the initial operator account on first run. The
// generated password is printed once through the logger; the operator is
// expected to change it.
func (s *Store) SeedDefaultUser() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("%w: count users: %v", domain.ErrStorage, err)
	}
	if count > 0 {
		return nil
	}

	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	password := hex.EncodeToString(buf)

	if _, err := s.CreateUser("admin", password); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("seeded default account: username=admin password=%s (change it via the web settings)", password)
	}
	return nil
}
