package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/downlee/downlee/internal/domain"
)

// Setting keys used by the chat intake. Values are stored as text.
const (
	SettingProviderAppID   = "provider_app_id"
	SettingProviderAppHash = "provider_app_hash"
	SettingTargetChannelID = "target_channel_id"
)

func (s *Store) GetSetting(key string) (string, error) {
	var value sql.NullString
	query := s.rebind("SELECT value FROM settings WHERE key = ? LIMIT 1")
	err := s.db.QueryRow(query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: fetch setting: %v", domain.ErrStorage, err)
	}
	return value.String, nil
}

func (s *Store) SetSetting(key, value string) error {
	now := time.Now().UTC()

	// Upsert; both backends support the ON CONFLICT form.
	query := s.rebind(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := s.db.Exec(query, key, value, now); err != nil {
		return fmt.Errorf("%w: set setting: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("%w: list settings: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: scan setting: %v", domain.ErrStorage, err)
		}
		out[key] = value.String
	}
	return out, rows.Err()
}

func (s *Store) SetSettings(values map[string]string) error {
	for k, v := range values {
		if err := s.SetSetting(k, v); err != nil {
			return err
		}
	}
	return nil
}
