package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidKey is returned when a setting key contains invalid characters.
var ErrInvalidKey = errors.New("invalid setting key")

// Well-known setting keys. Settings override the file config at runtime
// without a restart.
const (
	SettingProvider = "extraction.provider"
	SettingModel    = "extraction.model"
	SettingPrompt   = "extraction.prompt"
)

// Setting is a single runtime setting.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateKey checks that a setting key contains only letters, digits,
// dots, underscores, and hyphens. This protects against typos and
// malformed keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Setting returns a single setting by key, or nil when unset.
func (s *Store) Setting(ctx context.Context, key string) (*Setting, error) {
	var out Setting
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&out.Key, &out.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	out.UpdatedAt = time.UnixMilli(updated)
	return &out, nil
}

// SetSetting creates or updates a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// Settings returns all settings keyed by name.
func (s *Store) Settings(ctx context.Context) (map[string]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Setting)
	for rows.Next() {
		var entry Setting
		var updated int64
		if err := rows.Scan(&entry.Key, &entry.Value, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		entry.UpdatedAt = time.UnixMilli(updated)
		out[entry.Key] = entry
	}
	return out, rows.Err()
}

// SettingsByPrefix returns settings whose keys start with the prefix.
func (s *Store) SettingsByPrefix(ctx context.Context, prefix string) (map[string]Setting, error) {
	all, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Setting)
	for key, entry := range all {
		if strings.HasPrefix(key, prefix) {
			out[key] = entry
		}
	}
	return out, nil
}

// DeleteSetting removes a setting. Deleting an absent key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}
