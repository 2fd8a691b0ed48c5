package database

import (
	"database/sql"
	"fmt"
)

// Runtime-tunable settings (analysis model version, batch profile) live
// in the config table so they can change without a restart.

// GetAllConfig retrieves all configuration entries from the database
func (s *SQLiteDB) GetAllConfig() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM config")
	if err != nil {
		return nil, fmt.Errorf("failed to query config: %v", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %v", err)
		}
		config[key] = value
	}
	return config, rows.Err()
}

// GetConfig retrieves a single configuration value by key
func (s *SQLiteDB) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config for key %s: %v", key, err)
	}
	return value, nil
}

// SetConfig sets a configuration value, creating it if it doesn't exist
func (s *SQLiteDB) SetConfig(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %v", key, err)
	}
	return nil
}

// DeleteConfig removes a configuration entry by key
func (s *SQLiteDB) DeleteConfig(key string) error {
	_, err := s.db.Exec("DELETE FROM config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config %s: %v", key, err)
	}
	return nil
}
