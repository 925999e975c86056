// ABOUTME: Model settings persistence on the single-row settings table
// ABOUTME: Settings are read fresh per turn so mid-session changes take effect immediately

package store

import (
	"context"
	"fmt"
	"time"
)

// GetSettings returns the current model settings.
// The row is seeded at schema creation, so it always exists.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*ModelSettings, error) {
	var ms ModelSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT temperature, top_p, max_tokens, model, host, api_key
		FROM settings WHERE id = 1
	`).Scan(&ms.Temperature, &ms.TopP, &ms.MaxTokens, &ms.Model, &ms.Host, &ms.APIKey)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	return &ms, nil
}

// SaveSettings replaces the current model settings
func (s *SQLiteStore) SaveSettings(ctx context.Context, ms *ModelSettings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings
		SET temperature = ?, top_p = ?, max_tokens = ?, model = ?, host = ?, api_key = ?, updated_at = ?
		WHERE id = 1
	`, ms.Temperature, ms.TopP, ms.MaxTokens, ms.Model, ms.Host, ms.APIKey,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}

	s.logger.Debug("saved settings", "model", ms.Model, "host", ms.Host)
	return nil
}
