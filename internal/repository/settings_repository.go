package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lewtec/rotulador-keypoints/internal/domain"
)

// SettingsRepository implements domain.SettingsRepository on SQLite
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `select value from settings where key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.WrapIO("reading setting "+key, err)
	}
	return value, true, nil
}

func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
insert into settings (key, value) values (?, ?)
on conflict(key) do update set value = excluded.value, updated_at = current_timestamp
    `, key, value)
	if err != nil {
		return domain.WrapIO("writing setting "+key, err)
	}
	return nil
}
