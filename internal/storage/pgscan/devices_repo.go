package pgscan

import (
	"context"
	"time"

	"github.com/BearBump/ScanDock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrDeviceNotFound = errors.New("device not found")

func (s *Storage) GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	var lastSeenAt *time.Time
	err := s.db.QueryRow(ctx, `
SELECT id, token, name, is_active, last_seen_at, created_at
FROM devices
WHERE id = $1
`, deviceID).Scan(&d.ID, &d.Token, &d.Name, &d.IsActive, &lastSeenAt, &d.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select device")
	}
	d.LastSeenAt = lastSeenAt
	return &d, nil
}

func (s *Storage) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE devices SET last_seen_at = $2 WHERE id = $1`, deviceID, seenAt.UTC())
	return errors.Wrap(err, "touch device")
}

// UpsertDevice используется при провижининге устройств (ops-инструменты и тесты).
func (s *Storage) UpsertDevice(ctx context.Context, d models.Device) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO devices (id, token, name, is_active, created_at)
VALUES ($1,$2,$3,$4, now())
ON CONFLICT (id)
DO UPDATE SET token = EXCLUDED.token, name = EXCLUDED.name, is_active = EXCLUDED.is_active
`, d.ID, d.Token, d.Name, d.IsActive)
	return errors.Wrap(err, "upsert device")
}
