package pgscan

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS branches (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  is_hub BOOLEAN NOT NULL DEFAULT FALSE,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  UNIQUE (code)
)`,
		`
CREATE TABLE IF NOT EXISTS devices (
  id TEXT PRIMARY KEY,
  token TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  last_seen_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  track_number TEXT NOT NULL,
  origin_branch_id BIGINT NOT NULL REFERENCES branches(id),
  destination_branch_id BIGINT NOT NULL REFERENCES branches(id),
  status TEXT NOT NULL,
  current_location_id BIGINT NULL REFERENCES branches(id),
  last_scanned_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (track_number)
)`,
		`
CREATE TABLE IF NOT EXISTS scan_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  branch_id BIGINT NOT NULL REFERENCES branches(id),
  device_id TEXT NOT NULL REFERENCES devices(id),
  action TEXT NOT NULL,
  status TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  lat DOUBLE PRECISION NULL,
  lon DOUBLE PRECISION NULL,
  accuracy_m DOUBLE PRECISION NULL,
  notes TEXT NULL,
  sync_key TEXT NULL,
  batch_id TEXT NULL,
  synced_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_shipment_id_event_time ON scan_events(shipment_id, event_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_shipment_id_action ON scan_events(shipment_id, action, event_time DESC)`,
		// Ключ идемпотентности уникален глобально: повторная вставка обязана упасть.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_scan_events_sync_key ON scan_events(sync_key) WHERE sync_key IS NOT NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
