package pgscan

import (
	"context"
	"time"

	"github.com/BearBump/ScanDock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrSyncKeyExists — скан с таким ключом идемпотентности уже записан.
var ErrSyncKeyExists = errors.New("sync key already recorded")

type RecordScanInput struct {
	ShipmentID uint64
	BranchID   uint64
	DeviceID   string

	Action string
	Status string

	EventTime time.Time

	Lat       *float64
	Lon       *float64
	AccuracyM *float64
	Notes     *string

	SyncKey *string
	BatchID *string

	// MarkSynced выставляет synced_at для сканов из offline-очереди.
	MarkSynced bool
}

type RecordScanResult struct {
	ScanID         uint64
	PreviousStatus string
	NewStatus      string
}

// RecordScan атомарно: блокирует строку отправления (FOR UPDATE, сериализация
// по shipment id), проверяет ключ идемпотентности, вставляет scan_event и
// обновляет статус/локацию отправления. Либо всё, либо ничего.
func (s *Storage) RecordScan(ctx context.Context, in RecordScanInput) (*RecordScanResult, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prevStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM shipments WHERE id = $1 FOR UPDATE`, in.ShipmentID).Scan(&prevStatus)
	if err == pgx.ErrNoRows {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock shipment")
	}

	if in.SyncKey != nil && *in.SyncKey != "" {
		var existing uint64
		err := tx.QueryRow(ctx, `SELECT id FROM scan_events WHERE sync_key = $1`, *in.SyncKey).Scan(&existing)
		if err == nil {
			return nil, ErrSyncKeyExists
		}
		if err != pgx.ErrNoRows {
			return nil, errors.Wrap(err, "check sync key")
		}
	}

	var syncedAt *time.Time
	if in.MarkSynced {
		syncedAt = &now
	}

	var scanID uint64
	err = tx.QueryRow(ctx, `
INSERT INTO scan_events (
  shipment_id, branch_id, device_id, action, status, event_time,
  lat, lon, accuracy_m, notes, sync_key, batch_id, synced_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id
`, in.ShipmentID, in.BranchID, in.DeviceID, in.Action, in.Status, in.EventTime.UTC(),
		in.Lat, in.Lon, in.AccuracyM, in.Notes, in.SyncKey, in.BatchID, syncedAt, now).Scan(&scanID)
	if err != nil {
		// Страховка на случай гонки двух запросов с одним ключом.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_scan_events_sync_key" {
			return nil, ErrSyncKeyExists
		}
		return nil, errors.Wrap(err, "insert scan event")
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET
  status = $2,
  current_location_id = $3,
  last_scanned_at = $4,
  updated_at = now()
WHERE id = $1
`, in.ShipmentID, in.Status, in.BranchID, in.EventTime.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "update shipment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return &RecordScanResult{
		ScanID:         scanID,
		PreviousStatus: prevStatus,
		NewStatus:      in.Status,
	}, nil
}

const scanEventColumns = `
  id, shipment_id, branch_id, device_id, action, status,
  event_time, lat, lon, accuracy_m, notes, sync_key, batch_id, synced_at, created_at`

func scanEventRow(row pgx.Row) (*models.ScanEvent, error) {
	var e models.ScanEvent
	if err := row.Scan(
		&e.ID, &e.ShipmentID, &e.BranchID, &e.DeviceID, &e.Action, &e.Status,
		&e.EventTime, &e.Lat, &e.Lon, &e.AccuracyM, &e.Notes, &e.SyncKey, &e.BatchID, &e.SyncedAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) ListScanEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ScanEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+scanEventColumns+`
FROM scan_events
WHERE shipment_id = $1
ORDER BY event_time DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select scan events")
	}
	defer rows.Close()

	var out []*models.ScanEvent
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event row")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FindRecentScan ищет последний скан того же действия в окне подавления дублей.
// Окно считается по времени записи, а не по event_time: offline-очередь может
// прислать задним числом или из будущего, окно от этого ехать не должно.
func (s *Storage) FindRecentScan(ctx context.Context, shipmentID uint64, action string, since time.Time) (*models.ScanEvent, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+scanEventColumns+`
FROM scan_events
WHERE shipment_id = $1 AND action = $2 AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1
`, shipmentID, action, since.UTC())
	e, err := scanEventRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select recent scan")
	}
	return e, nil
}

// FindAnyScanSince — проверка конфликтов для bulk/offline путей, тоже по
// времени записи.
func (s *Storage) FindAnyScanSince(ctx context.Context, shipmentID uint64, since time.Time) (*models.ScanEvent, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+scanEventColumns+`
FROM scan_events
WHERE shipment_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT 1
`, shipmentID, since.UTC())
	e, err := scanEventRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select any scan since")
	}
	return e, nil
}

func (s *Storage) FindScanBySyncKey(ctx context.Context, syncKey string) (*models.ScanEvent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+scanEventColumns+` FROM scan_events WHERE sync_key = $1`, syncKey)
	e, err := scanEventRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select scan by sync key")
	}
	return e, nil
}
