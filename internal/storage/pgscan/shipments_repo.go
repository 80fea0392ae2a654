package pgscan

import (
	"context"
	"time"

	"github.com/BearBump/ScanDock/internal/lifecycle"
	"github.com/BearBump/ScanDock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrShipmentNotFound возвращается при отсутствии отправления.
var ErrShipmentNotFound = errors.New("shipment not found")

func (s *Storage) CreateOrGetShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO shipments (
  track_number, origin_branch_id, destination_branch_id, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (track_number)
DO UPDATE SET updated_at = shipments.updated_at
RETURNING id
`, it.TrackNumber, it.OriginBranchID, it.DestinationBranchID, lifecycle.StatusBooked, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert shipment")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetShipmentsByIDs(ctx, ids)
}

const shipmentColumns = `
  id, track_number, origin_branch_id, destination_branch_id,
  status, current_location_id, last_scanned_at,
  created_at, updated_at`

func scanShipmentRow(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var locationID *uint64
	var lastScannedAt *time.Time
	if err := row.Scan(
		&sh.ID, &sh.TrackNumber, &sh.OriginBranchID, &sh.DestinationBranchID,
		&sh.Status, &locationID, &lastScannedAt,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sh.CurrentLocationID = locationID
	sh.LastScannedAt = lastScannedAt
	return &sh, nil
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, len(ids))
	for rows.Next() {
		sh, err := scanShipmentRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetShipmentByTrackNumber(ctx context.Context, trackNumber string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE track_number = $1`, trackNumber)
	sh, err := scanShipmentRow(row)
	if err == pgx.ErrNoRows {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by track number")
	}
	return sh, nil
}
