package pgscan

import (
	"context"

	"github.com/BearBump/ScanDock/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrBranchNotFound = errors.New("branch not found")

func (s *Storage) GetBranchByID(ctx context.Context, branchID uint64) (*models.Branch, error) {
	var b models.Branch
	err := s.db.QueryRow(ctx, `
SELECT id, code, name, is_hub, is_active
FROM branches
WHERE id = $1
`, branchID).Scan(&b.ID, &b.Code, &b.Name, &b.IsHub, &b.IsActive)
	if err == pgx.ErrNoRows {
		return nil, ErrBranchNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select branch")
	}
	return &b, nil
}

func (s *Storage) UpsertBranch(ctx context.Context, b models.Branch) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO branches (code, name, is_hub, is_active)
VALUES ($1,$2,$3,$4)
ON CONFLICT (code)
DO UPDATE SET name = EXCLUDED.name, is_hub = EXCLUDED.is_hub, is_active = EXCLUDED.is_active
RETURNING id
`, b.Code, b.Name, b.IsHub, b.IsActive).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "upsert branch")
	}
	return id, nil
}
