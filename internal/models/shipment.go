package models

import "time"

type Shipment struct {
	ID                  uint64
	TrackNumber         string
	OriginBranchID      uint64
	DestinationBranchID uint64
	Status              string
	CurrentLocationID   *uint64
	LastScannedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ScanEvent — одна запись аудита, append-only.
type ScanEvent struct {
	ID         uint64
	ShipmentID uint64
	BranchID   uint64
	DeviceID   string
	Action     string
	Status     string
	EventTime  time.Time
	Lat        *float64
	Lon        *float64
	AccuracyM  *float64
	Notes      *string
	SyncKey    *string
	BatchID    *string
	SyncedAt   *time.Time
	CreatedAt  time.Time
}

type Device struct {
	ID         string
	Token      string
	Name       string
	IsActive   bool
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

type Branch struct {
	ID       uint64
	Code     string
	Name     string
	IsHub    bool
	IsActive bool
}

type ShipmentCreateInput struct {
	TrackNumber         string
	OriginBranchID      uint64
	DestinationBranchID uint64
}
