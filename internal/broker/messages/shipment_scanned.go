package messages

import "time"

// ShipmentScanned публикуется ровно один раз на каждый записанный скан.
type ShipmentScanned struct {
	ScanID      uint64 `json:"scan_id"`
	ShipmentID  uint64 `json:"shipment_id"`
	TrackNumber string `json:"track_number"`
	BranchID    uint64 `json:"branch_id"`
	DeviceID    string `json:"device_id"`

	Action         string `json:"action"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`

	EventTime  time.Time `json:"event_time"`
	RecordedAt time.Time `json:"recorded_at"`

	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`

	SyncKey *string `json:"sync_key,omitempty"`
	BatchID *string `json:"batch_id,omitempty"`
}
