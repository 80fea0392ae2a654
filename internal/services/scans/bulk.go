package scans

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type BulkScanItem struct {
	TrackNumber string
	Action      string
	BranchID    uint64
	EventTime   time.Time

	Notes     *string
	SyncKey   *string
	Lat       *float64
	Lon       *float64
	AccuracyM *float64

	// Force записывает скан, даже если по отправлению недавно была
	// активность из другого источника.
	Force bool
}

type BulkScanRequest struct {
	DeviceID    string
	DeviceToken string
	BatchID     string
	Items       []BulkScanItem
}

type BulkItemError struct {
	Index       int
	TrackNumber string
	Kind        ErrorKind
	Message     string
	// PriorScanID заполнен для дублей, чтобы клиент мог сверить локальную очередь.
	PriorScanID uint64
	SyncKey     string
}

type BulkItemConflict struct {
	Index       int
	TrackNumber string
	PriorScanID uint64
	SyncKey     string
}

type BulkScanResult struct {
	BatchID   string
	Processed []*ScanResult
	Failed    []BulkItemError
	Conflicts []BulkItemConflict
}

// BulkScan обрабатывает элементы независимо: сбой одного не роняет соседей.
// Аутентификация и лимит класса bulk проверяются один раз на партию.
func (s *Service) BulkScan(ctx context.Context, req BulkScanRequest) (*BulkScanResult, error) {
	if len(req.Items) == 0 {
		return nil, validationError("items is empty")
	}
	if len(req.Items) > 1_000 {
		return nil, validationError("too many items (max 1000)")
	}

	if _, err := s.authenticateDevice(ctx, req.DeviceID, req.DeviceToken); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, req.DeviceID, "bulk", s.bulkLimit); err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	out := &BulkScanResult{BatchID: batchID}
	for i, item := range req.Items {
		res, err := s.scanOne(ctx, ScanRequest{
			DeviceID:    req.DeviceID,
			TrackNumber: item.TrackNumber,
			Action:      item.Action,
			BranchID:    item.BranchID,
			EventTime:   item.EventTime,
			Notes:       item.Notes,
			SyncKey:     item.SyncKey,
			BatchID:     &batchID,
			Lat:         item.Lat,
			Lon:         item.Lon,
			AccuracyM:   item.AccuracyM,
		}, !item.Force, false)
		if err != nil {
			out.bucketError(i, item.TrackNumber, item.SyncKey, err)
			continue
		}
		out.Processed = append(out.Processed, res)
	}
	return out, nil
}

func (r *BulkScanResult) bucketError(i int, trackNumber string, syncKey *string, err error) {
	key := ""
	if syncKey != nil {
		key = *syncKey
	}
	if e, ok := AsError(err); ok && e.Kind == KindConflict {
		r.Conflicts = append(r.Conflicts, BulkItemConflict{
			Index:       i,
			TrackNumber: trackNumber,
			PriorScanID: e.PriorScanID,
			SyncKey:     key,
		})
		return
	}

	fe := BulkItemError{Index: i, TrackNumber: trackNumber, SyncKey: key}
	if e, ok := AsError(err); ok {
		fe.Kind = e.Kind
		fe.Message = e.Msg
		fe.PriorScanID = e.PriorScanID
	} else {
		fe.Kind = KindRecording
		fe.Message = err.Error()
	}
	r.Failed = append(r.Failed, fe)
}
