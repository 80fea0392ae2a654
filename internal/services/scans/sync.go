package scans

import (
	"context"
	"time"
)

type OfflineScanItem struct {
	SyncKey     string
	TrackNumber string
	Action      string
	BranchID    uint64
	EventTime   time.Time

	Notes     *string
	Lat       *float64
	Lon       *float64
	AccuracyM *float64

	Force bool
}

type OfflineSyncRequest struct {
	DeviceID    string
	DeviceToken string
	BatchID     string
	Items       []OfflineScanItem
}

type OfflineSyncResult struct {
	Processed []*ScanResult
	Conflicts []BulkItemConflict
	Errors    []BulkItemError
}

// OfflineSync применяет накопленную offline-очередь устройства. Каждый элемент
// обязан нести ключ идемпотентности: повтор после успешного синка возвращает
// "уже применено", а не вторую запись.
func (s *Service) OfflineSync(ctx context.Context, req OfflineSyncRequest) (*OfflineSyncResult, error) {
	if len(req.Items) == 0 {
		return nil, validationError("pendingScans is empty")
	}
	if len(req.Items) > 1_000 {
		return nil, validationError("too many items (max 1000)")
	}

	if _, err := s.authenticateDevice(ctx, req.DeviceID, req.DeviceToken); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, req.DeviceID, "sync", s.bulkLimit); err != nil {
		return nil, err
	}

	out := &OfflineSyncResult{}
	for i, item := range req.Items {
		if item.SyncKey == "" {
			out.Errors = append(out.Errors, BulkItemError{
				Index:       i,
				TrackNumber: item.TrackNumber,
				Kind:        KindValidation,
				Message:     "offlineSyncKey is required",
			})
			continue
		}

		syncKey := item.SyncKey
		var batchID *string
		if req.BatchID != "" {
			batchID = &req.BatchID
		}

		res, err := s.scanOne(ctx, ScanRequest{
			DeviceID:    req.DeviceID,
			TrackNumber: item.TrackNumber,
			Action:      item.Action,
			BranchID:    item.BranchID,
			EventTime:   item.EventTime,
			Notes:       item.Notes,
			SyncKey:     &syncKey,
			BatchID:     batchID,
			Lat:         item.Lat,
			Lon:         item.Lon,
			AccuracyM:   item.AccuracyM,
		}, !item.Force, true)
		if err != nil {
			if e, ok := AsError(err); ok && e.Kind == KindConflict {
				out.Conflicts = append(out.Conflicts, BulkItemConflict{
					Index:       i,
					TrackNumber: item.TrackNumber,
					PriorScanID: e.PriorScanID,
					SyncKey:     syncKey,
				})
				continue
			}
			be := BulkItemError{Index: i, TrackNumber: item.TrackNumber, SyncKey: syncKey}
			if e, ok := AsError(err); ok {
				be.Kind = e.Kind
				be.Message = e.Msg
				be.PriorScanID = e.PriorScanID
			} else {
				be.Kind = KindRecording
				be.Message = err.Error()
			}
			out.Errors = append(out.Errors, be)
			continue
		}
		out.Processed = append(out.Processed, res)
	}
	return out, nil
}
