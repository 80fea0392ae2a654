package scans_api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ScanDock/internal/models"
	"github.com/BearBump/ScanDock/internal/services/scans"
	"github.com/go-chi/chi/v5"
)

type ScansAPI struct {
	svc *scans.Service
}

func New(svc *scans.Service) *ScansAPI {
	return &ScansAPI{svc: svc}
}

func (a *ScansAPI) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Post("/v1/scans", a.handleScan)
	r.Post("/v1/scans/bulk", a.handleBulkScan)
	r.Post("/v1/scans/sync", a.handleOfflineSync)
	r.Post("/v1/shipments", a.handleCreateShipments)
	r.Get("/v1/shipments/{trackNumber}/status", a.handleShipmentStatus)
	r.Get("/v1/shipments/{trackNumber}/events", a.handleListScanEvents)

	return r
}

type geolocation struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	AccuracyM *float64 `json:"accuracyM,omitempty"`
}

type scanRequest struct {
	TrackNumber string       `json:"trackingNumber"`
	Action      string       `json:"action"`
	LocationID  uint64       `json:"locationId"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
	SyncKey     *string      `json:"offlineSyncKey,omitempty"`
	Geolocation *geolocation `json:"geolocation,omitempty"`
}

type scanResponse struct {
	ScanID             uint64 `json:"scanId"`
	ShipmentID         uint64 `json:"shipmentId"`
	TrackNumber        string `json:"trackingNumber"`
	Status             string `json:"status"`
	PreviousStatus     string `json:"previousStatus,omitempty"`
	NextExpectedAction string `json:"nextExpectedAction,omitempty"`
	AlreadyApplied     bool   `json:"alreadyApplied,omitempty"`
	SyncKey            string `json:"offlineSyncKey,omitempty"`
}

func toScanResponse(res *scans.ScanResult) scanResponse {
	return scanResponse{
		ScanID:             res.ScanID,
		ShipmentID:         res.ShipmentID,
		TrackNumber:        res.TrackNumber,
		Status:             res.Status,
		PreviousStatus:     res.PreviousStatus,
		NextExpectedAction: res.NextExpectedAction,
		AlreadyApplied:     res.AlreadyApplied,
		SyncKey:            res.SyncKey,
	}
}

func (a *ScansAPI) handleScan(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadJSON(w)
		return
	}

	req := scans.ScanRequest{
		DeviceID:    r.Header.Get(headerDeviceID),
		DeviceToken: r.Header.Get(headerDeviceToken),
		TrackNumber: body.TrackNumber,
		Action:      body.Action,
		BranchID:    body.LocationID,
		Notes:       body.Notes,
		SyncKey:     body.SyncKey,
	}
	if body.Timestamp != nil {
		req.EventTime = *body.Timestamp
	}
	if body.Geolocation != nil {
		req.Lat = body.Geolocation.Lat
		req.Lon = body.Geolocation.Lon
		req.AccuracyM = body.Geolocation.AccuracyM
	}

	res, err := a.svc.Scan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(res))
}

type bulkScanItem struct {
	TrackNumber string       `json:"trackingNumber"`
	Action      string       `json:"action"`
	LocationID  uint64       `json:"locationId"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
	SyncKey     *string      `json:"offlineSyncKey,omitempty"`
	Geolocation *geolocation `json:"geolocation,omitempty"`
	Force       bool         `json:"force,omitempty"`
}

type bulkScanRequest struct {
	BatchID string         `json:"batchId,omitempty"`
	Items   []bulkScanItem `json:"items"`
}

type bulkItemError struct {
	Index       int    `json:"index"`
	TrackNumber string `json:"trackingNumber"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	PriorScanID uint64 `json:"priorScanId,omitempty"`
	SyncKey     string `json:"offlineSyncKey,omitempty"`
}

type bulkItemConflict struct {
	Index       int    `json:"index"`
	TrackNumber string `json:"trackingNumber"`
	PriorScanID uint64 `json:"priorScanId"`
	SyncKey     string `json:"offlineSyncKey,omitempty"`
}

type bulkScanResponse struct {
	BatchID   string             `json:"batchId"`
	Processed []scanResponse     `json:"processed"`
	Failed    []bulkItemError    `json:"failed"`
	Conflicts []bulkItemConflict `json:"conflicts"`
}

func (a *ScansAPI) handleBulkScan(w http.ResponseWriter, r *http.Request) {
	var body bulkScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadJSON(w)
		return
	}

	req := scans.BulkScanRequest{
		DeviceID:    r.Header.Get(headerDeviceID),
		DeviceToken: r.Header.Get(headerDeviceToken),
		BatchID:     body.BatchID,
		Items:       make([]scans.BulkScanItem, 0, len(body.Items)),
	}
	for _, it := range body.Items {
		item := scans.BulkScanItem{
			TrackNumber: it.TrackNumber,
			Action:      it.Action,
			BranchID:    it.LocationID,
			Notes:       it.Notes,
			SyncKey:     it.SyncKey,
			Force:       it.Force,
		}
		if it.Timestamp != nil {
			item.EventTime = *it.Timestamp
		}
		if it.Geolocation != nil {
			item.Lat = it.Geolocation.Lat
			item.Lon = it.Geolocation.Lon
			item.AccuracyM = it.Geolocation.AccuracyM
		}
		req.Items = append(req.Items, item)
	}

	out, err := a.svc.BulkScan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := bulkScanResponse{
		BatchID:   out.BatchID,
		Processed: make([]scanResponse, 0, len(out.Processed)),
		Failed:    make([]bulkItemError, 0, len(out.Failed)),
		Conflicts: make([]bulkItemConflict, 0, len(out.Conflicts)),
	}
	for _, p := range out.Processed {
		resp.Processed = append(resp.Processed, toScanResponse(p))
	}
	for _, f := range out.Failed {
		resp.Failed = append(resp.Failed, bulkItemError{
			Index:       f.Index,
			TrackNumber: f.TrackNumber,
			Kind:        string(f.Kind),
			Message:     f.Message,
			PriorScanID: f.PriorScanID,
			SyncKey:     f.SyncKey,
		})
	}
	for _, c := range out.Conflicts {
		resp.Conflicts = append(resp.Conflicts, bulkItemConflict{
			Index:       c.Index,
			TrackNumber: c.TrackNumber,
			PriorScanID: c.PriorScanID,
			SyncKey:     c.SyncKey,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type offlineScanItem struct {
	SyncKey     string       `json:"offlineSyncKey"`
	TrackNumber string       `json:"trackingNumber"`
	Action      string       `json:"action"`
	LocationID  uint64       `json:"locationId"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Notes       *string      `json:"notes,omitempty"`
	Geolocation *geolocation `json:"geolocation,omitempty"`
	Force       bool         `json:"force,omitempty"`
}

type offlineSyncRequest struct {
	BatchID      string            `json:"batchId,omitempty"`
	PendingScans []offlineScanItem `json:"pendingScans"`
}

type offlineSyncResponse struct {
	Processed []scanResponse     `json:"processed"`
	Conflicts []bulkItemConflict `json:"conflicts"`
	Errors    []bulkItemError    `json:"errors"`
}

func (a *ScansAPI) handleOfflineSync(w http.ResponseWriter, r *http.Request) {
	var body offlineSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadJSON(w)
		return
	}

	req := scans.OfflineSyncRequest{
		DeviceID:    r.Header.Get(headerDeviceID),
		DeviceToken: r.Header.Get(headerDeviceToken),
		BatchID:     body.BatchID,
		Items:       make([]scans.OfflineScanItem, 0, len(body.PendingScans)),
	}
	for _, it := range body.PendingScans {
		item := scans.OfflineScanItem{
			SyncKey:     it.SyncKey,
			TrackNumber: it.TrackNumber,
			Action:      it.Action,
			BranchID:    it.LocationID,
			Notes:       it.Notes,
			Force:       it.Force,
		}
		if it.Timestamp != nil {
			item.EventTime = *it.Timestamp
		}
		if it.Geolocation != nil {
			item.Lat = it.Geolocation.Lat
			item.Lon = it.Geolocation.Lon
			item.AccuracyM = it.Geolocation.AccuracyM
		}
		req.Items = append(req.Items, item)
	}

	out, err := a.svc.OfflineSync(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := offlineSyncResponse{
		Processed: make([]scanResponse, 0, len(out.Processed)),
		Conflicts: make([]bulkItemConflict, 0, len(out.Conflicts)),
		Errors:    make([]bulkItemError, 0, len(out.Errors)),
	}
	for _, p := range out.Processed {
		resp.Processed = append(resp.Processed, toScanResponse(p))
	}
	for _, c := range out.Conflicts {
		resp.Conflicts = append(resp.Conflicts, bulkItemConflict{
			Index:       c.Index,
			TrackNumber: c.TrackNumber,
			PriorScanID: c.PriorScanID,
			SyncKey:     c.SyncKey,
		})
	}
	for _, e := range out.Errors {
		resp.Errors = append(resp.Errors, bulkItemError{
			Index:       e.Index,
			TrackNumber: e.TrackNumber,
			Kind:        string(e.Kind),
			Message:     e.Message,
			PriorScanID: e.PriorScanID,
			SyncKey:     e.SyncKey,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createShipmentItem struct {
	TrackNumber         string `json:"trackingNumber"`
	OriginBranchID      uint64 `json:"originBranchId"`
	DestinationBranchID uint64 `json:"destinationBranchId"`
}

type createShipmentsRequest struct {
	Items []createShipmentItem `json:"items"`
}

type shipmentResponse struct {
	ID                  uint64     `json:"id"`
	TrackNumber         string     `json:"trackingNumber"`
	OriginBranchID      uint64     `json:"originBranchId"`
	DestinationBranchID uint64     `json:"destinationBranchId"`
	Status              string     `json:"status"`
	CurrentLocationID   *uint64    `json:"currentLocationId,omitempty"`
	LastScannedAt       *time.Time `json:"lastScannedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func (a *ScansAPI) handleCreateShipments(w http.ResponseWriter, r *http.Request) {
	var body createShipmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadJSON(w)
		return
	}

	in := make([]models.ShipmentCreateInput, 0, len(body.Items))
	for _, it := range body.Items {
		in = append(in, models.ShipmentCreateInput{
			TrackNumber:         it.TrackNumber,
			OriginBranchID:      it.OriginBranchID,
			DestinationBranchID: it.DestinationBranchID,
		})
	}

	out, err := a.svc.CreateShipments(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		Shipments []shipmentResponse `json:"shipments"`
	}{Shipments: make([]shipmentResponse, 0, len(out))}
	for _, sh := range out {
		resp.Shipments = append(resp.Shipments, shipmentResponse{
			ID:                  sh.ID,
			TrackNumber:         sh.TrackNumber,
			OriginBranchID:      sh.OriginBranchID,
			DestinationBranchID: sh.DestinationBranchID,
			Status:              sh.Status,
			CurrentLocationID:   sh.CurrentLocationID,
			LastScannedAt:       sh.LastScannedAt,
			CreatedAt:           sh.CreatedAt,
			UpdatedAt:           sh.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	TrackNumber   string     `json:"trackingNumber"`
	Status        string     `json:"status"`
	LocationID    *uint64    `json:"locationId,omitempty"`
	LastScannedAt *time.Time `json:"lastScannedAt,omitempty"`
}

func (a *ScansAPI) handleShipmentStatus(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.ShipmentStatus(r.Context(), chi.URLParam(r, "trackNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		TrackNumber:   info.TrackNumber,
		Status:        info.Status,
		LocationID:    info.LocationID,
		LastScannedAt: info.LastScannedAt,
	})
}

type scanEventResponse struct {
	ID        uint64     `json:"id"`
	BranchID  uint64     `json:"branchId"`
	DeviceID  string     `json:"deviceId"`
	Action    string     `json:"action"`
	Status    string     `json:"status"`
	EventTime time.Time  `json:"eventTime"`
	Notes     *string    `json:"notes,omitempty"`
	SyncKey   *string    `json:"offlineSyncKey,omitempty"`
	BatchID   *string    `json:"batchId,omitempty"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

func (a *ScansAPI) handleListScanEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	evs, err := a.svc.ListScanEvents(r.Context(), chi.URLParam(r, "trackNumber"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		Events []scanEventResponse `json:"events"`
	}{Events: make([]scanEventResponse, 0, len(evs))}
	for _, e := range evs {
		resp.Events = append(resp.Events, scanEventResponse{
			ID:        e.ID,
			BranchID:  e.BranchID,
			DeviceID:  e.DeviceID,
			Action:    e.Action,
			Status:    e.Status,
			EventTime: e.EventTime,
			Notes:     e.Notes,
			SyncKey:   e.SyncKey,
			BatchID:   e.BatchID,
			SyncedAt:  e.SyncedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
