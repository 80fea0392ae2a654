package scans_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ScanDock/internal/models"
	"github.com/BearBump/ScanDock/internal/services/scans"
	"github.com/BearBump/ScanDock/internal/storage/pgscan"
	"github.com/stretchr/testify/require"
)

type apiRepo struct {
	shipments map[string]*models.Shipment
	devices   map[string]*models.Device
	branches  map[uint64]*models.Branch
	events    []*models.ScanEvent

	nextScanID uint64
	lastLimit  int
	lastOffset int
}

func newAPIRepo() *apiRepo {
	return &apiRepo{
		shipments: map[string]*models.Shipment{},
		devices:   map[string]*models.Device{},
		branches:  map[uint64]*models.Branch{},
	}
}

func (r *apiRepo) CreateOrGetShipments(_ context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	out := make([]*models.Shipment, 0, len(items))
	for _, it := range items {
		sh, ok := r.shipments[it.TrackNumber]
		if !ok {
			sh = &models.Shipment{
				ID:                  uint64(len(r.shipments) + 1),
				TrackNumber:         it.TrackNumber,
				OriginBranchID:      it.OriginBranchID,
				DestinationBranchID: it.DestinationBranchID,
				Status:              "BOOKED",
				CreatedAt:           time.Now().UTC(),
				UpdatedAt:           time.Now().UTC(),
			}
			r.shipments[it.TrackNumber] = sh
		}
		out = append(out, sh)
	}
	return out, nil
}

func (r *apiRepo) GetShipmentByTrackNumber(_ context.Context, trackNumber string) (*models.Shipment, error) {
	sh, ok := r.shipments[trackNumber]
	if !ok {
		return nil, pgscan.ErrShipmentNotFound
	}
	return sh, nil
}

func (r *apiRepo) ListScanEvents(_ context.Context, shipmentID uint64, limit, offset int) ([]*models.ScanEvent, error) {
	r.lastLimit, r.lastOffset = limit, offset
	var out []*models.ScanEvent
	for _, e := range r.events {
		if e.ShipmentID == shipmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *apiRepo) FindRecentScan(_ context.Context, shipmentID uint64, action string, since time.Time) (*models.ScanEvent, error) {
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.ShipmentID == shipmentID && e.Action == action && !e.CreatedAt.Before(since) {
			return e, nil
		}
	}
	return nil, nil
}

func (r *apiRepo) FindAnyScanSince(_ context.Context, shipmentID uint64, since time.Time) (*models.ScanEvent, error) {
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.ShipmentID == shipmentID && !e.CreatedAt.Before(since) {
			return e, nil
		}
	}
	return nil, nil
}

func (r *apiRepo) FindScanBySyncKey(_ context.Context, syncKey string) (*models.ScanEvent, error) {
	for _, e := range r.events {
		if e.SyncKey != nil && *e.SyncKey == syncKey {
			return e, nil
		}
	}
	return nil, nil
}

func (r *apiRepo) RecordScan(_ context.Context, in pgscan.RecordScanInput) (*pgscan.RecordScanResult, error) {
	var sh *models.Shipment
	for _, s := range r.shipments {
		if s.ID == in.ShipmentID {
			sh = s
			break
		}
	}
	if sh == nil {
		return nil, pgscan.ErrShipmentNotFound
	}

	r.nextScanID++
	r.events = append(r.events, &models.ScanEvent{
		ID:         r.nextScanID,
		ShipmentID: in.ShipmentID,
		BranchID:   in.BranchID,
		DeviceID:   in.DeviceID,
		Action:     in.Action,
		Status:     in.Status,
		EventTime:  in.EventTime,
		Notes:      in.Notes,
		SyncKey:    in.SyncKey,
		BatchID:    in.BatchID,
		CreatedAt:  time.Now().UTC(),
	})

	prev := sh.Status
	sh.Status = in.Status
	sh.CurrentLocationID = &in.BranchID
	return &pgscan.RecordScanResult{ScanID: r.nextScanID, PreviousStatus: prev, NewStatus: in.Status}, nil
}

func (r *apiRepo) GetDeviceByID(_ context.Context, deviceID string) (*models.Device, error) {
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, pgscan.ErrDeviceNotFound
	}
	return d, nil
}

func (r *apiRepo) TouchDevice(_ context.Context, _ string, _ time.Time) error { return nil }

func (r *apiRepo) GetBranchByID(_ context.Context, branchID uint64) (*models.Branch, error) {
	b, ok := r.branches[branchID]
	if !ok {
		return nil, pgscan.ErrBranchNotFound
	}
	return b, nil
}

type apiRateLimiter struct {
	denied     bool
	retryAfter time.Duration
}

func (l *apiRateLimiter) Allow(_ context.Context, _ string, limit int64, _ time.Duration) (bool, int64, time.Duration, error) {
	if l.denied {
		return false, limit + 1, l.retryAfter, nil
	}
	return true, 1, 0, nil
}

type apiProducer struct{ published int }

func (p *apiProducer) Publish(_ context.Context, _ string, _, _ []byte) error {
	p.published++
	return nil
}

type apiCache struct{ data map[string][]byte }

func (c *apiCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *apiCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *apiCache) Del(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func newTestAPI(t *testing.T) (*apiRepo, *apiRateLimiter, http.Handler) {
	t.Helper()

	repo := newAPIRepo()
	repo.devices["dev-1"] = &models.Device{ID: "dev-1", Token: "secret", IsActive: true}
	repo.branches[5] = &models.Branch{ID: 5, Code: "MSK-01", IsActive: true}
	repo.shipments["SSCC123"] = &models.Shipment{ID: 1, TrackNumber: "SSCC123", Status: "BOOKED"}

	rl := &apiRateLimiter{}
	svc := scans.New(repo, rl, &apiProducer{}, &apiCache{data: map[string][]byte{}}, "shipment.scanned")
	return repo, rl, New(svc).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth {
		req.Header.Set(headerDeviceID, "dev-1")
		req.Header.Set(headerDeviceToken, "secret")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScanEndpoint_HappyPath(t *testing.T) {
	_, _, h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123",
		"action":         "pickup",
		"locationId":     5,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(1), resp.ScanID)
	require.Equal(t, "SSCC123", resp.TrackNumber)
	require.Equal(t, "PICKED_UP", resp.Status)
	require.Equal(t, "BOOKED", resp.PreviousStatus)
	require.Equal(t, "inbound", resp.NextExpectedAction)
}

func TestScanEndpoint_ErrorMapping(t *testing.T) {
	repo, rl, h := newTestAPI(t)

	// Нет заголовков устройства.
	rec := doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "pickup", "locationId": 5,
	}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Неизвестное действие.
	rec = doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "teleport", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Неизвестное отправление.
	rec = doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "NOPE", "action": "pickup", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Повтор того же действия в окне дублей.
	rec = doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "pickup", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "pickup", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusConflict, rec.Code)

	var er errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	require.Equal(t, "duplicate", er.Error.Kind)
	require.NotZero(t, er.Error.PriorScanID)
	require.Len(t, repo.events, 1)

	// Лимит устройства.
	rl.denied = true
	rl.retryAfter = 90 * time.Second
	rec = doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "inbound", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestScanEndpoint_BadJSON(t *testing.T) {
	_, _, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkScanEndpoint(t *testing.T) {
	repo, _, h := newTestAPI(t)
	repo.shipments["SSCC124"] = &models.Shipment{ID: 2, TrackNumber: "SSCC124", Status: "BOOKED"}

	rec := doJSON(t, h, http.MethodPost, "/v1/scans/bulk", map[string]any{
		"batchId": "batch-1",
		"items": []map[string]any{
			{"trackingNumber": "SSCC123", "action": "pickup", "locationId": 5},
			{"trackingNumber": "SSCC124", "action": "pickup", "locationId": 5},
			{"trackingNumber": "NOPE", "action": "pickup", "locationId": 5},
		},
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bulkScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "batch-1", resp.BatchID)
	require.Len(t, resp.Processed, 2)
	require.Len(t, resp.Failed, 1)
	require.Equal(t, 2, resp.Failed[0].Index)
	require.Equal(t, "not_found", resp.Failed[0].Kind)
	require.Empty(t, resp.Conflicts)
}

func TestOfflineSyncEndpoint_Replay(t *testing.T) {
	_, _, h := newTestAPI(t)

	body := map[string]any{
		"pendingScans": []map[string]any{
			{
				"offlineSyncKey": "dev-1:1724900000:SSCC123",
				"trackingNumber": "SSCC123",
				"action":         "pickup",
				"locationId":     5,
				"timestamp":      time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
			},
		},
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/scans/sync", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp offlineSyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Processed, 1)
	require.False(t, resp.Processed[0].AlreadyApplied)

	// Повторная выгрузка той же очереди — идемпотентна.
	rec = doJSON(t, h, http.MethodPost, "/v1/scans/sync", body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Processed, 1)
	require.True(t, resp.Processed[0].AlreadyApplied)
	require.Equal(t, "dev-1:1724900000:SSCC123", resp.Processed[0].SyncKey)
}

func TestShipmentStatusAndEventsEndpoints(t *testing.T) {
	_, _, h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/scans", map[string]any{
		"trackingNumber": "SSCC123", "action": "pickup", "locationId": 5,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/shipments/SSCC123/status", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, "SSCC123", st.TrackNumber)
	require.Equal(t, "PICKED_UP", st.Status)
	require.NotNil(t, st.LocationID)
	require.Equal(t, uint64(5), *st.LocationID)

	rec = doJSON(t, h, http.MethodGet, "/v1/shipments/SSCC123/events", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var evs struct {
		Events []scanEventResponse `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs.Events, 1)
	require.Equal(t, "pickup", evs.Events[0].Action)

	rec = doJSON(t, h, http.MethodGet, "/v1/shipments/NOPE/status", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScanEventsPagination(t *testing.T) {
	repo, _, h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/shipments/SSCC123/events?limit=25&offset=50", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 25, repo.lastLimit)
	require.Equal(t, 50, repo.lastOffset)

	// Мусор в параметрах — дефолты, а не частичный парс.
	rec = doJSON(t, h, http.MethodGet, "/v1/shipments/SSCC123/events?limit=10abc&offset=x", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
}

func TestCreateShipmentsEndpoint(t *testing.T) {
	_, _, h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/shipments", map[string]any{
		"items": []map[string]any{
			{"trackingNumber": "NEW-1", "originBranchId": 5, "destinationBranchId": 7},
		},
	}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Shipments []shipmentResponse `json:"shipments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Shipments, 1)
	require.Equal(t, "NEW-1", resp.Shipments[0].TrackNumber)
	require.Equal(t, "BOOKED", resp.Shipments[0].Status)

	rec = doJSON(t, h, http.MethodPost, "/v1/shipments", map[string]any{"items": []map[string]any{}}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
