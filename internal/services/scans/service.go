package scans

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ScanDock/internal/broker/messages"
	"github.com/BearBump/ScanDock/internal/cache"
	"github.com/BearBump/ScanDock/internal/lifecycle"
	"github.com/BearBump/ScanDock/internal/models"
	"github.com/BearBump/ScanDock/internal/storage/pgscan"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrGetShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error)
	GetShipmentByTrackNumber(ctx context.Context, trackNumber string) (*models.Shipment, error)
	ListScanEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ScanEvent, error)
	FindRecentScan(ctx context.Context, shipmentID uint64, action string, since time.Time) (*models.ScanEvent, error)
	FindAnyScanSince(ctx context.Context, shipmentID uint64, since time.Time) (*models.ScanEvent, error)
	FindScanBySyncKey(ctx context.Context, syncKey string) (*models.ScanEvent, error)
	RecordScan(ctx context.Context, in pgscan.RecordScanInput) (*pgscan.RecordScanResult, error)
	GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error)
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	GetBranchByID(ctx context.Context, branchID uint64) (*models.Branch, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Duration, error)
}

type Service struct {
	repo     Repository
	rl       RateLimiter
	producer Producer
	cache    cache.BytesCache

	topic     string
	statusTTL time.Duration

	duplicateWindow time.Duration
	conflictWindow  time.Duration

	rateWindow time.Duration
	scanLimit  int64
	bulkLimit  int64

	// nowFn подменяется в тестах окон.
	nowFn func() time.Time
}

func New(repo Repository, rl RateLimiter, producer Producer, c cache.BytesCache, topic string) *Service {
	return &Service{
		repo:     repo,
		rl:       rl,
		producer: producer,
		cache:    c,
		topic:    topic,

		statusTTL:       10 * time.Minute,
		duplicateWindow: 5 * time.Minute,
		conflictWindow:  15 * time.Minute,
		rateWindow:      time.Hour,
		scanLimit:       100,
		bulkLimit:       10,

		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithWindows(duplicate, conflict time.Duration) *Service {
	if duplicate > 0 {
		s.duplicateWindow = duplicate
	}
	if conflict > 0 {
		s.conflictWindow = conflict
	}
	return s
}

func (s *Service) WithRateLimits(scanPerWindow, bulkPerWindow int64, window time.Duration) *Service {
	if scanPerWindow > 0 {
		s.scanLimit = scanPerWindow
	}
	if bulkPerWindow > 0 {
		s.bulkLimit = bulkPerWindow
	}
	if window > 0 {
		s.rateWindow = window
	}
	return s
}

func (s *Service) WithStatusTTL(ttl time.Duration) *Service {
	s.statusTTL = ttl
	return s
}

func (s *Service) withNow(nowFn func() time.Time) *Service {
	s.nowFn = nowFn
	return s
}

type ScanRequest struct {
	DeviceID    string
	DeviceToken string

	TrackNumber string
	Action      string
	BranchID    uint64
	EventTime   time.Time

	Notes     *string
	SyncKey   *string
	BatchID   *string
	Lat       *float64
	Lon       *float64
	AccuracyM *float64
}

type ScanResult struct {
	ScanID         uint64
	ShipmentID     uint64
	TrackNumber    string
	Status         string
	PreviousStatus string
	// NextExpectedAction пустая строка, если воркфлоу завершён.
	NextExpectedAction string
	// AlreadyApplied: скан с этим ключом идемпотентности уже был записан раньше.
	AlreadyApplied bool
	SyncKey        string
}

// Scan — одиночный скан с устройства. Порядок проверок жёсткий:
// аутентификация, лимит, идемпотентность, существование, дубль.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if _, err := s.authenticateDevice(ctx, req.DeviceID, req.DeviceToken); err != nil {
		return nil, echoSyncKey(err, req.SyncKey)
	}

	if err := s.allow(ctx, req.DeviceID, "scan", s.scanLimit); err != nil {
		return nil, echoSyncKey(err, req.SyncKey)
	}

	res, err := s.scanOne(ctx, req, false, false)
	if err != nil {
		return nil, echoSyncKey(err, req.SyncKey)
	}
	return res, nil
}

// scanOne — общий путь записи для одиночного, bulk и offline сканов.
// Аутентификация и лимиты уже пройдены вызывающим.
func (s *Service) scanOne(ctx context.Context, req ScanRequest, checkConflict, markSynced bool) (*ScanResult, error) {
	now := s.nowFn()

	if err := validateScanShape(req.TrackNumber, req.Action, req.BranchID); err != nil {
		return nil, err
	}

	eventTime := req.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}

	// Повтор по ключу идемпотентности — не ошибка, а "уже применено".
	if req.SyncKey != nil && *req.SyncKey != "" {
		prior, err := s.repo.FindScanBySyncKey(ctx, *req.SyncKey)
		if err != nil {
			return nil, recordingError(err)
		}
		if prior != nil {
			return s.alreadyApplied(prior, req.TrackNumber), nil
		}
	}

	shipment, err := s.repo.GetShipmentByTrackNumber(ctx, req.TrackNumber)
	if err == pgscan.ErrShipmentNotFound {
		return nil, notFoundError("shipment")
	}
	if err != nil {
		return nil, recordingError(err)
	}

	branch, err := s.repo.GetBranchByID(ctx, req.BranchID)
	if err == pgscan.ErrBranchNotFound {
		return nil, notFoundError("branch")
	}
	if err != nil {
		return nil, recordingError(err)
	}
	if !branch.IsActive {
		return nil, notFoundError("branch")
	}

	prior, err := s.repo.FindRecentScan(ctx, shipment.ID, req.Action, now.Add(-s.duplicateWindow))
	if err != nil {
		return nil, recordingError(err)
	}
	if prior != nil {
		return nil, duplicateError(prior.ID)
	}

	if checkConflict {
		recent, err := s.repo.FindAnyScanSince(ctx, shipment.ID, now.Add(-s.conflictWindow))
		if err != nil {
			return nil, recordingError(err)
		}
		if recent != nil {
			return nil, conflictError(recent.ID)
		}
	}

	status := lifecycle.StatusForAction(req.Action)
	rec, err := s.repo.RecordScan(ctx, pgscan.RecordScanInput{
		ShipmentID: shipment.ID,
		BranchID:   req.BranchID,
		DeviceID:   req.DeviceID,
		Action:     req.Action,
		Status:     status,
		EventTime:  eventTime,
		Lat:        req.Lat,
		Lon:        req.Lon,
		AccuracyM:  req.AccuracyM,
		Notes:      req.Notes,
		SyncKey:    req.SyncKey,
		BatchID:    req.BatchID,
		MarkSynced: markSynced,
	})
	if err == pgscan.ErrSyncKeyExists {
		// Гонка двух запросов с одним ключом: второй получает "уже применено".
		existing, ferr := s.repo.FindScanBySyncKey(ctx, *req.SyncKey)
		if ferr == nil && existing != nil {
			return s.alreadyApplied(existing, req.TrackNumber), nil
		}
		return nil, recordingError(err)
	}
	if err != nil {
		return nil, recordingError(err)
	}

	s.publishScanned(ctx, rec, shipment, req, eventTime)
	s.invalidateStatus(ctx, shipment.TrackNumber)

	next, _ := lifecycle.NextExpectedAction(rec.NewStatus)
	out := &ScanResult{
		ScanID:             rec.ScanID,
		ShipmentID:         shipment.ID,
		TrackNumber:        shipment.TrackNumber,
		Status:             rec.NewStatus,
		PreviousStatus:     rec.PreviousStatus,
		NextExpectedAction: next,
	}
	if req.SyncKey != nil {
		out.SyncKey = *req.SyncKey
	}
	return out, nil
}

func (s *Service) alreadyApplied(prior *models.ScanEvent, trackNumber string) *ScanResult {
	next, _ := lifecycle.NextExpectedAction(prior.Status)
	out := &ScanResult{
		ScanID:             prior.ID,
		ShipmentID:         prior.ShipmentID,
		TrackNumber:        trackNumber,
		Status:             prior.Status,
		NextExpectedAction: next,
		AlreadyApplied:     true,
	}
	if prior.SyncKey != nil {
		out.SyncKey = *prior.SyncKey
	}
	return out
}

func (s *Service) authenticateDevice(ctx context.Context, deviceID, token string) (*models.Device, error) {
	if deviceID == "" || token == "" {
		return nil, authError()
	}

	d, err := s.repo.GetDeviceByID(ctx, deviceID)
	if err == pgscan.ErrDeviceNotFound {
		// Сравнение делаем и на этом пути, чтобы тайминг не выдавал
		// существование устройства.
		subtle.ConstantTimeCompare([]byte(token), []byte(token))
		return nil, authError()
	}
	if err != nil {
		return nil, recordingError(err)
	}

	if subtle.ConstantTimeCompare([]byte(d.Token), []byte(token)) != 1 || !d.IsActive {
		return nil, authError()
	}

	if err := s.repo.TouchDevice(ctx, deviceID, s.nowFn()); err != nil {
		slog.Warn("touch device", "device_id", deviceID, "error", err.Error())
	}
	return d, nil
}

func (s *Service) allow(ctx context.Context, deviceID, class string, limit int64) error {
	if s.rl == nil || limit <= 0 {
		return nil
	}
	key := fmt.Sprintf("rl:device:%s:%s", deviceID, class)
	allowed, n, retryAfter, err := s.rl.Allow(ctx, key, limit, s.rateWindow)
	if err != nil {
		return recordingError(err)
	}
	if !allowed {
		slog.Warn("device rate limit exceeded", "device_id", deviceID, "class", class, "count", n)
		return rateLimitedError(retryAfter)
	}
	return nil
}

func (s *Service) publishScanned(ctx context.Context, rec *pgscan.RecordScanResult, shipment *models.Shipment, req ScanRequest, eventTime time.Time) {
	if s.producer == nil || s.topic == "" {
		return
	}

	msg := messages.ShipmentScanned{
		ScanID:         rec.ScanID,
		ShipmentID:     shipment.ID,
		TrackNumber:    shipment.TrackNumber,
		BranchID:       req.BranchID,
		DeviceID:       req.DeviceID,
		Action:         req.Action,
		Status:         rec.NewStatus,
		PreviousStatus: rec.PreviousStatus,
		EventTime:      eventTime,
		RecordedAt:     s.nowFn(),
		Lat:            req.Lat,
		Lon:            req.Lon,
		AccuracyM:      req.AccuracyM,
		SyncKey:        req.SyncKey,
		BatchID:        req.BatchID,
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal shipment.scanned", "scan_id", rec.ScanID, "error", err.Error())
		return
	}

	// Ключ — shipment id, чтобы события одного отправления шли по порядку.
	key := []byte(fmt.Sprintf("%d", shipment.ID))
	var pubErr error
	for i := 0; i < 3; i++ {
		if pubErr = s.producer.Publish(ctx, s.topic, key, b); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	// Скан уже записан — запрос не валим, но событие теряем и шумим об этом.
	slog.Error("publish shipment.scanned", "scan_id", rec.ScanID, "error", pubErr.Error())
}

func (s *Service) invalidateStatus(ctx context.Context, trackNumber string) {
	if s.cache == nil || s.statusTTL <= 0 {
		return
	}
	if err := s.cache.Del(ctx, statusKey(trackNumber)); err != nil {
		slog.Warn("invalidate status cache", "track_number", trackNumber, "error", err.Error())
	}
}

func validateScanShape(trackNumber, action string, branchID uint64) error {
	if trackNumber == "" {
		return validationError("trackNumber is required")
	}
	if action == "" {
		return validationError("action is required")
	}
	if !lifecycle.KnownAction(action) {
		return validationError("unknown action %q", action)
	}
	if branchID == 0 {
		return validationError("locationId is required")
	}
	return nil
}

func echoSyncKey(err error, syncKey *string) error {
	if syncKey == nil || *syncKey == "" {
		return err
	}
	if e, ok := AsError(err); ok {
		e.SyncKey = *syncKey
	}
	return err
}

type StatusInfo struct {
	TrackNumber   string     `json:"track_number"`
	Status        string     `json:"status"`
	LocationID    *uint64    `json:"location_id,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}

// ShipmentStatus — лёгкий read для мобильных клиентов, кэш-first.
func (s *Service) ShipmentStatus(ctx context.Context, trackNumber string) (*StatusInfo, error) {
	if trackNumber == "" {
		return nil, validationError("trackNumber is required")
	}

	key := statusKey(trackNumber)
	if s.cache != nil && s.statusTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var info StatusInfo
			if json.Unmarshal(b, &info) == nil {
				return &info, nil
			}
		}
	}

	shipment, err := s.repo.GetShipmentByTrackNumber(ctx, trackNumber)
	if err == pgscan.ErrShipmentNotFound {
		return nil, notFoundError("shipment")
	}
	if err != nil {
		return nil, recordingError(err)
	}

	info := &StatusInfo{
		TrackNumber:   shipment.TrackNumber,
		Status:        shipment.Status,
		LocationID:    shipment.CurrentLocationID,
		LastScannedAt: shipment.LastScannedAt,
	}

	if s.cache != nil && s.statusTTL > 0 {
		b, _ := json.Marshal(info)
		_ = s.cache.Set(ctx, key, b, s.statusTTL)
	}
	return info, nil
}

func (s *Service) CreateShipments(ctx context.Context, items []models.ShipmentCreateInput) ([]*models.Shipment, error) {
	if len(items) == 0 {
		return nil, validationError("items is empty")
	}
	if len(items) > 10_000 {
		return nil, validationError("too many items (max 10000)")
	}

	clean := make([]models.ShipmentCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.TrackNumber == "" {
			return nil, validationError("trackNumber is required")
		}
		if it.OriginBranchID == 0 || it.DestinationBranchID == 0 {
			return nil, validationError("origin and destination branches are required")
		}
		if _, ok := seen[it.TrackNumber]; ok {
			continue
		}
		seen[it.TrackNumber] = struct{}{}
		clean = append(clean, it)
	}

	out, err := s.repo.CreateOrGetShipments(ctx, clean)
	if err != nil {
		return nil, errors.Wrap(err, "create shipments")
	}
	return out, nil
}

func (s *Service) ListScanEvents(ctx context.Context, trackNumber string, limit, offset int) ([]*models.ScanEvent, error) {
	if trackNumber == "" {
		return nil, validationError("trackNumber is required")
	}
	shipment, err := s.repo.GetShipmentByTrackNumber(ctx, trackNumber)
	if err == pgscan.ErrShipmentNotFound {
		return nil, notFoundError("shipment")
	}
	if err != nil {
		return nil, recordingError(err)
	}
	return s.repo.ListScanEvents(ctx, shipment.ID, limit, offset)
}

func statusKey(trackNumber string) string {
	return fmt.Sprintf("shipment:%s:status", trackNumber)
}
