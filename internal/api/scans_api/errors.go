package scans_api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/BearBump/ScanDock/internal/services/scans"
)

const (
	headerDeviceID    = "X-Device-Id"
	headerDeviceToken = "X-Device-Token"
)

type errorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	RetryAfterSec int64  `json:"retryAfterSec,omitempty"`
	PriorScanID   uint64 `json:"priorScanId,omitempty"`
	SyncKey       string `json:"offlineSyncKey,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError переводит доменную ошибку в HTTP-статус и тело ответа.
// Причина Recording-ошибок наружу не уходит.
func writeError(w http.ResponseWriter, err error) {
	se, ok := scans.AsError(err)
	if !ok {
		slog.Error("unexpected scan error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Kind:    string(scans.KindRecording),
			Message: "internal error",
		}})
		return
	}

	body := errorBody{
		Kind:        string(se.Kind),
		Message:     se.Msg,
		PriorScanID: se.PriorScanID,
		SyncKey:     se.SyncKey,
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case scans.KindValidation:
		status = http.StatusBadRequest
	case scans.KindAuth:
		status = http.StatusUnauthorized
	case scans.KindRateLimited:
		status = http.StatusTooManyRequests
		sec := int64(math.Ceil(se.RetryAfter.Seconds()))
		if sec < 1 {
			sec = 1
		}
		body.RetryAfterSec = sec
		w.Header().Set("Retry-After", strconv.FormatInt(sec, 10))
	case scans.KindDuplicate, scans.KindConflict:
		status = http.StatusConflict
	case scans.KindNotFound:
		status = http.StatusNotFound
	case scans.KindRecording:
		slog.Error("scan recording failed", "error", err)
		body.Message = "internal error"
	}

	writeJSON(w, status, errorResponse{Error: body})
}

func writeBadJSON(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
		Kind:    string(scans.KindValidation),
		Message: "invalid json body",
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
