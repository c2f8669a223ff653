package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moonpad/farm-engine/internal/farm"
	"github.com/moonpad/farm-engine/internal/ledger"
	"github.com/moonpad/farm-engine/internal/metrics"
	"github.com/moonpad/farm-engine/internal/policy"
	"github.com/moonpad/farm-engine/internal/store"
	"github.com/moonpad/farm-engine/internal/wallet"
)

// statusFor maps the engine's error taxonomy onto HTTP status codes.
//
//	configuration  → 400
//	authorization  → 403
//	missing records → 404
//	state           → 409
//	resource        → 422
//	storage quota   → 507
func statusFor(err error) int {
	switch {
	case errors.Is(err, policy.ErrInvalidConfig),
		errors.Is(err, policy.ErrLockExceedsDuration),
		errors.Is(err, policy.ErrMinExceedsMax),
		errors.Is(err, farm.ErrInvalidDeposit),
		errors.Is(err, wallet.ErrNegativeAmount):
		return http.StatusBadRequest

	case errors.Is(err, policy.ErrNotOwner):
		return http.StatusForbidden

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, policy.ErrFarmPaused),
		errors.Is(err, policy.ErrFarmExpired),
		errors.Is(err, policy.ErrFarmClosed),
		errors.Is(err, policy.ErrPositionLocked),
		errors.Is(err, farm.ErrActiveStakersExist),
		errors.Is(err, store.ErrDuplicateFarm):
		return http.StatusConflict

	case errors.Is(err, policy.ErrBelowMinimum),
		errors.Is(err, policy.ErrAboveMaximum),
		errors.Is(err, policy.ErrInsufficientStake),
		errors.Is(err, policy.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNoRewards),
		errors.Is(err, ledger.ErrPoolExhausted):
		return http.StatusUnprocessableEntity

	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage

	default:
		return http.StatusInternalServerError
	}
}

// rejectionKind labels rejected requests for the rejection counter.
func rejectionKind(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "configuration"
	case http.StatusForbidden:
		return "authorization"
	case http.StatusConflict:
		return "state"
	case http.StatusUnprocessableEntity:
		return "resource"
	default:
		return "other"
	}
}

// writeEngineError translates an engine error into a JSON error response.
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status != http.StatusInternalServerError && status != http.StatusNotFound {
		metrics.RejectionsTotal.WithLabelValues(rejectionKind(status)).Inc()
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
