package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"recvault/native/common"
	"recvault/native/fund"
	"recvault/native/registry"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps engine error classes onto HTTP status codes. Unknown errors
// surface as 500 without leaking internals.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrValidation), errors.Is(err, fund.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, fund.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrStateConflict), errors.Is(err, fund.ErrStateConflict):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, fund.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := errorBody{Code: code}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	} else {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
