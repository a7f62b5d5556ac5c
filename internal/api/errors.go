// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/qtrader/internal/format"
	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
)

// ErrMissingDependency is returned by New when a required dependency is nil.
var ErrMissingDependency = errors.New("api: missing dependency")

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, format.Error(msg))
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotFound, what+" not found")
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ibkr.ErrNotConnected):
		code = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrAlertNotFound), errors.Is(err, services.ErrUnknownAccount):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrSymbolFailed):
		code = http.StatusBadGateway
	}
	if code >= 500 {
		logger := qlog.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str(qlog.FieldPath, r.URL.Path).Int(qlog.FieldStatus, code).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
