package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tally/internal/core"
)

// ownerIDHeader scopes every /api request to one owner's data.
const ownerIDHeader = "X-Owner-ID"

type errorResponse struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps domain errors onto HTTP statuses: validation
// failures become 422 with per-field detail, missing rules 404, anything
// else a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "validation failed",
			Fields: verr.Fields,
		})
		return
	}
	if errors.Is(err, core.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if errors.Is(err, core.ErrExpenseNotFound) {
		writeError(w, http.StatusNotFound, "expense not found")
		return
	}

	slog.ErrorContext(r.Context(), "Request failed",
		"method", r.Method,
		"url", r.URL.Path,
		"error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// ownerID extracts the calling owner, writing a 400 when the header is
// missing. The bool reports whether the request may proceed.
func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if owner == "" {
		writeError(w, http.StatusBadRequest, ownerIDHeader+" header is required")
		return "", false
	}
	return owner, true
}

// pathID parses the {id} path segment, writing a 400 on garbage.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryDate parses an optional YYYY-MM-DD query parameter. A zero Date is
// returned when the parameter is absent.
func queryDate(w http.ResponseWriter, r *http.Request, name string) (core.Date, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return core.Date{}, true
	}
	d, err := core.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" date, want YYYY-MM-DD")
		return core.Date{}, false
	}
	return d, true
}
