package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/store"
)

const defaultQueryLimit = 1000

type healthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"` // seconds
	Clients     int     `json:"clients"`
	Sessions    int     `json:"sessions"`
	StoreStatus string  `json:"store_status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clients, sessions := s.reg.Counts()
	resp := healthResponse{
		Status:      "ok",
		Uptime:      s.reg.Uptime().Seconds(),
		Clients:     clients,
		Sessions:    sessions,
		StoreStatus: "ok",
	}
	st := s.reg.Store()
	switch {
	case st == nil:
		resp.Status = "degraded"
		resp.StoreStatus = "not configured"
	case !st.Available():
		resp.Status = "degraded"
		resp.StoreStatus = "unavailable"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Sessions())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	summary := s.reg.Session(r.PathValue("id"))
	if summary == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleQuerySamples(w http.ResponseWriter, r *http.Request) {
	st := s.reg.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	start, end, limit, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := st.QuerySamples(r.Context(), r.PathValue("id"), start, end, limit)
	if err != nil {
		s.storeError(w, "query samples", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	st := s.reg.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	start, end, limit, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := model.EventKind(r.URL.Query().Get("type"))
	records, err := st.QueryEvents(r.Context(), r.PathValue("id"), start, end, limit, kind)
	if err != nil {
		s.storeError(w, "query events", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// storeError distinguishes an unavailable store (503) from everything
// else (500); an empty 200 would wrongly claim there is no data.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	s.logger.Warn(op, log.ErrorField(err))
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "query failed")
}

// rangeParams parses start/end (unix seconds, fractions allowed) and
// limit. Missing bounds default to the whole retention window.
func rangeParams(r *http.Request) (start, end time.Time, limit int, err error) {
	q := r.URL.Query()
	start, err = timeParam(q.Get("start"), time.Unix(0, 0))
	if err != nil {
		return start, end, 0, err
	}
	end, err = timeParam(q.Get("end"), time.Now().Add(time.Hour))
	if err != nil {
		return start, end, 0, err
	}
	limit = defaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return start, end, 0, errors.New("invalid limit")
		}
	}
	return start, end, limit, nil
}

func timeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp")
	}
	return time.Unix(0, int64(sec*float64(time.Second))), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response is already committed
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
