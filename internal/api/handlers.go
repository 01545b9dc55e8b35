package api

import (
	"encoding/json"
	"net/http"
	"time"

	"marketflow/internal/dist"
	"marketflow/internal/model"
	"marketflow/internal/session"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type statusResponse struct {
	Market    string      `json:"market"`
	Day       string      `json:"day"`
	UptimeSec int64       `json:"uptime_sec"`
	Hub       dist.Status `json:"hub"`
}

// RegisterRoutes registers every operator route on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", s.deps.Hub.ServeWS)

	// REST: start a replay phase
	mux.HandleFunc("/api/phase/start", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}

		var req struct {
			Phase string `json:"phase"`
			Date  string `json:"date"`
			Days  int    `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Date != "" {
			if _, err := time.Parse("2006-01-02", req.Date); err != nil {
				writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
				return
			}
		}

		var err error
		switch req.Phase {
		case "planning":
			err = s.deps.Control.StartPlanning(req.Date, req.Days)
		case "trading":
			err = s.deps.Control.StartTrading(nil)
		default:
			writeError(w, http.StatusBadRequest, "phase must be planning or trading")
			return
		}
		if err != nil {
			s.deps.Log.Warn().Err(err).Str("phase", req.Phase).Msg("phase start rejected")
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "started", "phase": req.Phase})
	})

	// REST: stop a running replay phase
	mux.HandleFunc("/api/phase/stop", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}

		var req struct {
			Phase string `json:"phase"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		var phase model.Phase
		switch req.Phase {
		case "planning":
			phase = model.PhasePlanning
		case "trading":
			phase = model.PhaseTrading
		default:
			writeError(w, http.StatusBadRequest, "phase must be planning or trading")
			return
		}
		if err := s.deps.Control.StopPhase(phase); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped", "phase": req.Phase})
	})

	// REST: market clock, hub and phase snapshot
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		now := time.Now()
		json.NewEncoder(w).Encode(statusResponse{
			Market:    session.StatusString(now),
			Day:       session.DayKey(now.UnixMilli()),
			UptimeSec: int64(time.Since(s.start).Seconds()),
			Hub:       s.deps.Hub.Stats(),
		})
	})

	// REST: journalled events for a trading day
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		date := r.URL.Query().Get("date")
		if date == "" {
			date = session.DayKey(time.Now().UnixMilli())
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		evs, err := s.deps.Events.Events(date)
		if err != nil {
			s.deps.Log.Error().Err(err).Str("date", date).Msg("event lookup failed")
			writeError(w, http.StatusInternalServerError, "event lookup failed")
			return
		}
		if evs == nil {
			evs = []json.RawMessage{}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"date":   date,
			"count":  len(evs),
			"events": evs,
		})
	})

	// REST: daily order report
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		date := r.URL.Query().Get("date")
		if date == "" {
			date = session.DayKey(time.Now().UnixMilli())
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		rep, err := s.deps.Reports.Report(date)
		if err != nil {
			s.deps.Log.Error().Err(err).Str("date", date).Msg("report build failed")
			writeError(w, http.StatusInternalServerError, "report build failed")
			return
		}
		json.NewEncoder(w).Encode(rep)
	})

	if s.deps.Health != nil {
		mux.Handle("/healthz", s.deps.Health)
	}
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
}
