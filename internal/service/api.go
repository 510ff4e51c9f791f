package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"indicator-enginev1/internal/engine"
	"indicator-enginev1/internal/model"
)

// startHTTP launches the admin HTTP server.
func (svc *Service) startHTTP(ctx context.Context) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", svc.handleHealth)
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/reload", svc.handleReload)
		mux.HandleFunc("/stats", svc.handleStats)
		mux.HandleFunc("/cache/stats", svc.handleCacheStats)
		mux.HandleFunc("/memory/report", svc.handleMemoryReport)
		mux.HandleFunc("/indicators", svc.handleIndicators)
		mux.HandleFunc("/indicators/system", svc.handleSystemIndicators)
		mux.HandleFunc("/indicators/", svc.handleIndicatorByID)
		mux.HandleFunc("/variants", svc.handleVariants)
		mux.HandleFunc("/variants/", svc.handleVariantByID)
		mux.HandleFunc("/sessions/", svc.handleSessions)
		mux.HandleFunc("/ws", svc.hub.HandleWS)

		log.Printf("[service] admin HTTP server on %s", svc.cfg.HTTPAddr)
		srv := &http.Server{Addr: svc.cfg.HTTPAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[service] HTTP server error: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownType),
		errors.Is(err, engine.ErrInvalidParams):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, engine.ErrVariantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrTooManyInstances),
		errors.Is(err, engine.ErrResourceExhausted):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth reports health level, breaker state, and degraded flags.
func (svc *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := svc.health.Status()
	status := http.StatusOK
	if st.Level == "UNHEALTHY" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"health":           st,
		"breaker":          svc.brk.CurrentState().String(),
		"variant_degraded": svc.variants.Degraded(),
		"ws_clients":       svc.hub.ClientCount(),
	})
}

// handleReload handles POST /reload: re-reads variants from SQLite and
// reapplies system indicators. An optional body
// {"system_indicators":"SMA:20,RSI:14"} replaces the active spec set;
// idempotent instance creation preserves survivors and creates the rest.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		SystemIndicators string `json:"system_indicators"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	if body.SystemIndicators != "" {
		svc.cfg.SystemSpecs = ParseSystemSpecs(body.SystemIndicators)
	}

	if err := svc.variants.Reload(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	svc.createSystemIndicators()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"variants": svc.variants.Count(),
	})
}

func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.eng.Stats())
}

func (svc *Service) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.eng.CacheStats())
}

func (svc *Service) handleMemoryReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.governor.StabilityReport())
}

// handleIndicators handles GET (list) and POST (create) on /indicators.
func (svc *Service) handleIndicators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, svc.eng.ListIndicators())
	case http.MethodPost:
		var req struct {
			Symbol    string         `json:"symbol"`
			Type      string         `json:"type"`
			Timeframe string         `json:"timeframe"`
			Params    map[string]any `json:"params"`
			VariantID string         `json:"variant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, created, err := svc.eng.AddIndicator(engine.AddRequest{
			Symbol:    req.Symbol,
			Type:      req.Type,
			Timeframe: req.Timeframe,
			Params:    req.Params,
			VariantID: req.VariantID,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"id": id, "created": created})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (svc *Service) handleSystemIndicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.eng.SystemIndicators())
}

// handleIndicatorByID handles /indicators/{id} and /indicators/{id}/simulate.
func (svc *Service) handleIndicatorByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/indicators/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		http.Error(w, "indicator id required", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 && parts[1] == "simulate" {
		svc.handleSimulate(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		info, err := svc.eng.GetIndicator(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodDelete:
		if !svc.eng.RemoveIndicator(id) {
			writeErr(w, engine.ErrInstanceNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSimulate replays an indicator over a historical range:
// GET /indicators/{id}/simulate?start=&end=&step=
func (svc *Service) handleSimulate(w http.ResponseWriter, r *http.Request, id string) {
	q := r.URL.Query()
	start, err1 := strconv.ParseFloat(q.Get("start"), 64)
	end, err2 := strconv.ParseFloat(q.Get("end"), 64)
	step, err3 := strconv.ParseFloat(q.Get("step"), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "start, end, step query params required", http.StatusBadRequest)
		return
	}
	points, err := svc.eng.SimulateTimeWindows(id, start, end, step)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "points": points})
}

// handleVariants handles GET (list) and POST (create) on /variants.
func (svc *Service) handleVariants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, svc.variants.All())
	case http.MethodPost:
		var v model.IndicatorVariant
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, err := svc.variants.Create(r.Context(), v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVariantByID handles GET / PUT / DELETE on /variants/{id}.
func (svc *Service) handleVariantByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/variants/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "variant id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, ok := svc.variants.Variant(id)
		if !ok {
			writeErr(w, engine.ErrVariantNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPut:
		var body struct {
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		ok, err := svc.variants.Update(r.Context(), id, body.Parameters)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if !ok {
			writeErr(w, engine.ErrVariantNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		ok, err := svc.variants.Delete(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			writeErr(w, engine.ErrVariantNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessions routes the session subscription API:
//
//	GET    /sessions/{sid}/indicators?symbol=X
//	POST   /sessions/{sid}/indicators            {symbol, variant_id, overrides}
//	DELETE /sessions/{sid}/indicators/{id}?symbol=X
//	POST   /sessions/{sid}/cleanup_duplicates    {symbol}
//	DELETE /sessions/{sid}
func (svc *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	session := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		removed := svc.eng.ClearSession(session)
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})

	case len(parts) == 2 && parts[1] == "indicators" && r.Method == http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		writeJSON(w, http.StatusOK, svc.eng.SessionIndicators(session, symbol))

	case len(parts) == 2 && parts[1] == "indicators" && r.Method == http.MethodPost:
		var req struct {
			Symbol    string         `json:"symbol"`
			VariantID string         `json:"variant_id"`
			Overrides map[string]any `json:"overrides"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, err := svc.eng.AddSessionIndicator(session, req.Symbol, req.VariantID, req.Overrides)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})

	case len(parts) == 3 && parts[1] == "indicators" && r.Method == http.MethodDelete:
		symbol := r.URL.Query().Get("symbol")
		if !svc.eng.RemoveSessionIndicator(session, symbol, parts[2]) {
			writeErr(w, engine.ErrInstanceNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

	case len(parts) == 2 && parts[1] == "cleanup_duplicates" && r.Method == http.MethodPost:
		var req struct {
			Symbol string `json:"symbol"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		removed := svc.eng.CleanupDuplicateIndicators(session, req.Symbol)
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}
