package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultpilot/vrm/internal/apr"
	"github.com/vaultpilot/vrm/internal/engine"
	"github.com/vaultpilot/vrm/internal/logger"
	"github.com/vaultpilot/vrm/internal/recurring"
	"github.com/vaultpilot/vrm/internal/state"
	"github.com/vaultpilot/vrm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the rotation engine and payment scheduler over HTTP.
type WebServer struct {
	router    *mux.Router
	port      string
	engine    *engine.Engine
	scheduler *recurring.Scheduler
	registry  state.Registry
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, eng *engine.Engine, scheduler *recurring.Scheduler, registry state.Registry) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		engine:    eng,
		scheduler: scheduler,
		registry:  registry,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api.HandleFunc("/accounts", ws.handleInstallAccount).Methods("POST")
	api.HandleFunc("/policies", ws.handleSetPolicy).Methods("POST")
	api.HandleFunc("/snapshots", ws.handleRecordSnapshots).Methods("POST")

	api.HandleFunc("/destinations", ws.handleListDestinations).Methods("GET")
	api.HandleFunc("/destinations/{address}/apr", ws.handleDestinationAPR).Methods("GET")

	api.HandleFunc("/moves/validate", ws.handleValidateMove).Methods("GET")
	api.HandleFunc("/moves", ws.handleExecuteMove).Methods("POST")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	api.HandleFunc("/schedules", ws.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/execute", ws.handleExecutePayment).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and database health
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "vrm-vault-rotation-manager",
			"version": "1.0.0",
		},
		"database_healthy": dbHealthy,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

type installAccountRequest struct {
	Owner string `json:"owner"`
}

// handleInstallAccount installs a smart account into the engine
func (ws *WebServer) handleInstallAccount(w http.ResponseWriter, r *http.Request) {
	var req installAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}

	if err := ws.engine.InstallAccount(owner); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{"owner": owner.Hex()})
}

type setPolicyRequest struct {
	Owner  string       `json:"owner"`
	Asset  string       `json:"asset"`
	Policy types.Policy `json:"policy"`
}

// handleSetPolicy validates and stores a rotation policy
func (ws *WebServer) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req setPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid asset address")
		return
	}

	if err := ws.engine.SetPolicy(r.Context(), owner, asset, req.Policy); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"owner": owner.Hex(),
		"asset": asset.Hex(),
	})
}

type recordSnapshotsRequest struct {
	Destinations []string `json:"destinations"`
}

// handleRecordSnapshots triggers a snapshot pass over the given destinations
func (ws *WebServer) handleRecordSnapshots(w http.ResponseWriter, r *http.Request) {
	var req recordSnapshotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	destinations := make([]common.Address, 0, len(req.Destinations))
	for _, raw := range req.Destinations {
		address, ok := parseAddress(raw)
		if !ok {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid destination address: "+raw)
			return
		}
		destinations = append(destinations, address)
	}

	if err := ws.engine.RecordSnapshots(r.Context(), destinations); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"destinations": len(destinations),
	})
}

// handleListDestinations returns every registered destination
func (ws *WebServer) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	destinations, err := ws.registry.ListDestinations()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list destinations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve destinations")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"destinations": destinations,
		"count":        len(destinations),
	})
}

// handleDestinationAPR computes a destination's current annualized return
func (ws *WebServer) handleDestinationAPR(w http.ResponseWriter, r *http.Request) {
	address, ok := parseAddress(mux.Vars(r)["address"])
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid destination address")
		return
	}

	window := 2
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2 {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid window")
			return
		}
		window = parsed
	}

	maxGap := uint64(2 * types.MinSnapshotInterval)
	if raw := r.URL.Query().Get("max_gap"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid max_gap")
			return
		}
		maxGap = parsed
	}

	method := types.APRMethodAverage
	if raw := r.URL.Query().Get("method"); raw != "" {
		method = types.APRMethod(raw)
	}

	value, err := ws.engine.DestinationAPR(address, window, maxGap, method)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"destination": address.Hex(),
		"apr":         value.String(),
		"window":      window,
		"max_gap":     maxGap,
		"method":      string(method),
	})
}

// handleValidateMove dry-runs a move decision without executing it
func (ws *WebServer) handleValidateMove(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(r.URL.Query().Get("owner"))
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}
	from, ok := parseAddress(r.URL.Query().Get("from"))
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid from address")
		return
	}
	to, ok := parseAddress(r.URL.Query().Get("to"))
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid to address")
		return
	}

	decision, err := ws.engine.ValidateMove(r.Context(), owner, from, to)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, decision)
}

type executeMoveRequest struct {
	Owner  string `json:"owner"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// handleExecuteMove validates and executes a fund rotation
func (ws *WebServer) handleExecuteMove(w http.ResponseWriter, r *http.Request) {
	var req executeMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}
	from, ok := parseAddress(req.From)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid from address")
		return
	}
	to, ok := parseAddress(req.To)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid to address")
		return
	}
	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	receipt, err := ws.engine.ExecuteMove(r.Context(), owner, from, to, amount)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// handleGetReceipts returns recent move receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := state.GetRecentMoveReceipts(parseLimit(r, 20))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get move receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

// handleGetEvents returns recent engine events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := state.GetRecentEvents(parseLimit(r, 50))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

type createScheduleRequest struct {
	Owner       string `json:"owner"`
	Beneficiary string `json:"beneficiary"`
	Asset       string `json:"asset"`
	MaxAmount   string `json:"max_amount"`
	Interval    uint64 `json:"interval"`
}

// handleCreateSchedule creates a recurring payment schedule
func (ws *WebServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}
	beneficiary, ok := parseAddress(req.Beneficiary)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid beneficiary address")
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid asset address")
		return
	}
	maxAmount, ok := sdkmath.NewIntFromString(req.MaxAmount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid max_amount")
		return
	}

	scheduleID, err := ws.scheduler.CreateSchedule(owner, types.PaymentSchedule{
		Beneficiary: beneficiary,
		Asset:       asset,
		MaxAmount:   maxAmount,
		Interval:    req.Interval,
	})
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"schedule_id": scheduleID,
	})
}

type executePaymentRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// handleExecutePayment executes a due payment under a schedule
func (ws *WebServer) handleExecutePayment(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}

	var req executePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid owner address")
		return
	}
	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	result, err := ws.scheduler.ExecutePayment(r.Context(), owner, scheduleID, amount)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

// writeEngineError maps the engine's sentinel errors onto HTTP status codes.
// Validation rejections are client errors; anything unrecognized is a 500.
func (ws *WebServer) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidDestination),
		errors.Is(err, engine.ErrNoPolicy),
		errors.Is(err, recurring.ErrNoSchedule):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrAssetMismatch),
		errors.Is(err, engine.ErrInvalidPolicy),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, recurring.ErrInvalidSchedule),
		errors.Is(err, apr.ErrInvalidWindow),
		errors.Is(err, apr.ErrUnknownMethod):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientImprovement),
		errors.Is(err, engine.ErrMaxInvestmentReached),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrSnapshotTooSoon),
		errors.Is(err, engine.ErrAccountNotInstalled),
		errors.Is(err, recurring.ErrAccountNotInstalled),
		errors.Is(err, recurring.ErrPaymentTooSoon),
		errors.Is(err, recurring.ErrExceedsCap),
		errors.Is(err, apr.ErrInsufficientSnapshots),
		errors.Is(err, apr.ErrStaleSnapshots):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		webLogger.Error().Err(err).Msg("Request failed")
		ws.writeErrorResponse(w, status, "Internal error")
		return
	}
	ws.writeErrorResponse(w, status, err.Error())
}

func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 || parsed > 100 {
		return fallback
	}
	return parsed
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
