// CLAUDE:SUMMARY Core API struct and HTTP handlers — session lifecycle, turn quote/commit, open worlds, constants, session history
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hazyhaar/hidesis/internal/auth"
	"github.com/hazyhaar/hidesis/internal/config"
	"github.com/hazyhaar/hidesis/internal/db"
	"github.com/hazyhaar/hidesis/internal/engine"
)

// maxBodySize is the maximum HTTP body size for POST endpoints.
const maxBodySize = 64 * 1024 // 64KB

// StartRateLimiter is the rate limiter for session/world creation (30 req/60s).
var StartRateLimiter = NewRateLimiter(30, 60*time.Second)

type API struct {
	engine     *engine.Engine
	db         *db.DB
	auth       *auth.Auth
	instConfig *config.InstanceConfig
}

func New(eng *engine.Engine, database *db.DB, a *auth.Auth) *API {
	return &API{engine: eng, db: database, auth: a}
}

// SetInstanceConfig sets the instance identity for the health endpoint.
func (a *API) SetInstanceConfig(inst *config.InstanceConfig) {
	a.instConfig = inst
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Sessions
	mux.HandleFunc("POST /api/hide-sis/session/start", RateLimitMiddleware(StartRateLimiter, a.handleSessionStart))
	mux.HandleFunc("POST /api/hide-sis/session/finalize", a.handleSessionFinalize)
	mux.HandleFunc("GET /api/hide-sis/session/{id}", a.handleGetSession)
	mux.HandleFunc("GET /api/hide-sis/session/{id}/turns", a.handleGetTurns)

	// Turns
	mux.HandleFunc("POST /api/hide-sis/turn/quote", a.handleTurnQuote)
	mux.HandleFunc("POST /api/hide-sis/turn/commit", a.handleTurnCommit)

	// Open worlds
	mux.HandleFunc("POST /api/hide-sis/openworld/start", RateLimitMiddleware(StartRateLimiter, a.handleWorldStart))
	mux.HandleFunc("POST /api/hide-sis/openworld/finalize", a.handleWorldFinalize)
	mux.HandleFunc("GET /api/hide-sis/openworld/{id}", a.handleGetWorld)

	// Published constants and calibration counters
	mux.HandleFunc("GET /api/hide-sis/constants", a.handleConstants)
	mux.HandleFunc("GET /api/hide-sis/calibration", a.handleCalibration)

	// Wallet history
	mux.HandleFunc("GET /api/hide-sis/wallet/{wallet}/sessions", a.handleWalletSessions)

	mux.HandleFunc("GET /api/health", a.handleHealth)
}

type sessionStartReq struct {
	Wallet  string `json:"wallet"`
	Mode    string `json:"mode"`
	WorldID string `json:"world_id"`
}

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartReq
	if !decodeBody(w, r, &req) {
		return
	}
	wallet, err := auth.CanonicalWallet(req.Wallet)
	if err != nil {
		jsonError(w, "malformed wallet", http.StatusBadRequest)
		return
	}
	mode := engine.Mode(req.Mode)
	if req.Mode == "" {
		mode = engine.ModeGuest
	}

	s, err := a.engine.StartSession(wallet, mode, req.WorldID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	token, err := a.auth.GenerateToken(s.ID, s.Wallet, string(s.Mode))
	if err != nil {
		jsonError(w, "issuing session token", http.StatusInternalServerError)
		return
	}
	node, err := a.engine.CurrentNode(s.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, map[string]any{
		"session":      s,
		"token":        token,
		"current_node": node,
		"truth_rate":   a.engine.TargetRate(),
	})
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleTurnQuote(w http.ResponseWriter, r *http.Request) {
	var req sessionRef
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.allowSession(w, r, req.SessionID) {
		return
	}
	q, err := a.engine.QuoteTurn(req.SessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, q)
}

type turnCommitReq struct {
	SessionID string `json:"session_id"`
	ChoiceID  int    `json:"choice_id"`
}

func (a *API) handleTurnCommit(w http.ResponseWriter, r *http.Request) {
	var req turnCommitReq
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.allowSession(w, r, req.SessionID) {
		return
	}
	out, err := a.engine.CommitTurn(req.SessionID, req.ChoiceID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

func (a *API) handleSessionFinalize(w http.ResponseWriter, r *http.Request) {
	var req sessionRef
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.allowSession(w, r, req.SessionID) {
		return
	}
	sum, err := a.engine.FinalizeSession(req.SessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, sum)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.GetSession(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

// handleGetTurns serves the journaled turn ledger from the database, the
// forensic view rather than the live arena.
func (a *API) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		jsonError(w, "journal not available", http.StatusNotImplemented)
		return
	}
	turns, err := a.db.ListTurns(r.PathValue("id"))
	if err != nil {
		jsonError(w, "reading turn journal", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"turns": turns})
}

type worldStartReq struct {
	Theme string   `json:"theme"`
	Tags  []string `json:"tags"`
}

func (a *API) handleWorldStart(w http.ResponseWriter, r *http.Request) {
	var req worldStartReq
	if !decodeBody(w, r, &req) {
		return
	}
	world, err := a.engine.StartWorld(req.Theme, req.Tags)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, world)
}

type worldRef struct {
	WorldID string `json:"world_id"`
}

func (a *API) handleWorldFinalize(w http.ResponseWriter, r *http.Request) {
	var req worldRef
	if !decodeBody(w, r, &req) {
		return
	}
	sum, err := a.engine.FinalizeWorld(req.WorldID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, sum)
}

func (a *API) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	world, err := a.engine.GetWorld(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, world)
}

func (a *API) handleConstants(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{
		"schema_version": a.engine.SchemaVersion(),
		"truth_rate":     a.engine.TargetRate(),
		"modes":          []engine.Mode{engine.ModeVerified, engine.ModeGuest, engine.ModeBotSuspected},
	})
}

func (a *API) handleCalibration(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, a.engine.Calibration())
}

func (a *API) handleWalletSessions(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		jsonError(w, "journal not available", http.StatusNotImplemented)
		return
	}
	wallet, err := auth.CanonicalWallet(r.PathValue("wallet"))
	if err != nil || wallet == "" {
		jsonError(w, "malformed wallet", http.StatusBadRequest)
		return
	}
	sessions, err := a.db.ListSessionsByWallet(wallet, 50)
	if err != nil {
		jsonError(w, "reading session journal", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"schema_version": a.engine.SchemaVersion(),
	}
	if a.instConfig != nil {
		resp["instance"] = a.instConfig.ID
	}
	jsonResp(w, http.StatusOK, resp)
}

// allowSession enforces that a presented bearer token, if any, matches the
// session being operated on. Requests without a token pass; the token is a
// binding, not a gate, since guest and bot sessions run tokenless clients.
func (a *API) allowSession(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if sessionID == "" {
		jsonError(w, "session_id is required", http.StatusBadRequest)
		return false
	}
	claims := a.auth.ExtractClaims(r)
	if claims != nil && claims.SessionID != sessionID {
		jsonError(w, "token does not match session", http.StatusForbidden)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeEngineError maps engine sentinels onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidMode),
		errors.Is(err, engine.ErrInvalidChoice),
		errors.Is(err, engine.ErrMissingWallet):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, engine.ErrWorldNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrSessionFinalized),
		errors.Is(err, engine.ErrWorldFinalized),
		errors.Is(err, engine.ErrNoOutstandingQuote),
		errors.Is(err, engine.ErrSeedExhausted):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
