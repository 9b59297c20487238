package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/manager"
	"github.com/wardstone-rpg/wardstone/internal/observe"
)

// routes builds the HTTP handler: health probes, Prometheus metrics and the
// JSON API for world management and moderation.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// World entities.
	mux.HandleFunc("GET /v1/guilds/{guild}/locations", a.handleListLocations)
	mux.HandleFunc("POST /v1/guilds/{guild}/locations", a.handleCreateLocation)
	mux.HandleFunc("DELETE /v1/guilds/{guild}/locations/{id}", a.handleDeleteLocation)
	mux.HandleFunc("GET /v1/guilds/{guild}/npcs", a.handleListNPCs)
	mux.HandleFunc("POST /v1/guilds/{guild}/npcs", a.handleCreateNPC)
	mux.HandleFunc("DELETE /v1/guilds/{guild}/npcs/{id}", a.handleDeleteNPC)
	mux.HandleFunc("GET /v1/guilds/{guild}/parties", a.handleListParties)
	mux.HandleFunc("POST /v1/guilds/{guild}/parties", a.handleCreateParty)
	mux.HandleFunc("DELETE /v1/guilds/{guild}/parties/{id}", a.handleDeleteParty)

	// Generation and moderation.
	mux.HandleFunc("POST /v1/guilds/{guild}/generate", a.handleGenerate)
	mux.HandleFunc("GET /v1/guilds/{guild}/requests", a.handleListRequests)
	mux.HandleFunc("GET /v1/guilds/{guild}/moderation", a.handleModerationQueue)
	mux.HandleFunc("POST /v1/requests/{id}/approve", a.handleApprove)
	mux.HandleFunc("POST /v1/requests/{id}/reject", a.handleReject)
	mux.HandleFunc("GET /v1/requests/{id}/similar", a.handleSimilar)

	if a.metrics != nil {
		return observe.Middleware(a.metrics, a.logger)(mux)
	}
	return mux
}

// guildID extracts and checks the guild path segment against the configured
// guilds. An unconfigured guild is a 404: the server only simulates what it
// was told to.
func (a *App) guildID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("guild")
	for _, g := range a.cfg.Guilds {
		if g.ID == id {
			return id, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown guild "+id)
	return "", false
}

// ── World entity handlers ────────────────────────────────────────────────────

func (a *App) handleListLocations(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.locations.List(guild))
}

func (a *App) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	loc, err := a.locations.Create(guild, body.Name, body.Description)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (a *App) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	if err := a.locations.Remove(guild, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListNPCs(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.npcs.List(guild))
}

func (a *App) handleCreateNPC(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name    string `json:"name"`
		Persona string `json:"persona"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	n, err := a.npcs.Create(guild, body.Name, body.Persona)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (a *App) handleDeleteNPC(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	if err := a.npcs.Remove(guild, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListParties(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.parties.List(guild))
}

func (a *App) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	p, err := a.parties.Create(guild, body.Name, body.MemberIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *App) handleDeleteParty(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	if err := a.parties.Remove(guild, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Generation and moderation handlers ───────────────────────────────────────

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	var body struct {
		Type      genreq.Type    `json:"type"`
		Params    map[string]any `json:"params"`
		CreatedBy string         `json:"created_by"`
	}
	if !readJSON(w, r, &body) {
		return
	}

	id, err := a.orchestrator.Start(r.Context(), guild, body.Type, body.Params, body.CreatedBy)
	if err != nil {
		if id == "" {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// The request exists; the pipeline hit an infrastructure fault.
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"request_id": id,
			"error":      err.Error(),
		})
		return
	}

	req, err := a.requests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (a *App) handleListRequests(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	f := genreq.Filter{GuildID: guild}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = genreq.Status(s)
		if !f.Status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid status "+s)
			return
		}
	}
	if t := r.URL.Query().Get("type"); t != "" {
		f.Type = genreq.Type(t)
		if !f.Type.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid type "+t)
			return
		}
	}
	reqs, err := a.requests.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (a *App) handleModerationQueue(w http.ResponseWriter, r *http.Request) {
	guild, ok := a.guildID(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	reqs, err := a.gate.ListPending(r.Context(), guild, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type moderationDecision struct {
	ModeratorID string `json:"moderator_id"`
	Notes       string `json:"notes"`
}

func (a *App) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body moderationDecision
	if !readJSON(w, r, &body) {
		return
	}
	if body.ModeratorID == "" {
		writeError(w, http.StatusBadRequest, "moderator_id is required")
		return
	}
	id := r.PathValue("id")
	if err := a.gate.Approve(r.Context(), id, body.ModeratorID, body.Notes); err != nil {
		writeDomainError(w, err)
		return
	}
	req, err := a.requests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *App) handleReject(w http.ResponseWriter, r *http.Request) {
	var body moderationDecision
	if !readJSON(w, r, &body) {
		return
	}
	if body.ModeratorID == "" {
		writeError(w, http.StatusBadRequest, "moderator_id is required")
		return
	}
	id := r.PathValue("id")
	if err := a.gate.Reject(r.Context(), id, body.ModeratorID, body.Notes); err != nil {
		writeDomainError(w, err)
		return
	}
	req, err := a.requests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *App) handleSimilar(w http.ResponseWriter, r *http.Request) {
	topK := 5
	if s := r.URL.Query().Get("top_k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}
	matches, err := a.gate.Similar(r.Context(), r.PathValue("id"), topK)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// ── JSON helpers ─────────────────────────────────────────────────────────────

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already on the wire; all we can do is log.
		slog.Error("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, genreq.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, genreq.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
