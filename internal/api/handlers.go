// Package api serves the thin read-only HTTP surface next to the sync
// core: health, live stats, persisted rooms, and chat history.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/hub"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/store"
)

type API struct {
	hub    *hub.Hub
	store  *store.Store
	logger zerolog.Logger
}

func New(h *hub.Hub, s *store.Store, logger *zerolog.Logger) *API {
	return &API{
		hub:    h,
		store:  s,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts all handlers on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.HandleFunc("/api/rooms", a.RoomsHandler)
	mux.HandleFunc("/api/history", a.HistoryHandler)
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error().Err(err).Msg("response encode failed")
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	live := a.hub.Stats()
	out := map[string]any{
		"connections":       live.Connections,
		"monitors":          live.Monitors,
		"active_rooms":      live.Rooms,
		"pending_conflicts": live.PendingConflicts,
		"room_users":        live.RoomUsers,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		if st, err := a.store.GetStats(); err == nil {
			out["saved_rooms"] = st.Rooms
			out["chat_messages"] = st.ChatMessages
		}
	}

	a.jsonResponse(w, http.StatusOK, out)
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.store == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Persistence disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(limit, offset)
	if err != nil {
		a.logger.Error().Err(err).Msg("room listing failed")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	active := a.hub.Stats().RoomUsers
	type roomResponse struct {
		store.RoomInfo
		ActiveUsers int `json:"active_users"`
	}
	out := make([]roomResponse, len(rooms))
	for i, room := range rooms {
		out[i] = roomResponse{RoomInfo: room, ActiveUsers: active[room.ID]}
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{"rooms": out, "count": len(out)})
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.store == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Persistence disabled")
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Missing room parameter")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	entries, err := a.store.RecentChat(roomID, limit)
	if err != nil {
		a.logger.Error().Err(err).Str("room", roomID).Msg("history fetch failed")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"room":     roomID,
		"messages": entries,
		"count":    len(entries),
	})
}
