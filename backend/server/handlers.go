package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/engine"
	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/backend/server/contextkey"
	"github.com/jghoshh/habittree/backend/storage/persistent"
)

// streamKeepAlive is how often an idle progress stream sends a comment line.
const streamKeepAlive = 25 * time.Second

type habitHandlers struct {
	service *engine.Service
	logger  *slog.Logger
}

type historyRequest struct {
	Completed bool `json:"completed"`
}

func userID(r *http.Request) string {
	id, _ := contextkey.UserID(r.Context())
	return id
}

func (h *habitHandlers) listHabits(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))
	habits, err := h.service.ListHabits(r.Context(), userID(r), category)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habits)
}

func (h *habitHandlers) addHabit(w http.ResponseWriter, r *http.Request) {
	var in engine.NewHabit
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	habit, err := h.service.AddHabit(r.Context(), userID(r), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, habit)
}

func (h *habitHandlers) deleteHabit(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteHabit(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *habitHandlers) toggleCompletion(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ToggleCompletion(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *habitHandlers) setHistoryDate(w http.ResponseWriter, r *http.Request) {
	var in historyRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	vars := mux.Vars(r)
	if err := h.service.SetHistoryDate(r.Context(), userID(r), vars["id"], vars["date"], in.Completed); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *habitHandlers) progress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Stats(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *habitHandlers) verify(w http.ResponseWriter, r *http.Request) {
	verification, err := h.service.VerifyStats(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

// stream sends every progress snapshot as a server-sent "progress" event until the
// client goes away.
func (h *habitHandlers) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshots, err := h.service.WatchProgress(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				h.logger.Error("failed to encode progress snapshot", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *habitHandlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *habitHandlers) linkFriend(w http.ResponseWriter, r *http.Request) {
	if err := h.service.LinkFriend(r.Context(), userID(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps service errors to status codes. Anything unrecognized is an
// internal failure whose details stay in the server log.
func (h *habitHandlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidHabit),
		errors.Is(err, engine.ErrInvalidDate),
		errors.Is(err, engine.ErrFutureDate),
		errors.Is(err, engine.ErrInvalidFriend),
		errors.Is(err, persistent.ErrInvalidID):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persistent.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "habit not found")
	case errors.Is(err, persistent.ErrDuplicate):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
