package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arush/chatcore/pkg/auth"
	"github.com/arush/chatcore/pkg/config"
	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
	"github.com/arush/chatcore/pkg/presence"
	"github.com/arush/chatcore/pkg/queue"
	"github.com/arush/chatcore/pkg/store"
)

type api struct {
	cfg      config.Config
	auth     *auth.Authenticator
	store    store.Store
	presence presence.Registry
	jobs     *queue.Dispatcher
	workers  []*queue.Worker
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.RoomNotFound, errs.MessageNotFound:
		status = http.StatusNotFound
	case errs.RoomAccessDenied, errs.NotSender:
		status = http.StatusForbidden
	case errs.MessageTooLong, errs.EmptyMessage, errs.InvalidReaction, errs.InvalidRoomData:
		status = http.StatusBadRequest
	case errs.AuthRequired, errs.InvalidToken:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{
		"type":    string(errs.CodeOf(err)),
		"message": err.Error(),
	})
}

type loginRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	identity, err := a.auth.Resolve(auth.Credential{ID: req.ID, Name: req.Name, Role: req.Role})
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := a.auth.GenerateToken(identity)
	if err != nil {
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *api) handleListRooms(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	target := mux.Vars(r)["identity"]
	if target != claims.ID && claims.Role != "admin" {
		writeError(w, errs.New(errs.RoomAccessDenied, "cannot list another identity's rooms"))
		return
	}
	rooms, err := a.store.RoomsForIdentity(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

type createRoomRequest struct {
	Participants []string       `json:"participants"`
	Type         model.RoomType `json:"type"`
	Name         string         `json:"name,omitempty"`
}

func (a *api) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidRoomData, "malformed room payload"))
		return
	}
	if req.Type == "" {
		req.Type = model.RoomGroup
	}
	room := model.NewRoom(claims.ID, req.Participants, req.Type, req.Name)
	if err := a.store.CreateRoom(r.Context(), room); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	roomID := mux.Vars(r)["room"]
	if !a.requireMember(w, r, claims.ID, roomID) {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = a.cfg.HistoryPageSize
	}
	history, err := a.store.History(r.Context(), roomID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type markReadRequest struct {
	MessageID int64 `json:"message_id,omitempty"`
}

func (a *api) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	roomID := mux.Vars(r)["room"]
	if !a.requireMember(w, r, claims.ID, roomID) {
		return
	}
	var req markReadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := a.store.MarkRead(r.Context(), roomID, claims.ID, req.MessageID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, errs.New(errs.InvalidRoomData, "q is required"))
		return
	}
	filter := store.SearchFilter{
		RoomID: r.URL.Query().Get("room"),
		Sender: r.URL.Query().Get("sender"),
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 {
		filter.Limit = limit
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.After = t
		}
	}
	results, err := a.store.Search(r.Context(), claims.ID, q, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": results, "count": len(results)})
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

func (a *api) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	vars := mux.Vars(r)
	roomID := vars["room"]
	messageID, _ := strconv.ParseInt(vars["id"], 10, 64)
	if !a.requireMember(w, r, claims.ID, roomID) {
		return
	}
	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.New(errs.InvalidReaction, "reaction is required"))
		return
	}
	msg, err := a.store.AddReaction(r.Context(), roomID, messageID, claims.ID, req.Reaction, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	vars := mux.Vars(r)
	roomID := vars["room"]
	messageID, _ := strconv.ParseInt(vars["id"], 10, 64)
	if !a.requireMember(w, r, claims.ID, roomID) {
		return
	}
	reaction := r.URL.Query().Get("reaction")
	if reaction == "" {
		var req reactionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reaction = req.Reaction
	}
	msg, err := a.store.RemoveReaction(r.Context(), roomID, messageID, claims.ID, reaction)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type presenceRequest struct {
	Status model.PresenceStatus `json:"status"`
}

func (a *api) handlePresenceUpdate(w http.ResponseWriter, r *http.Request) {
	claims, _ := identityFrom(r)
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case model.StatusOnline, model.StatusAway, model.StatusBusy:
	default:
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if err := a.presence.SetStatus(r.Context(), claims.ID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// requireMember verifies room membership for HTTP callers, mirroring the
// gateway's per-action re-verification.
func (a *api) requireMember(w http.ResponseWriter, r *http.Request, identityID, roomID string) bool {
	room, err := a.store.Room(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !room.HasParticipant(identityID) {
		writeError(w, errs.New(errs.RoomAccessDenied, "not a participant"))
		return false
	}
	return true
}
