// Package service is the local HTTP control service in front of the board.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"drinky-board/internal/config"
	"drinky-board/internal/db"
	"drinky-board/internal/device"
)

// Device is the board as the service drives it.
type Device interface {
	Status() device.Status
	Press(code string) error
	Release(code string) error
}

// Server serves the control API.
type Server struct {
	store  *db.DB
	dev    Device
	params map[string][]string
	router *mux.Router

	// KeyHold is the pause after each press and release frame.
	KeyHold time.Duration

	mu        sync.Mutex
	modifiers map[string]bool
}

// New builds the router for the configured collections.
func New(store *db.DB, dev Device, cols []config.CollectionConfig) *Server {
	s := &Server{
		store:     store,
		dev:       dev,
		params:    make(map[string][]string, len(cols)),
		router:    mux.NewRouter(),
		KeyHold:   20 * time.Millisecond,
		modifiers: make(map[string]bool),
	}
	for _, c := range cols {
		s.params[c.Name] = c.Params
	}

	r := s.router
	r.HandleFunc("/connection-status", s.handleConnectionStatus).Methods(http.MethodGet)
	r.HandleFunc("/direct-input/listen", s.handleListen).Methods(http.MethodPost)
	r.HandleFunc("/{collection}/get-all", s.handleGetAll).Methods(http.MethodGet)
	r.HandleFunc("/{collection}/add", s.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/{collection}/edit/{id}", s.handleEdit).Methods(http.MethodPut)
	r.HandleFunc("/{collection}/delete/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/{collection}/deactivate-except/{id}", s.handleDeactivateExcept).Methods(http.MethodPut)
	r.HandleFunc("/{collection}/update-order", s.handleUpdateOrder).Methods(http.MethodPut)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, "Not found")
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("service: encode response: %v", err)
	}
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func internal(w http.ResponseWriter, op string, err error) {
	log.Printf("service: %s: %v", op, err)
	fail(w, http.StatusInternalServerError, "Internal error")
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.dev.Status()
	body := map[string]any{
		"connected":     false,
		"status":        "disconnected",
		"message":       "No device found",
		"port":          nil,
		"lastHeartbeat": nil,
	}
	if st.Attached {
		body["port"] = st.Port
		if !st.LastHeartbeat.IsZero() {
			hb := st.LastHeartbeat
			body["lastHeartbeat"] = float64(hb.Unix()) + float64(hb.Nanosecond())/1e9
		}
		if st.Connected {
			body["connected"] = true
			body["status"] = "connected"
			body["message"] = "Device connected on port " + st.Port
		} else {
			body["status"] = "unresponsive"
			body["message"] = fmt.Sprintf("Device on port %s is not responding", st.Port)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type listenRequest struct {
	Code string `json:"code"`
	Data []any  `json:"data"`
	Type string `json:"type"`
}

func (s *Server) activeModifiers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.modifiers))
	for m := range s.modifiers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Server) deviceLost(w http.ResponseWriter, err error) {
	log.Printf("service: direct input: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success":            false,
		"message":            "Device disconnected",
		"deviceDisconnected": true,
	})
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	var req listenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid key event")
		return
	}
	if req.Type == "" {
		req.Type = "keydown"
	}
	if req.Type != "keydown" && req.Type != "keyup" {
		fail(w, http.StatusBadRequest, "Unknown event type: "+req.Type)
		return
	}
	down := req.Type == "keydown"

	if modifierCodes[req.Code] {
		var err error
		if down {
			err = s.dev.Press(req.Code)
		} else {
			err = s.dev.Release(req.Code)
		}
		if err != nil {
			s.deviceLost(w, err)
			return
		}
		s.mu.Lock()
		if down {
			s.modifiers[req.Code] = true
		} else {
			delete(s.modifiers, req.Code)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"message":   fmt.Sprintf("Modifier key %s %s", req.Code, req.Type),
			"code":      req.Code,
			"modifiers": s.activeModifiers(),
		})
		return
	}

	if !knownKey(req.Code) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "No matching key found for code: " + req.Code,
			"code":    req.Code,
		})
		return
	}
	if down {
		if err := s.dev.Press(req.Code); err != nil {
			s.deviceLost(w, err)
			return
		}
		time.Sleep(s.KeyHold)
		if err := s.dev.Release(req.Code); err != nil {
			s.deviceLost(w, err)
			return
		}
		time.Sleep(s.KeyHold)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Key %s %s", req.Code, req.Type),
		"code":      req.Code,
		"modifiers": s.activeModifiers(),
	})
}

// collection resolves the {collection} path variable or writes a 404.
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (string, []string, bool) {
	name := mux.Vars(r)["collection"]
	params, ok := s.params[name]
	if !ok {
		fail(w, http.StatusNotFound, "Unknown collection: "+name)
		return "", nil, false
	}
	return name, params, true
}

// decodeItem reads an item body and checks the fields every item needs.
func decodeItem(w http.ResponseWriter, r *http.Request, params []string) (map[string]any, bool) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || len(data) == 0 {
		fail(w, http.StatusBadRequest, "No item data provided")
		return nil, false
	}
	if _, ok := data["name"].(string); !ok {
		fail(w, http.StatusBadRequest, "Missing required field: name")
		return nil, false
	}
	if _, ok := data["isActive"].(bool); !ok {
		fail(w, http.StatusBadRequest, "Missing required field: isActive")
		return nil, false
	}
	for _, p := range params {
		if _, ok := data[p].(float64); !ok {
			fail(w, http.StatusBadRequest, "Missing required field: "+p)
			return nil, false
		}
	}
	delete(data, "created")
	return data, true
}

func (s *Server) handleGetAll(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collection(w, r)
	if !ok {
		return
	}
	recs, err := s.store.List(r.Context(), name)
	if err != nil {
		internal(w, name+" get-all", err)
		return
	}
	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, map[string]any{"id": rec.ID, "data": rec.Data})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Loaded %d %s", len(items), name),
		"items":   items,
	})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	name, params, ok := s.collection(w, r)
	if !ok {
		return
	}
	data, ok := decodeItem(w, r, params)
	if !ok {
		return
	}
	id, err := s.store.Insert(r.Context(), name, data)
	if err != nil {
		internal(w, name+" add", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "message": "Item added"})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	name, params, ok := s.collection(w, r)
	if !ok {
		return
	}
	data, ok := decodeItem(w, r, params)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	err := s.store.Update(r.Context(), name, id, data)
	if errors.Is(err, db.ErrNotFound) {
		fail(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		internal(w, name+" edit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "message": "Item updated"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	err := s.store.Delete(r.Context(), name, id)
	if errors.Is(err, db.ErrNotFound) {
		fail(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		internal(w, name+" delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "message": "Item deleted"})
}

func (s *Server) handleDeactivateExcept(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	n, err := s.store.DeactivateExcept(r.Context(), name, id)
	if errors.Is(err, db.ErrNotFound) {
		fail(w, http.StatusNotFound, "No items updated (target not found?)")
		return
	}
	if err != nil {
		internal(w, name+" deactivate-except", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Updated %d %s, only %s is active", n, name, id),
	})
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collection(w, r)
	if !ok {
		return
	}
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil || ids == nil {
		fail(w, http.StatusBadRequest, "Order must be a list of ids")
		return
	}
	if err := s.store.SetOrder(r.Context(), name, ids); err != nil {
		internal(w, name+" update-order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Order updated"})
}
