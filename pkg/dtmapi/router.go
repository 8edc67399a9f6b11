// Package dtmapi exposes a read-only HTTP surface for inspecting a
// running DTM instance's histories. It is an operator
// side door, not a replacement for the single peer-to-peer notice
// opcode: nothing here participates in the wire protocol.
package dtmapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cortx-motr/dtm/internal/dtm"
)

// Response is the standard envelope every endpoint in this package
// replies with.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg})
}

// Handler serves introspection reads against one DTM instance.
type Handler struct {
	dtm *dtm.DTM
}

// NewHandler binds the introspection surface to d.
func NewHandler(d *dtm.DTM) *Handler {
	return &Handler{dtm: d}
}

// Router builds the chi router for this handler: GET /health,
// GET /histories/{kind}/{id}, GET /histories/{kind}/{id}/ups. There is
// no endpoint that lists histories.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/histories/{kind}/{id}", func(r chi.Router) {
		r.Get("/", h.getHistory)
		r.Get("/ups", h.listUps)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"instance": h.dtm.ID().String()})
}

type historyView struct {
	Kind             string `json:"kind"`
	ID               string `json:"id"`
	HighVer          uint64 `json:"high_ver"`
	PersistentCursor uint64 `json:"persistent_cursor"`
}

func (h *Handler) resolve(r *http.Request) (*dtm.History, error) {
	kind, err := dtm.ParseHKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	hid := dtm.HistoryID{Kind: kind, ID: id}
	if dtm.IsOwnedKind(kind) {
		return h.dtm.LookupOwned(hid)
	}
	return nil, &dtm.Error{Kind: dtm.ErrProto, Op: "dtmapi.resolve", Message: "only owned histories are addressable by this surface"}
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.resolve(r)
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}
	ok(w, historyView{
		Kind:             hist.Kind().String(),
		ID:               hist.HistoryID().ID.String(),
		HighVer:          hist.HighVer(),
		PersistentCursor: hist.PersistentCursor(),
	})
}

type upView struct {
	Ver     uint64 `json:"ver"`
	OrigVer uint64 `json:"orig_ver"`
	State   string `json:"state"`
	Unknown bool   `json:"unknown"`
}

func (h *Handler) listUps(w http.ResponseWriter, r *http.Request) {
	hist, err := h.resolve(r)
	if err != nil {
		fail(w, http.StatusNotFound, err.Error())
		return
	}

	var views []upView
	for ver := uint64(0); ver <= hist.HighVer(); ver++ {
		up := hist.Find(ver)
		if up == nil {
			continue
		}
		views = append(views, upView{
			Ver:     up.Ver,
			OrigVer: up.OrigVer,
			State:   up.State.String(),
			Unknown: up.IsUnknown(),
		})
	}
	ok(w, views)
}
