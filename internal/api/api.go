// Package api is the operator HTTP surface of spec §6: catalog reads,
// current-experience control, placard passthrough and screenshot capture,
// mounted on a gorilla/mux router the way the teacher mounts
// api/pkg/server's handlers (http.Error for failures, json encoding for
// success, mux.Vars for path parameters).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/controller"
	"github.com/footron/controller/internal/messaging"
	"github.com/footron/controller/internal/placard"
	"github.com/footron/controller/internal/types"
)

// controllerAPI is the subset of *controller.Controller this package
// depends on, narrowed to an interface so handlers can be exercised with a
// fake controller in tests (the same decoupling set_current's
// EnvironmentFactory interface uses).
type controllerAPI interface {
	Experiences() map[string]types.Experience
	Experience(id string) (types.Experience, bool)
	Collections() map[string]types.Collection
	Tags() map[string]types.Tag
	Folders() map[string]types.Folder
	Current() *controller.CurrentSnapshot
	SetCurrent(ctx context.Context, id *string, throttle time.Duration, updateThrottle bool) error
	UpdateEndTime(experienceID string, endTime *time.Time) error
	UpdateLastInteraction(experienceID string, at time.Time) error
	UpdateLock(experienceID string, status types.LockStatus) error
	ReloadFromFS(ctx context.Context) error
	Screenshot(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error)
}

// API wires the Controller and the placard client onto a gorilla/mux
// router.
type API struct {
	controller controllerAPI
	placard    *placard.Client

	placardMu         sync.RWMutex
	placardExperience *types.Experience
	placardURL        string
}

// New builds an API. placardClient may be nil; the placard/url endpoints
// then only serve the in-memory cache and never forward upstream.
func New(ctrl controllerAPI, placardClient *placard.Client) *API {
	return &API{controller: ctrl, placard: placardClient}
}

// RegisterRoutes mounts every endpoint in spec §6.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/experiences", a.handleExperiences).Methods(http.MethodGet)
	router.HandleFunc("/experiences/{id}", a.handleExperience).Methods(http.MethodGet)
	router.HandleFunc("/collections", a.handleCollections).Methods(http.MethodGet)
	router.HandleFunc("/collections/{id}", a.handleCollection).Methods(http.MethodGet)
	router.HandleFunc("/tags", a.handleTags).Methods(http.MethodGet)
	router.HandleFunc("/folders", a.handleFolders).Methods(http.MethodGet)

	router.HandleFunc("/current", a.handleGetCurrent).Methods(http.MethodGet)
	router.HandleFunc("/current", a.handlePutCurrent).Methods(http.MethodPut)
	router.HandleFunc("/current", a.handlePatchCurrent).Methods(http.MethodPatch)

	router.HandleFunc("/reload", a.handleReload).Methods(http.MethodGet)

	router.HandleFunc("/placard/experience", a.handleGetPlacardExperience).Methods(http.MethodGet)
	router.HandleFunc("/placard/experience", a.handlePatchPlacardExperience).Methods(http.MethodPatch)
	router.HandleFunc("/placard/url", a.handleGetPlacardURL).Methods(http.MethodGet)
	router.HandleFunc("/placard/url", a.handlePatchPlacardURL).Methods(http.MethodPatch)

	router.HandleFunc("/screenshot", a.handleScreenshot).Methods(http.MethodGet)
}

func (a *API) handleExperiences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.controller.Experiences())
}

func (a *API) handleExperience(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exp, ok := a.controller.Experience(id)
	if !ok {
		http.Error(w, "unknown experience id", http.StatusNotFound)
		return
	}
	writeJSON(w, exp)
}

func (a *API) handleCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.controller.Collections())
}

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	collections := a.controller.Collections()
	collection, ok := collections[id]
	if !ok {
		http.Error(w, "unknown collection id", http.StatusNotFound)
		return
	}
	writeJSON(w, collection)
}

func (a *API) handleTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.controller.Tags())
}

func (a *API) handleFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.controller.Folders())
}

func (a *API) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	view := encodeCurrent(a.controller.Current())
	if view == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
		return
	}
	writeJSON(w, view)
}

type putCurrentBody struct {
	ID *string `json:"id"`
}

// handlePutCurrent implements spec §6's PUT /current: `{id?: string}` body,
// optional `throttle` query param, 429 if throttled or mid-transition, 400
// on unknown id, `{status:"ok"}` otherwise.
func (a *API) handlePutCurrent(w http.ResponseWriter, r *http.Request) {
	var body putCurrentBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	throttle, err := parseThrottle(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = a.controller.SetCurrent(r.Context(), body.ID, throttle, true)
	switch {
	case err == nil:
		writeJSON(w, map[string]string{"status": "ok"})
	case isThrottledOrBusy(err):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case isUnknownExperience(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type patchCurrentBody struct {
	ID              string               `json:"id"`
	EndTime         *int64               `json:"end_time,omitempty"`
	LastInteraction *int64               `json:"last_interaction,omitempty"`
	Lock            *messaging.LockValue `json:"lock,omitempty"`
}

// handlePatchCurrent implements spec §6's PATCH /current, requiring body.id
// to match the running experience (SPEC_FULL.md §3.2: "guards against a
// just-outgoing experience racily patching the new current").
func (a *API) handlePatchCurrent(w http.ResponseWriter, r *http.Request) {
	var body patchCurrentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap := a.controller.Current()
	if snap == nil || snap.Experience.ID != body.ID {
		http.Error(w, "id does not match current experience", http.StatusBadRequest)
		return
	}

	if body.EndTime != nil {
		t := time.UnixMilli(*body.EndTime)
		if err := a.controller.UpdateEndTime(body.ID, &t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if body.LastInteraction != nil {
		t := time.UnixMilli(*body.LastInteraction)
		if err := a.controller.UpdateLastInteraction(body.ID, t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if body.Lock != nil {
		if err := a.controller.UpdateLock(body.ID, body.Lock.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.ReloadFromFS(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) handleGetPlacardExperience(w http.ResponseWriter, r *http.Request) {
	a.placardMu.RLock()
	defer a.placardMu.RUnlock()
	writeJSON(w, a.placardExperience)
}

func (a *API) handlePatchPlacardExperience(w http.ResponseWriter, r *http.Request) {
	var exp types.Experience
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a.placardMu.Lock()
	a.placardExperience = &exp
	a.placardMu.Unlock()

	if a.placard != nil {
		if err := a.placard.UpdateExperience(r.Context(), &exp); err != nil {
			log.Warn().Err(err).Msg("api: forwarding placard experience update failed")
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) handleGetPlacardURL(w http.ResponseWriter, r *http.Request) {
	a.placardMu.RLock()
	defer a.placardMu.RUnlock()
	writeJSON(w, map[string]string{"url": a.placardURL})
}

func (a *API) handlePatchPlacardURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a.placardMu.Lock()
	a.placardURL = body.URL
	a.placardMu.Unlock()

	if a.placard != nil {
		if err := a.placard.UpdateURL(r.Context(), body.URL); err != nil {
			log.Warn().Err(err).Msg("api: forwarding placard url update failed")
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "png"
	}
	quality, _ := strconv.Atoi(r.URL.Query().Get("q"))

	data, contentType, err := a.controller.Screenshot(r.Context(), width, height, format, quality)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("api: encoding response failed")
	}
}

func parseThrottle(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("throttle")
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid throttle parameter: %w", err)
	}
	return time.Duration(seconds) * time.Second, nil
}
