// Package httpapi serves the resource state engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resourcecore/internal/blob"
	"resourcecore/internal/core"
	"resourcecore/pkg/domain"
)

// StateService is the subset of core.Service the HTTP surface needs.
type StateService interface {
	FindResources(ctx context.Context, resourceType *core.ResourceType, search string, stateFilter int64) ([]core.Resource, error)
	GetResourceType(ctx context.Context, id int64) (core.ResourceType, bool, error)
	GetResourceByID(ctx context.Context, id int64) (core.Resource, bool, error)
	GetResourcesByState(ctx context.Context, stateID, resourceTypeID int64) ([]core.Resource, error)
	ListStateHistory(ctx context.Context, resourceID int64) ([]core.StateChangeEvent, error)
	ListStates(ctx context.Context) ([]core.State, error)
	SetState(ctx context.Context, resourceID, stateID int64) error
	ResolveLatestStates(ctx context.Context, resourceIDs []int64) (map[int64]int64, error)
	RefreshStoredScreen(ctx context.Context, screenID int64, pageNo int) (core.Screen, []core.ScreenSlot, error)
	ExportStateLog(ctx context.Context, store blob.Store, prefix string) (core.ExportManifest, error)
}

// Config wires the optional parts of the surface.
type Config struct {
	// Exports enables POST /api/v1/exports.
	Exports      blob.Store
	ExportPrefix string
	// Registry enables GET /metrics.
	Registry *prometheus.Registry
	Logger   core.Logger
}

// Handler routes API requests to the state service.
type Handler struct {
	service StateService
	cfg     Config
	router  *mux.Router
}

const defaultExportPrefix = "exports"

// NewHandler builds the router for svc.
func NewHandler(svc StateService, cfg Config) *Handler {
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = defaultExportPrefix
	}
	h := &Handler{service: svc, cfg: cfg, router: mux.NewRouter()}

	api := h.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/resources", h.handleFindResources).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id:[0-9]+}", h.handleGetResource).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id:[0-9]+}/history", h.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id:[0-9]+}/state", h.handleSetState).Methods(http.MethodPut)
	api.HandleFunc("/states", h.handleListStates).Methods(http.MethodGet)
	api.HandleFunc("/states/latest", h.handleLatestStates).Methods(http.MethodPost)
	api.HandleFunc("/states/{id:[0-9]+}/resources", h.handleResourcesInState).Methods(http.MethodGet)
	api.HandleFunc("/screens/{id:[0-9]+}/pages/{page:[0-9]+}", h.handleScreenPage).Methods(http.MethodGet)
	if cfg.Exports != nil {
		api.HandleFunc("/exports", h.handleExport).Methods(http.MethodPost)
	}
	if cfg.Registry != nil {
		h.router.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	h.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.Logger != nil {
		h.router.Use(requestLogger(cfg.Logger))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleFindResources(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	typeID, err := optionalID(query.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid type")
		return
	}
	stateID, err := optionalID(query.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	var resourceType *core.ResourceType
	if typeID != 0 {
		rt, ok, err := h.service.GetResourceType(r.Context(), typeID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "resource type not found")
			return
		}
		resourceType = &rt
	}

	resources, err := h.service.FindResources(r.Context(), resourceType, query.Get("q"), stateID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (h *Handler) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resource, found, err := h.service.GetResourceByID(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource": resource})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	events, err := h.service.ListStateHistory(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource_id": id, "events": events})
}

type setStateRequest struct {
	StateID *int64 `json:"state_id"`
}

func (h *Handler) handleSetState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req setStateRequest
	if err := decodeBody(r, &req); err != nil || req.StateID == nil || *req.StateID < 0 {
		writeError(w, http.StatusBadRequest, "state_id required")
		return
	}
	if err := h.service.SetState(r.Context(), id, *req.StateID); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource_id": id, "state_id": *req.StateID})
}

func (h *Handler) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.service.ListStates(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

type latestStatesRequest struct {
	ResourceIDs []int64 `json:"resource_ids"`
}

func (h *Handler) handleLatestStates(w http.ResponseWriter, r *http.Request) {
	var req latestStatesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid latest states request payload")
		return
	}
	latest, err := h.service.ResolveLatestStates(r.Context(), req.ResourceIDs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": latest})
}

func (h *Handler) handleResourcesInState(w http.ResponseWriter, r *http.Request) {
	stateID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	typeID, err := optionalID(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid type")
		return
	}
	resources, err := h.service.GetResourcesByState(r.Context(), stateID, typeID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state_id": stateID, "resources": resources})
}

type screenPageResponse struct {
	ScreenID         int64             `json:"screen_id"`
	Name             string            `json:"name"`
	Page             int               `json:"page"`
	PageCount        int               `json:"page_count"`
	ItemCountPerPage int               `json:"item_count_per_page"`
	Slots            []core.ScreenSlot `json:"slots"`
}

func (h *Handler) handleScreenPage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	screen, slots, err := h.service.RefreshStoredScreen(r.Context(), id, page)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, screenPageResponse{
		ScreenID:         screen.ID,
		Name:             screen.Name,
		Page:             page,
		PageCount:        screen.PageCount,
		ItemCountPerPage: screen.ItemCountPerPage,
		Slots:            slots,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.service.ExportStateLog(r.Context(), h.cfg.Exports, h.cfg.ExportPrefix)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"export": manifest})
}

func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeFailure maps service errors onto status codes.
func writeFailure(w http.ResponseWriter, err error) {
	var (
		notFound  domain.ErrNotFound
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger core.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(started))
		})
	}
}
