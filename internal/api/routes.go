// Package api provides HTTP handlers for the dot-plot server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dotplot-sc/server/internal/service"
	"github.com/dotplot-sc/server/internal/session"
)

// SessionCookie is the name of the access-gate session cookie. It carries no
// Max-Age so it is dropped when the browsing session ends.
const SessionCookie = "dotplot_session"

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	Sessions    *session.Store
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS; credentials are required for the session cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Access gate
	r.Post("/api/auth/login", loginHandler(cfg.Sessions))
	r.Post("/api/auth/logout", logoutHandler(cfg.Sessions))
	r.Get("/api/auth/status", authStatusHandler(cfg.Sessions))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))
		r.Use(sessionMiddleware(cfg.Sessions))

		r.Get("/plot.png", plotHandler)
		r.Get("/plot/empty.png", emptyPlotHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/genes", genesHandler)
			r.Get("/selection", selectionGetHandler)
			r.Post("/selection/{gene}", selectionAddHandler)
			r.Delete("/selection/{gene}", selectionRemoveHandler)
			r.Delete("/selection", selectionClearHandler)
			r.Get("/plot/cells", cellsHandler)
			r.Get("/plot/legend/size", sizeLegendHandler)
			r.Get("/plot/legend/color", colorLegendHandler)
			r.Get("/stats", statsHandler)
		})
	})

	return r
}

// Context keys
type ctxKey string

const (
	datasetServiceKey ctxKey = "datasetService"
	sessionStateKey   ctxKey = "sessionState"
)

// datasetMiddleware resolves the dataset from URL and injects the plot
// service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				writeError(w, http.StatusNotFound, "not_found", "dataset not found: "+datasetID)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionMiddleware enforces the access gate. With an open gate a session is
// created on first contact so the per-session selection still works.
func sessionMiddleware(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(SessionCookie); err == nil {
				if st, ok := store.Get(cookie.Value); ok {
					ctx := context.WithValue(r.Context(), sessionStateKey, st)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if !store.GateOpen() {
				writeError(w, http.StatusUnauthorized, "auth", "access gate not passed")
				return
			}

			token := store.Create()
			st, _ := store.Get(token)
			setSessionCookie(w, token)
			ctx := context.WithValue(r.Context(), sessionStateKey, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.PlotService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.PlotService); ok {
		return svc
	}
	return nil
}

func getSessionState(r *http.Request) *session.State {
	if st, ok := r.Context().Value(sessionStateKey).(*session.State); ok {
		return st
	}
	return nil
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError writes the structured error payload. kind tells the frontend
// which banner to show: "selection" errors are transient, "load" errors
// persistent, "auth" errors render inline at the gate.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": msg,
		"kind":  kind,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service errors onto the error taxonomy.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptySelection), errors.Is(err, service.ErrNoMatchingRecords):
		writeError(w, http.StatusUnprocessableEntity, "selection", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "load", err.Error())
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// Access gate handlers

type loginRequest struct {
	Password string `json:"password"`
}

func loginHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "auth", "invalid request body: "+err.Error())
			return
		}

		token, ok := store.Authenticate(req.Password)
		if !ok {
			writeError(w, http.StatusUnauthorized, "auth", "incorrect password")
			return
		}

		setSessionCookie(w, token)
		writeJSON(w, map[string]interface{}{"authenticated": true})
	}
}

func logoutHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			store.Delete(cookie.Value)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
		writeJSON(w, map[string]interface{}{"authenticated": false})
	}
}

func authStatusHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authenticated := false
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			_, authenticated = store.Get(cookie.Value)
		}
		writeJSON(w, map[string]interface{}{
			"authenticated": authenticated,
			"gate_open":     store.GateOpen(),
		})
	}
}

// Dataset-scoped handlers

func genesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 20
	}

	genes := svc.SearchGenes(q, limit)
	writeJSON(w, map[string]interface{}{
		"genes": genes,
		"count": len(genes),
		"total": svc.Catalog().Len(),
	})
}

func selectionGetHandler(w http.ResponseWriter, r *http.Request) {
	st := getSessionState(r)
	if st == nil {
		writeError(w, http.StatusUnauthorized, "auth", "no session")
		return
	}
	writeJSON(w, map[string]interface{}{"genes": st.Genes()})
}

func selectionAddHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	st := getSessionState(r)
	if svc == nil || st == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	gene := chi.URLParam(r, "gene")
	if !svc.HasGene(gene) {
		writeError(w, http.StatusNotFound, "not_found", "unknown gene: "+gene)
		return
	}

	added := st.AddGene(gene)
	writeJSON(w, map[string]interface{}{
		"genes": st.Genes(),
		"added": added,
	})
}

func selectionRemoveHandler(w http.ResponseWriter, r *http.Request) {
	st := getSessionState(r)
	if st == nil {
		writeError(w, http.StatusUnauthorized, "auth", "no session")
		return
	}

	gene := chi.URLParam(r, "gene")
	removed := st.RemoveGene(gene)
	writeJSON(w, map[string]interface{}{
		"genes":   st.Genes(),
		"removed": removed,
	})
}

func selectionClearHandler(w http.ResponseWriter, r *http.Request) {
	st := getSessionState(r)
	if st == nil {
		writeError(w, http.StatusUnauthorized, "auth", "no session")
		return
	}
	st.ClearGenes()
	writeJSON(w, map[string]interface{}{"genes": []string{}})
}

// requestGenes resolves the genes for a plot request: the genes query
// parameter (repeated or comma-separated) overrides the session selection.
func requestGenes(r *http.Request) []string {
	rawValues, present := r.URL.Query()["genes"]
	if present {
		var out []string
		for _, raw := range rawValues {
			for _, g := range strings.Split(raw, ",") {
				g = strings.TrimSpace(g)
				if g != "" {
					out = append(out, g)
				}
			}
		}
		return out
	}

	if st := getSessionState(r); st != nil {
		return st.Genes()
	}
	return nil
}

func plotHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	genes := requestGenes(r)
	colormapName := r.URL.Query().Get("colormap")

	data, err := svc.GetPlot(genes, colormapName)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// emptyPlotHandler serves the blank frame the frontend swaps in after a
// clear, so the plot area resets without a client-side redraw.
func emptyPlotHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	data, err := svc.GetEmptyPlot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func cellsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	data, err := svc.GetCellsJSON(requestGenes(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func sizeLegendHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	items, err := svc.SizeLegend(requestGenes(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"items": items})
}

func colorLegendHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}

	max, stops, err := svc.ColorLegend(requestGenes(r), r.URL.Query().Get("colormap"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"domain": []float64{0, max},
		"stops":  stops,
	})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "load", "dataset service not found")
		return
	}
	writeJSON(w, svc.Stats())
}
