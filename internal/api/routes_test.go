package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dotplot-sc/server/internal/cache"
	"github.com/dotplot-sc/server/internal/data/expr"
	"github.com/dotplot-sc/server/internal/render"
	"github.com/dotplot-sc/server/internal/service"
	"github.com/dotplot-sc/server/internal/session"
)

const testPassword = "opensesame"

const testExpression = "gene\tcell_type\tcondition\tavg\tpct\n" +
	"GENE1\tT\tA\t10\t50\n" +
	"GENE1\tT\tB\t20\t80\n" +
	"GENE2\tT\tA\t30\t70\n"

const testCatalog = "GENE1\nGENE2\nGENE3\n"

func newTestRouter(t *testing.T, gateOpen bool) *chi.Mux {
	t.Helper()

	records, err := expr.ParseRecords([]byte(testExpression))
	if err != nil {
		t.Fatalf("failed to parse test records: %v", err)
	}
	catalog := expr.ParseCatalog([]byte(testCatalog))

	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: 16,
		PlotTTL:         1 * time.Minute,
		QueryCacheSize:  16,
	})
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	renderer := render.NewPlotRenderer(render.Config{
		Width:           600,
		Height:          400,
		DefaultColormap: "blues",
	})

	svc := service.NewPlotService(service.PlotServiceConfig{
		DatasetID: "default",
		Records:   records,
		Catalog:   catalog,
		Cache:     cacheManager,
		Renderer:  renderer,
		Width:     600,
		Height:    400,
	})

	registry := NewDatasetRegistry("default", []string{"default"}, "")
	registry.Register("default", svc)

	passwordDigest := ""
	if !gateOpen {
		sum := sha256.Sum256([]byte(testPassword))
		passwordDigest = hex.EncodeToString(sum[:])
	}
	sessions := session.NewStore(session.Config{
		PasswordSHA256: passwordDigest,
		TTL:            time.Minute,
		MaxSessions:    16,
	})

	return NewRouter(RouterConfig{
		Registry:    registry,
		Sessions:    sessions,
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func login(t *testing.T, router *chi.Mux) *http.Cookie {
	t.Helper()

	body := bytes.NewBufferString(`{"password":"` + testPassword + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set on login")
	return nil
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v (%s)", err, rec.Body.String())
	}
	return payload
}

func TestLogin_WrongPassword(t *testing.T) {
	router := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"wrong"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["kind"] != "auth" {
		t.Errorf("expected auth error kind, got %v", payload["kind"])
	}
}

func TestGate_BlocksWithoutSession(t *testing.T) {
	router := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/genes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestGateOpen_CreatesSessionOnFirstContact(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/selection", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with open gate, got %d: %s", rec.Code, rec.Body.String())
	}
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected a session cookie to be created")
	}
}

func TestSelectionLifecycle(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// Add two genes
	if rec := do(http.MethodPost, "/d/default/api/selection/GENE1"); rec.Code != http.StatusOK {
		t.Fatalf("add GENE1: %d %s", rec.Code, rec.Body.String())
	}
	rec := do(http.MethodPost, "/d/default/api/selection/GENE2")
	payload := decodeJSON(t, rec)
	genes, _ := payload["genes"].([]any)
	if len(genes) != 2 {
		t.Fatalf("expected 2 selected genes, got %v", payload["genes"])
	}

	// Unknown gene is rejected
	if rec := do(http.MethodPost, "/d/default/api/selection/NOPE"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown gene, got %d", rec.Code)
	}

	// Remove one
	rec = do(http.MethodDelete, "/d/default/api/selection/GENE1")
	payload = decodeJSON(t, rec)
	genes, _ = payload["genes"].([]any)
	if len(genes) != 1 || genes[0] != "GENE2" {
		t.Fatalf("unexpected selection after remove: %v", payload["genes"])
	}

	// Clear
	rec = do(http.MethodDelete, "/d/default/api/selection")
	payload = decodeJSON(t, rec)
	genes, _ = payload["genes"].([]any)
	if len(genes) != 0 {
		t.Fatalf("expected empty selection after clear, got %v", payload["genes"])
	}
}

func TestPlot_EmptySelection(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/plot.png", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty selection, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["kind"] != "selection" {
		t.Errorf("expected selection error kind, got %v", payload["kind"])
	}
}

func TestPlot_WithGenesParam(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/plot.png?genes=GENE1,GENE2", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %s", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a decodable PNG: %v", err)
	}
	if img.Bounds().Dx() != 600 || img.Bounds().Dy() != 400 {
		t.Errorf("unexpected plot dimensions: %v", img.Bounds())
	}
}

func TestPlot_SelectionMatchesNoRecords(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	// GENE3 is in the catalog but has no rows.
	req := httptest.NewRequest(http.MethodGet, "/d/default/plot.png?genes=GENE3", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestEmptyPlot(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/plot/empty.png", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Fatalf("empty plot is not a decodable PNG: %v", err)
	}
}

func TestCells_SingleGeneValuesUnmodified(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/plot/cells?genes=GENE1", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp service.CellsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode cells: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 cells, got %d", resp.Total)
	}
	if resp.Cells[0].MeanAvgExpressing != 10 || resp.Cells[0].MeanPctExpress != 50 {
		t.Errorf("unexpected first cell: %+v", resp.Cells[0])
	}
	if resp.Cells[1].MeanAvgExpressing != 20 || resp.Cells[1].MeanPctExpress != 80 {
		t.Errorf("unexpected second cell: %+v", resp.Cells[1])
	}
}

func TestGenes_Autocomplete(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/genes?q=gene&limit=2", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	genes, _ := payload["genes"].([]any)
	if len(genes) != 2 || genes[0] != "GENE1" || genes[1] != "GENE2" {
		t.Fatalf("unexpected autocomplete result: %v", payload["genes"])
	}
	if payload["total"] != float64(3) {
		t.Errorf("expected catalog total 3, got %v", payload["total"])
	}
}

func TestLegends(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/plot/legend/size?genes=GENE1", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("size legend: expected 200, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	items, _ := payload["items"].([]any)
	if len(items) != 4 {
		t.Fatalf("expected 4 size legend items, got %d", len(items))
	}

	req = httptest.NewRequest(http.MethodGet, "/d/default/api/plot/legend/color?genes=GENE1", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("color legend: expected 200, got %d", rec.Code)
	}
	payload = decodeJSON(t, rec)
	stops, _ := payload["stops"].([]any)
	if len(stops) != 10 {
		t.Fatalf("expected 10 color stops, got %d", len(stops))
	}
}

func TestDatasets(t *testing.T) {
	router := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["default"] != "default" {
		t.Errorf("unexpected default dataset: %v", payload["default"])
	}
}

func TestUnknownDataset(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/d/nope/api/genes", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dataset, got %d", rec.Code)
	}
}

func TestLogout_EndsSession(t *testing.T) {
	router := newTestRouter(t, false)
	cookie := login(t, router)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/d/default/api/selection", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}
