package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"identityserver/database"
	"identityserver/internal/config"
)

func reviewItemFixture() *database.ReviewItem {
	return &database.ReviewItem{
		RawText:        "WA Helth Dept",
		NormalizedText: "wa helth",
		SourceTable:    "deals",
		SourceRowID:    "row-1",
		Candidates: []database.ReviewCandidate{
			{EntityID: "ent-wa-health", Score: 0.55, Tier: "fuzzy"},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.RegistryDatabasePath = ":memory:"

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { srv.db.Close() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func createTestEntity(t *testing.T, srv *Server, id, name string, aliases []string) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/entities", map[string]interface{}{
		"id":             id,
		"canonical_name": name,
		"aliases":        aliases,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("entity create status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["abbreviation_table"] == "" {
		t.Error("abbreviation_table is empty")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestEntityCreateAndResolveRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-sa-health", "SA Health", []string{"SAHealth"})

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{
		"raw_text": "SA Health",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["kind"] != "resolved" {
		t.Errorf("kind = %v, want resolved", body["kind"])
	}
	best, ok := body["best"].(map[string]interface{})
	if !ok {
		t.Fatalf("best = %v, want object", body["best"])
	}
	if best["entity_id"] != "ent-sa-health" {
		t.Errorf("entity_id = %v, want ent-sa-health", best["entity_id"])
	}
	if best["tier"] != "exact" {
		t.Errorf("tier = %v, want exact", best["tier"])
	}

	// the curated alias resolves too
	rec = doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{
		"raw_text": "SAHealth",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("alias resolve status = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	best = body["best"].(map[string]interface{})
	if best["tier"] != "alias" {
		t.Errorf("tier = %v, want alias", best["tier"])
	}
}

func TestResolveUnknownTextUnresolved(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-sa-health", "SA Health", nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{
		"raw_text": "XYZ Unknown Clinic",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["kind"] != "unresolved" {
		t.Errorf("kind = %v, want unresolved", body["kind"])
	}
}

func TestResolveValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == "" {
		t.Error("error message missing")
	}
	if body["request_id"] == "" {
		t.Error("request_id missing from error response")
	}
}

func TestEntityCreateConflict(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-a", "SA Health", nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/entities", map[string]interface{}{
		"id":             "ent-b",
		"canonical_name": "SA Health Pty Ltd", // same normalized name
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestEntityList(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-a", "SA Health", nil)
	createTestEntity(t, srv, "ent-b", "WA Health", nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/entities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}
}

func TestLotUploadJSON(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-sa-health", "SA Health", nil)
	createTestEntity(t, srv, "ent-wa-health", "WA Health", nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/lots", map[string]interface{}{
		"source_table": "deals",
		"rows": []map[string]interface{}{
			{"raw_name_text": "SA Health"},
			{"raw_name_text": "WA Dept of Health"},
			{"raw_name_text": "XYZ Unknown Clinic"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(3) {
		t.Errorf("total = %v, want 3", body["total"])
	}
	byOutcome, ok := body["by_outcome"].(map[string]interface{})
	if !ok {
		t.Fatalf("by_outcome = %v, want object", body["by_outcome"])
	}
	if byOutcome["auto-applied"] != float64(2) {
		t.Errorf("auto-applied = %v, want 2", byOutcome["auto-applied"])
	}
	if byOutcome["unresolved"] != float64(1) {
		t.Errorf("unresolved = %v, want 1", byOutcome["unresolved"])
	}
}

func TestLotUploadValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/lots", map[string]interface{}{
		"rows": []map[string]interface{}{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReviewPromoteFlow(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-wa-health", "WA Health", nil)

	itemID, err := srv.db.CreateReviewItem(reviewItemFixture())
	if err != nil {
		t.Fatalf("CreateReviewItem() error = %v", err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/review", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("review list status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}

	path := fmt.Sprintf("/api/review/%d/promote", itemID)
	rec = doJSON(t, srv, http.MethodPost, path, map[string]interface{}{
		"entity_id": "ent-wa-health",
		"operator":  "reviewer@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("promote status = %d, body %s", rec.Code, rec.Body.String())
	}

	// the promoted alias now resolves decisively
	rec = doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{
		"raw_text": "WA Helth Dept",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	best, ok := body["best"].(map[string]interface{})
	if !ok {
		t.Fatalf("best = %v, want object", body["best"])
	}
	if best["tier"] != "alias" || best["entity_id"] != "ent-wa-health" {
		t.Errorf("best = %v, want alias tier for ent-wa-health", best)
	}

	// a second promote hits the closed item
	rec = doJSON(t, srv, http.MethodPost, path, map[string]interface{}{
		"entity_id": "ent-wa-health",
		"operator":  "reviewer@example.com",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second promote status = %d, want 409", rec.Code)
	}
}

func TestReviewRejectFlow(t *testing.T) {
	srv := newTestServer(t)

	itemID, err := srv.db.CreateReviewItem(reviewItemFixture())
	if err != nil {
		t.Fatalf("CreateReviewItem() error = %v", err)
	}

	path := fmt.Sprintf("/api/review/%d/reject", itemID)
	rec := doJSON(t, srv, http.MethodPost, path, map[string]interface{}{
		"operator": "reviewer@example.com",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/review", nil)
	if body := decodeBody(t, rec); body["total"] != float64(0) {
		t.Errorf("total = %v, want empty queue", body["total"])
	}
}

func TestReviewPromoteNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/review/999/promote", map[string]interface{}{
		"entity_id": "ent-x",
		"operator":  "reviewer@example.com",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReviewPromoteBadID(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/review/abc/promote", map[string]interface{}{
		"entity_id": "ent-x",
		"operator":  "reviewer@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createTestEntity(t, srv, "ent-sa-health", "SA Health", nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{
		"raw_text":     "SA Health",
		"source_table": "deals",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	tables, ok := body["source_tables"].([]interface{})
	if !ok || len(tables) != 1 {
		t.Fatalf("source_tables = %v, want one entry", body["source_tables"])
	}
}

func TestErrorStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// trigger one validation error so the counters are non-empty
	doJSON(t, srv, http.MethodPost, "/api/resolve", map[string]interface{}{})

	rec := doJSON(t, srv, http.MethodGet, "/api/stats/errors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["total_errors"]; !ok {
		t.Errorf("body = %v, want total_errors field", body)
	}
}
