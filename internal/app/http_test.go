package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"fieldledger/api/internal/directory"
	"fieldledger/api/internal/portal"
	"fieldledger/api/internal/store"
)

type testServer struct {
	*httptest.Server
	store    *fakeStore
	sessions *fakeSessions
	dir      *fakeDirectory
}

func newTestServer(t *testing.T, rec documentReconciler) *testServer {
	t.Helper()
	fs := newFakeStore()
	dir := &fakeDirectory{}
	sessions := newFakeSessions()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(testConfig(), fs, rec, dir, sessions, logger)
	srv := httptest.NewServer(NewHTTPServer(svc, "*", logger).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: fs, sessions: sessions, dir: dir}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return res.StatusCode, payload
}

const apiToken = "test-api-token"

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())
	status, payload := ts.request(t, http.MethodGet, "/api/health", "", nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Fatalf("expected healthy response, got %d %v", status, payload)
	}
}

func TestReadyReportsSessionStoreFailure(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())

	status, payload := ts.request(t, http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", status, payload)
	}

	ts.sessions.mu.Lock()
	ts.sessions.pingErr = errors.New("redis: connection refused")
	ts.sessions.mu.Unlock()

	status, payload = ts.request(t, http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusServiceUnavailable || payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %d %v", status, payload)
	}
	checks := payload["checks"].(map[string]any)
	sessionsCheck := checks["sessions"].(map[string]any)
	if sessionsCheck["status"] != "error" {
		t.Fatalf("expected sessions check to report the failure, got %v", sessionsCheck)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())

	status, payload := ts.request(t, http.MethodGet, "/api/documents?businessId=biz_1", "", nil)
	if status != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without a token, got %d %v", status, payload)
	}
	status, _ = ts.request(t, http.MethodGet, "/api/documents?businessId=biz_1", "wrong-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a wrong token, got %d", status)
	}
	status, _ = ts.request(t, http.MethodGet, "/api/documents?businessId=biz_1", apiToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 with the API token, got %d", status)
	}
}

func TestDocumentSyncOverHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := newFakeStore()
	rec := portal.NewReconciler(fs, stubRenderer{}, stubUploader{}, directory.NoopIndexer{}, logger)
	dir := &fakeDirectory{}
	svc := New(testConfig(), fs, rec, dir, newFakeSessions(), logger)
	srv := httptest.NewServer(NewHTTPServer(svc, "*", logger).Handler())
	defer srv.Close()
	ts := &testServer{Server: srv, store: fs, dir: dir}

	status, payload := ts.request(t, http.MethodPost, "/api/businesses", apiToken, map[string]any{
		"name": "Rivera Plumbing", "currency": "USD",
	})
	if status != http.StatusOK {
		t.Fatalf("create business: %d %v", status, payload)
	}
	businessID := payload["business"].(map[string]any)["id"].(string)

	status, payload = ts.request(t, http.MethodPost, "/api/clients", apiToken, map[string]any{
		"businessId": businessID, "name": "Dana Whitfield",
	})
	if status != http.StatusOK {
		t.Fatalf("create client: %d %v", status, payload)
	}
	clientID := payload["client"].(map[string]any)["id"].(string)

	status, payload = ts.request(t, http.MethodPost, "/api/clients/"+clientID+"/portal", apiToken, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("enable portal: %d %v", status, payload)
	}

	status, payload = ts.request(t, http.MethodPost, "/api/documents", apiToken, map[string]any{
		"businessId": businessID,
		"clientId":   clientID,
		"kind":       "invoice",
		"number":     "INV-1001",
		"status":     "sent",
		"items": []map[string]any{
			{"description": "Labor", "quantity": 2, "unitPrice": 50},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("create document: %d %v", status, payload)
	}
	docID := payload["document"].(map[string]any)["id"].(string)

	// The save already triggered a background upload; the explicit sync
	// either does the work or finds it done.
	status, payload = ts.request(t, http.MethodPost, "/api/documents/"+docID+"/sync", apiToken, nil)
	if status != http.StatusOK {
		t.Fatalf("sync: %d %v", status, payload)
	}
	if outcome := payload["outcome"]; outcome != "uploaded" && outcome != "skipped_unchanged" {
		t.Fatalf("expected uploaded or skipped_unchanged, got %v", outcome)
	}

	status, payload = ts.request(t, http.MethodGet, "/api/documents/"+docID+"/sync-status", apiToken, nil)
	if status != http.StatusOK {
		t.Fatalf("sync status: %d %v", status, payload)
	}
	sync := payload["sync"].(map[string]any)
	if sync["state"] != "up_to_date" {
		t.Fatalf("expected up_to_date after sync, got %v", sync)
	}
	if sync["pdfUrl"] == nil || sync["pdfUrl"] == "" {
		t.Fatalf("expected a hosted pdf url, got %v", sync)
	}

	// An unchanged repeat sync leaves the state alone.
	status, payload = ts.request(t, http.MethodPost, "/api/documents/"+docID+"/sync", apiToken, nil)
	if status != http.StatusOK || payload["outcome"] != "skipped_unchanged" {
		t.Fatalf("expected skipped_unchanged on repeat sync, got %d %v", status, payload)
	}

	status, payload = ts.request(t, http.MethodPost, "/api/documents/"+docID+"/status", apiToken, map[string]any{
		"status": "signed",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a contract-only status, got %d %v", status, payload)
	}
}

func TestPortalSessionFlow(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	clientID := "cli_1"
	ts.store.businesses["biz_1"] = store.Business{ID: "biz_1", Name: "Rivera Plumbing", Currency: "USD"}
	ts.store.clients[clientID] = store.Client{
		ID: clientID, BusinessID: "biz_1", Name: "Dana Whitfield",
		PortalEnabled: true, PortalSlug: "dana-whitfield", PortalPasswordHash: string(hash),
	}
	ts.store.documents["inv_1"] = store.Document{
		ID: "inv_1", BusinessID: "biz_1", ClientID: &clientID, Kind: store.KindInvoice,
		Number: "INV-1001", Status: "sent", Currency: "USD", Total: 100,
		SyncState: store.SyncState{
			LastUploadedHash: "abc",
			LastUploadedURL:  "https://blobs.test/biz_1/inv_1/invoice-INV-1001.pdf",
			LastUploadedAtMs: 1,
		},
	}

	status, payload := ts.request(t, http.MethodPost, "/portal/sessions", "", map[string]any{
		"slug": "dana-whitfield", "password": "wrong",
	})
	if status != http.StatusUnauthorized || payload["code"] != "INVALID_PASSWORD" {
		t.Fatalf("expected INVALID_PASSWORD, got %d %v", status, payload)
	}

	status, payload = ts.request(t, http.MethodPost, "/portal/sessions", "", map[string]any{
		"slug": "nobody-here", "password": "hunter2",
	})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown slug, got %d %v", status, payload)
	}

	status, payload = ts.request(t, http.MethodPost, "/portal/sessions", "", map[string]any{
		"slug": "dana-whitfield", "password": "hunter2",
	})
	if status != http.StatusOK {
		t.Fatalf("open session: %d %v", status, payload)
	}
	token := payload["token"].(string)
	if token == "" || payload["clientName"] != "Dana Whitfield" {
		t.Fatalf("unexpected session payload %v", payload)
	}

	status, payload = ts.request(t, http.MethodGet, "/portal/documents", token, nil)
	if status != http.StatusOK {
		t.Fatalf("portal documents: %d %v", status, payload)
	}
	docs := payload["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("expected one published document, got %v", docs)
	}
	first := docs[0].(map[string]any)
	if first["pdfUrl"] != "https://blobs.test/biz_1/inv_1/invoice-INV-1001.pdf" {
		t.Fatalf("unexpected document entry %v", first)
	}

	status, _ = ts.request(t, http.MethodDelete, "/portal/sessions", token, nil)
	if status != http.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	status, _ = ts.request(t, http.MethodGet, "/portal/documents", token, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestPortalDocumentsHidesUnpublished(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())
	clientID := "cli_1"
	ts.store.clients[clientID] = store.Client{
		ID: clientID, BusinessID: "biz_1", Name: "Dana Whitfield",
		PortalEnabled: true, PortalSlug: "dana-whitfield",
	}
	ts.store.documents["inv_dirty"] = store.Document{
		ID: "inv_dirty", BusinessID: "biz_1", ClientID: &clientID, Kind: store.KindInvoice,
		Number: "INV-2001", Status: "draft",
		SyncState: store.SyncState{NeedsUpload: true},
	}

	status, payload := ts.request(t, http.MethodPost, "/portal/sessions", "", map[string]any{
		"slug": "dana-whitfield",
	})
	if status != http.StatusOK {
		t.Fatalf("open session: %d %v", status, payload)
	}
	token := payload["token"].(string)

	status, payload = ts.request(t, http.MethodGet, "/portal/documents", token, nil)
	if status != http.StatusOK {
		t.Fatalf("portal documents: %d %v", status, payload)
	}
	if docs := payload["documents"].([]any); len(docs) != 0 {
		t.Fatalf("expected pending documents hidden, got %v", docs)
	}
}

func TestDirectorySearchEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())
	ts.dir.response = directory.Response{
		Results: []directory.Result{{
			Kind: directory.KindInvoice, ID: "inv_1", Label: "INV-1001", Status: "sent",
			ClientID: "cli_1", PDFURL: "https://blobs.test/inv_1.pdf",
		}},
		Total: 1,
		Query: "1001",
	}

	status, payload := ts.request(t, http.MethodGet, "/api/directory/search?q=1001&kind=invoice", apiToken, nil)
	if status != http.StatusOK {
		t.Fatalf("directory search: %d %v", status, payload)
	}
	if payload["total"].(float64) != 1 {
		t.Fatalf("expected one hit, got %v", payload)
	}
	results := payload["results"].([]any)
	if results[0].(map[string]any)["label"] != "INV-1001" {
		t.Fatalf("unexpected result %v", results[0])
	}

	status, payload = ts.request(t, http.MethodGet, "/api/directory/search?q=x&limit=abc", apiToken, nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a bad limit, got %d %v", status, payload)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	ts := newTestServer(t, newFakeReconciler())
	status, payload := ts.request(t, http.MethodGet, "/api/widgets", apiToken, nil)
	if status != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", status, payload)
	}
}
