package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"axees/internal/config"
	"axees/internal/db"
	"axees/internal/engine"
	"axees/internal/migrate"
)

var (
	marketerHeaders = map[string]string{"X-User-Id": "marketer-1", "X-User-Type": "Marketer"}
	creatorHeaders  = map[string]string{"X-User-Id": "creator-1", "X-User-Type": "Creator"}
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, stopWebhooks, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			stopWebhooks()
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestOffer(t *testing.T, srv *testServer, amount float64) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/offers", map[string]any{
		"offer_name":      "Spring campaign",
		"proposed_amount": amount,
		"creator_id":      "creator-1",
	}, marketerHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create offer status %d: %s", res.StatusCode, string(data))
	}
	var created OfferResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal offer: %v", err)
	}
	return created.ID
}

func TestNegotiationRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	offerID := createTestOffer(t, srv, 100)

	// creator sees "Offer Received" with the full action row
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/offers/"+offerID, nil, creatorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get offer: %d %s", res.StatusCode, string(data))
	}
	var detail OfferDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.StatusLabel != "Offer Received" {
		t.Fatalf("creator label %q", detail.StatusLabel)
	}
	if len(detail.Actions) != 3 {
		t.Fatalf("creator actions %v", detail.Actions)
	}

	// creator counters at 150
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+offerID+"/counter", map[string]any{
		"amount": 150,
	}, creatorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("counter: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal counter detail: %v", err)
	}
	if detail.Display.Amount == nil || *detail.Display.Amount != 150 {
		t.Fatalf("display amount %+v", detail.Display.Amount)
	}

	// marketer accepts; deal uses the countered amount and the marketer pays
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+offerID+"/accept", nil, marketerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	var accepted AcceptOfferResponse
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if accepted.Deal.Amount != 150 {
		t.Fatalf("deal amount %v", accepted.Deal.Amount)
	}
	if !accepted.PaymentNeeded || accepted.RequiredPayment != 153.75 {
		t.Fatalf("payment %v %v", accepted.PaymentNeeded, accepted.RequiredPayment)
	}

	// further actions conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+offerID+"/reject", map[string]any{}, creatorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on terminal offer, got %d %s", res.StatusCode, string(data))
	}
}

func TestRoleSpecificLabels(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	offerID := createTestOffer(t, srv, 100)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/offers/"+offerID, nil, marketerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get offer: %d %s", res.StatusCode, string(data))
	}
	var detail OfferDetailResponse
	_ = json.Unmarshal(data, &detail)
	if detail.StatusLabel != "Offer Sent" {
		t.Fatalf("marketer label %q", detail.StatusLabel)
	}
	// owner of an unanswered offer may only delete
	if len(detail.Actions) != 1 || detail.Actions[0] != "delete" {
		t.Fatalf("marketer actions %v", detail.Actions)
	}
}

func TestDeleteConflictsAfterCounter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	offerID := createTestOffer(t, srv, 100)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+offerID+"/counter", map[string]any{
		"amount": 120,
	}, creatorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("counter: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/offers/"+offerID, nil, marketerHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
	// strangers are forbidden outright
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/offers/"+offerID, nil, creatorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/offers", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestOfferListScopedToCaller(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTestOffer(t, srv, 100)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/offers", nil, map[string]string{
		"X-User-Id": "marketer-2", "X-User-Type": "Marketer",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var items []OfferResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no offers for stranger, got %d", len(items))
	}
}

func TestWebhookDispatcherStopsOnShutdown(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:9/hook"}}
	e := engine.New(conn, cfg)

	stop := startWebhookDispatcher(e)
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher goroutine did not exit on stop")
	}
	// a second stop is a no-op
	stop()
}
