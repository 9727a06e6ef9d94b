package axeessdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestDispatchBlocksSameKindOnly(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/offers/o1/accept" {
			<-release
			_ = json.NewEncoder(w).Encode(AcceptResult{})
			return
		}
		_ = json.NewEncoder(w).Encode(Offer{ID: "o1", Status: "Rejected"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Accept(context.Background(), "o1")
	}()
	// wait for the first accept to be in flight
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		held := c.inFlight["accept"]
		c.mu.Unlock()
		if held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("accept never went in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a second accept is rejected immediately
	_, err := c.Accept(context.Background(), "o1")
	if !errors.Is(err, ErrActionPending) {
		t.Fatalf("expected ErrActionPending, got %v", err)
	}
	// a different kind still goes through
	out, err := c.Reject(context.Background(), "o1", "no")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Offer == nil || out.Offer.Status != "Rejected" {
		t.Fatalf("unexpected reject outcome %+v", out)
	}
	close(release)
	wg.Wait()

	// the flag clears once the action completes
	if _, err := c.Accept(context.Background(), "o1"); err != nil {
		t.Fatalf("accept after completion: %v", err)
	}
}

func TestConfirmDeclineIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("declined action must not hit the server: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Confirm = func(prompt string) bool { return false }
	out, err := c.Accept(context.Background(), "o1")
	if err != nil {
		t.Fatalf("decline must not error: %v", err)
	}
	if !out.Declined {
		t.Fatalf("expected declined outcome")
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Accept(context.Background(), "o1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", apiErr.StatusCode)
	}
}

func TestContextCancellationAborts(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := c.Accept(ctx, "o1")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	// the kind is released after an aborted request
	if !c.begin("accept") {
		t.Fatal("accept kind still held after cancellation")
	}
	c.end("accept")
}

func TestConcurrentKindsDoNotMutateClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Offer{ID: "o1"})
	}))
	defer srv.Close()

	// New wires the transport up front so concurrent dispatches share it.
	if New(srv.URL).HTTPClient == nil {
		t.Fatal("New should initialize HTTPClient")
	}

	// A zero-value client gets a per-call fallback; the field stays nil so
	// concurrent requests never write it.
	c := &Client{BaseURL: srv.URL, Timeout: time.Second}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Reject(context.Background(), "o1", "no")
			_, _ = c.Cancel(context.Background(), "o1")
		}()
	}
	wg.Wait()
	if c.HTTPClient != nil {
		t.Fatal("do must not assign HTTPClient")
	}
}

func TestAuthHeaders(t *testing.T) {
	var gotAuthz, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthz = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewEncoder(w).Encode([]Offer{})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k1"
	if _, err := c.ListOffers(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotKey != "k1" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	c.BearerToken = "t1"
	if _, err := c.ListOffers(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAuthz != "Bearer t1" {
		t.Fatalf("expected bearer header, got %q", gotAuthz)
	}
}
