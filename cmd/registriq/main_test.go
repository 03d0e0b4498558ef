package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/registriq/internal/adapter/cache"
	"github.com/neomorfeo/registriq/internal/adapter/fsm"
	handler "github.com/neomorfeo/registriq/internal/adapter/http"
	"github.com/neomorfeo/registriq/internal/adapter/sqlite"
	"github.com/neomorfeo/registriq/internal/app"
	"github.com/neomorfeo/registriq/internal/policy"
)

// TestWiring_Smoke verifies the HTTP stack end to end over in-memory
// SQLite: register a domain, then read it back.
func TestWiring_Smoke(t *testing.T) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := sqlite.NewIndex(store.DB())
	exec := app.NewExecutor(store, index, policy.Default(), fsm.New(), 3)

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("registriq", "0.1.0"))
	handler.Register(api, exec, cache.NewIndex(index, time.Minute), nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	body := `{"name":"example.tld","auth_info":"secret","years":1}`
	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, srv.URL+"/api/v1/domain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Registrar-ID", "reg-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	req, err = http.NewRequestWithContext(context.Background(),
		http.MethodGet, srv.URL+"/api/v1/domain/example.tld", nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("X-Registrar-ID", "reg-1")

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got handler.ResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Name != "example.tld" || got.Sponsor != "reg-1" {
		t.Errorf("got %+v, want example.tld sponsored by reg-1", got)
	}
}
