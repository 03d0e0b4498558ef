package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/registriq/internal/adapter/cache"
	"github.com/neomorfeo/registriq/internal/adapter/fsm"
	adapter "github.com/neomorfeo/registriq/internal/adapter/http"
	"github.com/neomorfeo/registriq/internal/adapter/sqlite"
	"github.com/neomorfeo/registriq/internal/app"
	"github.com/neomorfeo/registriq/internal/policy"
)

// testClock is a settable clock shared between test and server.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestServer creates a full-stack httptest.Server over in-memory SQLite.
func newTestServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := sqlite.NewIndex(store.DB())
	exec := app.NewExecutor(store, index, policy.Default(), fsm.New(), 3)

	clock := &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("registriq", "0.1.0"))
	adapter.Register(api, exec, cache.NewIndex(index, time.Minute), clock.Now)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, clock
}

// doRequest performs an HTTP request as the given registrar.
func doRequest(t *testing.T, method, url, actor, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if actor != "" {
		req.Header.Set("X-Registrar-ID", actor)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

func decodeResource(t *testing.T, resp *http.Response) adapter.ResourceResponse {
	t.Helper()
	defer resp.Body.Close()

	var body adapter.ResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

// mustCreateDomain registers a domain via the API and returns its response.
func mustCreateDomain(t *testing.T, srv *httptest.Server, actor, name string, years int) adapter.ResourceResponse {
	t.Helper()

	body := fmt.Sprintf(`{"name":%q,"auth_info":"secret","years":%d}`, name, years)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain", actor, body)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("create domain: status = %d, body: %s", resp.StatusCode, raw)
	}
	return decodeResource(t, resp)
}

func TestCreateDomain(t *testing.T) {
	srv, _ := newTestServer(t)

	created := mustCreateDomain(t, srv, "reg-1", "example.tld", 2)

	if created.Kind != "domain" {
		t.Errorf("Kind = %q, want %q", created.Kind, "domain")
	}
	if created.Sponsor != "reg-1" {
		t.Errorf("Sponsor = %q, want %q", created.Sponsor, "reg-1")
	}
	if created.RepoID == "" {
		t.Error("RepoID is empty")
	}
	if created.ExpiresAt != "2028-03-10T12:00:00Z" {
		t.Errorf("ExpiresAt = %q, want two years from creation", created.ExpiresAt)
	}
	if created.Fee == nil || created.Fee.Amount == 0 {
		t.Errorf("Fee = %v, want the create cost", created.Fee)
	}
}

func TestCreateDomain_YearsDefaultToOne(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain", "reg-1",
		`{"name":"example.tld","auth_info":"secret"}`)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, body: %s", resp.StatusCode, raw)
	}

	created := decodeResource(t, resp)
	if created.ExpiresAt != "2027-03-10T12:00:00Z" {
		t.Errorf("ExpiresAt = %q, want one year from creation", created.ExpiresAt)
	}
}

func TestCreateDomain_UnknownTLD(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain", "reg-1",
		`{"name":"example.nosuchtld","years":1}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateDomain_TakenName(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain", "reg-2",
		`{"name":"example.tld","years":1}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetResource(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/domain/example.tld", "reg-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := decodeResource(t, resp)
	if got.Name != "example.tld" {
		t.Errorf("Name = %q, want %q", got.Name, "example.tld")
	}
	if len(got.Statuses) != 1 || got.Statuses[0] != "ok" {
		t.Errorf("Statuses = %v, want [ok]", got.Statuses)
	}
}

func TestGetResource_WrongAuthInfoForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/domain/example.tld?auth_info=wrong", "reg-2", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestGetResource_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/domain/missing.tld", "reg-1", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestGetResource_PointInTime(t *testing.T) {
	srv, clock := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)
	createdAt := clock.Now()

	// Rotate the secret a day later, then read back the original version.
	clock.Advance(24 * time.Hour)
	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/v1/domain/example.tld", "reg-1",
		`{"new_auth_info":"rotated"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	at := createdAt.Add(time.Hour).Format(time.RFC3339)
	resp = doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/domain/example.tld?at="+at, "reg-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("point-in-time get: status = %d", resp.StatusCode)
	}
	got := decodeResource(t, resp)
	if got.Name != "example.tld" {
		t.Errorf("Name = %q, want %q", got.Name, "example.tld")
	}
}

func TestUpdate_OtherRegistrarForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/v1/domain/example.tld", "reg-2",
		`{"new_auth_info":"stolen"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestRenewDomain(t *testing.T) {
	srv, _ := newTestServer(t)
	created := mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	body := fmt.Sprintf(`{"years":2,"current_expiration":%q}`, created.ExpiresAt)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/renew", "reg-1", body)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("renew: status = %d, body: %s", resp.StatusCode, raw)
	}

	got := decodeResource(t, resp)
	if got.ExpiresAt != "2029-03-10T12:00:00Z" {
		t.Errorf("ExpiresAt = %q, want three years from creation", got.ExpiresAt)
	}
}

func TestRenewDomain_StaleExpirationRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/renew", "reg-1",
		`{"years":1,"current_expiration":"2020-01-01T00:00:00Z"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestDeleteResource_ThenNameIsFree(t *testing.T) {
	srv, clock := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/v1/domain/example.tld", "reg-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	clock.Advance(time.Second)
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/domain/example.tld", "reg-1", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	// The name can be registered again by anyone.
	clock.Advance(time.Second)
	reborn := mustCreateDomain(t, srv, "reg-2", "example.tld", 1)
	if reborn.Sponsor != "reg-2" {
		t.Errorf("Sponsor = %q, want %q", reborn.Sponsor, "reg-2")
	}
}

func TestTransferLifecycle_Approve(t *testing.T) {
	srv, clock := newTestServer(t)
	created := mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/transfer", "reg-2",
		`{"auth_info":"secret","years":1}`)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("transfer request: status = %d, body: %s", resp.StatusCode, raw)
	}
	pending := decodeResource(t, resp)
	if pending.Transfer == nil || pending.Transfer.Status != "pending" {
		t.Fatalf("Transfer = %+v, want pending", pending.Transfer)
	}
	if pending.Transfer.GainingClient != "reg-2" {
		t.Errorf("GainingClient = %q, want %q", pending.Transfer.GainingClient, "reg-2")
	}

	clock.Advance(time.Hour)
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/transfer/approve", "reg-1", "")
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("approve: status = %d, body: %s", resp.StatusCode, raw)
	}
	approved := decodeResource(t, resp)

	if approved.Sponsor != "reg-2" {
		t.Errorf("Sponsor = %q, want gaining registrar", approved.Sponsor)
	}
	if approved.Transfer == nil || approved.Transfer.Status != "client_approved" {
		t.Errorf("Transfer = %+v, want client_approved", approved.Transfer)
	}
	if approved.ExpiresAt <= created.ExpiresAt {
		t.Errorf("ExpiresAt = %q, want extended past %q", approved.ExpiresAt, created.ExpiresAt)
	}
}

func TestTransferRequest_WrongSecretForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/transfer", "reg-2",
		`{"auth_info":"wrong"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestTransferResolve_WithoutPendingConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/transfer/approve", "reg-1", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestAvailability(t *testing.T) {
	srv, _ := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "taken.tld", 1)

	resp := doRequest(t, http.MethodGet,
		srv.URL+"/api/v1/domain/availability?names=taken.tld&names=free.tld", "", "")
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("availability: status = %d, body: %s", resp.StatusCode, raw)
	}
	defer resp.Body.Close()

	var body struct {
		Available map[string]bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	if body.Available["taken.tld"] {
		t.Error("taken.tld reported available")
	}
	if !body.Available["free.tld"] {
		t.Error("free.tld reported taken")
	}
}

func TestTransferAutoApproval_VisibleAfterDeadline(t *testing.T) {
	srv, clock := newTestServer(t)
	mustCreateDomain(t, srv, "reg-1", "example.tld", 1)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/domain/example.tld/transfer", "reg-2",
		`{"auth_info":"secret"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer request: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Past the automatic transfer deadline the next read observes the
	// server-approved outcome.
	clock.Advance(5*24*time.Hour + time.Second)
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/domain/example.tld", "reg-2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d", resp.StatusCode)
	}
	got := decodeResource(t, resp)

	if got.Sponsor != "reg-2" {
		t.Errorf("Sponsor = %q, want gaining registrar after auto-approval", got.Sponsor)
	}
	if got.Transfer == nil || got.Transfer.Status != "server_approved" {
		t.Errorf("Transfer = %+v, want server_approved", got.Transfer)
	}
}
