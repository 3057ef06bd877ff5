package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lakowske/podserve/interfaces"
)

type fakeManager struct {
	mu       sync.Mutex
	statuses []interfaces.DomainStatus
	startErr error
	started  []string
}

func (m *fakeManager) StartRenewal(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	for _, st := range m.statuses {
		if st.Domain == domain {
			m.started = append(m.started, domain)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, domain)
}

func (m *fakeManager) Status(ctx context.Context) []interfaces.DomainStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.DomainStatus(nil), m.statuses...)
}

func (m *fakeManager) DomainStatus(ctx context.Context, domain string) (interfaces.DomainStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.statuses {
		if st.Domain == domain {
			return st, nil
		}
	}
	return interfaces.DomainStatus{}, fmt.Errorf("%w: %s", interfaces.ErrUnknownDomain, domain)
}

type fakeGate struct {
	ready  bool
	reason string
}

func (g *fakeGate) Explain(domain string) (bool, string) { return g.ready, g.reason }

func newTestServer(t *testing.T, manager *fakeManager, gate *fakeGate) *Server {
	t.Helper()

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, manager, gate)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, &fakeManager{}, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodGet, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", State: interfaces.StateFresh, Generation: 3, Ready: true},
		{Domain: "mail.example.com", State: interfaces.StateExpiring, Generation: 1, Ready: true},
	}}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []interfaces.DomainStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "web.example.com", got[0].Domain)
	require.Equal(t, interfaces.StateFresh, got[0].State)
	require.Equal(t, uint64(3), got[0].Generation)
}

func TestHandleDomainStatus(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", State: interfaces.StateFailedBackoff, Failures: 2, LastError: "network failure"},
	}}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodGet, "/api/v1/status/web.example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	var got interfaces.DomainStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, interfaces.StateFailedBackoff, got.State)
	require.Equal(t, 2, got.Failures)

	rec = doRequest(srv, http.MethodGet, "/api/v1/status/other.example.com")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRenew(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", State: interfaces.StateExpiring},
	}}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodPost, "/api/v1/renew/web.example.com")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"web.example.com"}, manager.started)

	rec = doRequest(srv, http.MethodPost, "/api/v1/renew/other.example.com")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRenewConflict(t *testing.T) {
	manager := &fakeManager{
		statuses: []interfaces.DomainStatus{{Domain: "web.example.com"}},
		startErr: fmt.Errorf("%w: web.example.com", interfaces.ErrRenewalInProgress),
	}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodPost, "/api/v1/renew/web.example.com")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "already in progress")
}

func TestHandleAggregateReadiness(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", Ready: true},
		{Domain: "mail.example.com", Ready: false},
	}}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status  string   `json:"status"`
		Pending []string `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"mail.example.com"}, body.Pending)

	manager.mu.Lock()
	manager.statuses[1].Ready = true
	manager.mu.Unlock()

	rec = doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleDomainReadiness(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", Ready: false},
	}}
	gate := &fakeGate{ready: false, reason: "distribution pending"}
	srv := newTestServer(t, manager, gate)

	rec := doRequest(srv, http.MethodGet, "/readyz/web.example.com")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "distribution pending")

	gate.ready = true
	rec = doRequest(srv, http.MethodGet, "/readyz/web.example.com")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/readyz/other.example.com")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrainUndrain(t *testing.T) {
	manager := &fakeManager{statuses: []interfaces.DomainStatus{
		{Domain: "web.example.com", Ready: true},
	}}
	srv := newTestServer(t, manager, &fakeGate{ready: true})

	rec := doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/drain")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"draining"}`, rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/drain")
	require.JSONEq(t, `{"status":"already draining"}`, rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"draining"}`, rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/undrain")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofMount(t *testing.T) {
	manager := &fakeManager{}

	srv, err := New(&HTTPServerConfig{
		ListenAddr:  "127.0.0.1:0",
		EnablePprof: true,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, manager, &fakeGate{})
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/debug/pprof/")
	require.Equal(t, http.StatusOK, rec.Code)

	srvNoPprof := newTestServer(t, manager, &fakeGate{})
	rec = doRequest(srvNoPprof, http.MethodGet, "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
