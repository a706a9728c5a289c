package listener

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hostagent/internal/check"
	"hostagent/internal/config"
	"hostagent/internal/node"
	"hostagent/internal/services"
	"hostagent/internal/storage"
)

type fakeProvider struct {
	records map[string]services.Status
	err     error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Enumerate(ctx context.Context) (map[string]services.Status, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]services.Status, len(p.records))
	for k, v := range p.records {
		out[k] = v
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []storage.Record
}

func (s *fakeStore) RecordCheck(ctx context.Context, r storage.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return int64(len(s.records)), nil
}

func (s *fakeStore) RecentChecks(ctx context.Context, limit int) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.records) {
		limit = len(s.records)
	}
	return s.records[:limit], nil
}

type fakeFlag struct{ v int32 }

func (f *fakeFlag) Set()        { atomic.StoreInt32(&f.v, 1) }
func (f *fakeFlag) IsSet() bool { return atomic.LoadInt32(&f.v) != 0 }

func testTree(p services.Provider) *node.Tree {
	return node.NewTree(node.NewComposite("root",
		node.NewServicesNode(p),
		node.NewComposite("system",
			node.NewStatic("agent_version", "1.2.3"),
		),
	))
}

func newTestServer(t *testing.T, p services.Provider, token string) (*httptest.Server, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	w := New(Options{
		Config:  config.ListenerConfig{Token: token},
		Tree:    testTree(p),
		Store:   store,
		Version: "1.2.3",
	})
	srv := httptest.NewServer(w.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func getJSON(t *testing.T, url string, header http.Header, v any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, vals := range header {
		req.Header[k] = vals
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

var sshdRunning = &fakeProvider{records: map[string]services.Status{
	"sshd": services.StatusRunning,
	"cron": services.StatusStopped,
}}

// --- API tests ---

func TestAPI_WalkServicesFiltered(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	var got map[string]map[string]string
	code := getJSON(t, srv.URL+"/api/services?status=stopped", nil, &got)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(got["services"]) != 1 || got["services"]["cron"] != "stopped" {
		t.Errorf("unexpected services %v", got)
	}
}

func TestAPI_WalkStatic(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	var got map[string]string
	if code := getJSON(t, srv.URL+"/api/system/agent_version", nil, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got["agent_version"] != "1.2.3" {
		t.Errorf("unexpected body %v", got)
	}
}

func TestAPI_WalkRootDefersServices(t *testing.T) {
	p := &fakeProvider{err: errors.New("must not be called")}
	srv, _ := newTestServer(t, p, "")

	var got map[string]map[string]any
	if code := getJSON(t, srv.URL+"/api/", nil, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if svc, ok := got["root"]["services"].([]any); !ok || len(svc) != 0 {
		t.Errorf("expected empty services placeholder, got %v", got["root"]["services"])
	}
}

func TestAPI_NotFoundIsCriticalDocument(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	for _, url := range []string{"/api/system/fans", "/api/system/fans?check=true"} {
		var got check.Result
		if code := getJSON(t, srv.URL+url, nil, &got); code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", url, code)
		}
		want := "CRITICAL: Node system/fans was not found"
		if got.Returncode != check.Critical || got.Stdout != want {
			t.Errorf("%s: expected %q, got %+v", url, want, got)
		}
	}
}

func TestAPI_CheckMode(t *testing.T) {
	srv, store := newTestServer(t, sshdRunning, "")

	var got check.Result
	getJSON(t, srv.URL+"/api/services?check=true&service=sshd&status=running", nil, &got)
	if got.Returncode != check.OK || !strings.HasPrefix(got.Stdout, "OK: ") {
		t.Errorf("expected OK result, got %+v", got)
	}

	getJSON(t, srv.URL+"/api/services?check=true&service=cron&status=running", nil, &got)
	if got.Returncode != check.Critical {
		t.Errorf("expected CRITICAL result, got %+v", got)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 2 {
		t.Fatalf("expected 2 recorded checks, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Source != storage.SourceAPI || rec.Path != "services" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Query != "service=sshd&status=running" {
		t.Errorf("unexpected recorded query %q", rec.Query)
	}
}

func TestAPI_ProviderError(t *testing.T) {
	p := &fakeProvider{err: &services.ProviderError{Provider: "systemd", Err: errors.New("bus gone")}}
	srv, _ := newTestServer(t, p, "")

	var walk map[string]string
	if code := getJSON(t, srv.URL+"/api/services", nil, &walk); code != http.StatusInternalServerError {
		t.Errorf("expected 500 in walk mode, got %d", code)
	}
	if !strings.Contains(walk["error"], "bus gone") {
		t.Errorf("unexpected error body %v", walk)
	}

	var res check.Result
	if code := getJSON(t, srv.URL+"/api/services?check=true", nil, &res); code != http.StatusOK {
		t.Errorf("expected 200 in check mode, got %d", code)
	}
	if res.Returncode != check.Critical || !strings.Contains(res.Stdout, "bus gone") {
		t.Errorf("unexpected check result %+v", res)
	}
}

func TestAPI_CheckUnsupportedNode(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	var got check.Result
	getJSON(t, srv.URL+"/api/system/agent_version?check=1", nil, &got)
	if got.Stdout != "CRITICAL: Node agent_version does not support checks" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestAPI_Token(t *testing.T) {
	srv, store := newTestServer(t, sshdRunning, "s3cret")

	if code := getJSON(t, srv.URL+"/health", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", code)
	}
	if code := getJSON(t, srv.URL+"/health?token=wrong", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", code)
	}
	if code := getJSON(t, srv.URL+"/health?token=s3cret", nil, nil); code != http.StatusOK {
		t.Errorf("expected 200 with token param, got %d", code)
	}
	header := http.Header{"Authorization": {"Bearer s3cret"}}
	if code := getJSON(t, srv.URL+"/health", header, nil); code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", code)
	}

	getJSON(t, srv.URL+"/api/services?check=true&service=sshd&token=s3cret", nil, nil)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.records) != 1 || strings.Contains(store.records[0].Query, "s3cret") {
		t.Errorf("token must not be recorded: %+v", store.records)
	}
}

func TestAPI_Checks(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	for i := 0; i < 3; i++ {
		getJSON(t, srv.URL+"/api/services?check=true", nil, nil)
	}

	var got struct {
		Checks []storage.Record `json:"checks"`
	}
	if code := getJSON(t, srv.URL+"/checks?limit=2", nil, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(got.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(got.Checks))
	}

	if code := getJSON(t, srv.URL+"/checks?limit=abc", nil, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", code)
	}
}

func TestAPI_Health(t *testing.T) {
	srv, _ := newTestServer(t, sshdRunning, "")

	var got map[string]any
	if code := getJSON(t, srv.URL+"/health", nil, &got); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got["status"] != "ok" || got["version"] != "1.2.3" {
		t.Errorf("unexpected health %v", got)
	}
}

// --- TLS tests ---

func TestTLSConfig_MinVersionAndCiphers(t *testing.T) {
	cfg, err := tlsConfig("adhoc", t.TempDir(), "1.3", []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"})
	if err != nil {
		t.Fatalf("tlsConfig failed: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3, got %x", cfg.MinVersion)
	}
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256 {
		t.Errorf("unexpected cipher suites %v", cfg.CipherSuites)
	}
}

func TestTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name       string
		cert       string
		minVersion string
		ciphers    []string
	}{
		{"bad cert spec", "only-one-file.pem", "", nil},
		{"missing files", "/nonexistent/c.pem,/nonexistent/k.pem", "", nil},
		{"bad version", "adhoc", "2.0", nil},
		{"unknown cipher", "adhoc", "", []string{"TLS_MADE_UP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tlsConfig(tt.cert, dir, tt.minVersion, tt.ciphers); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- Worker tests ---

func TestWorker_ServesTLSUntilCancelled(t *testing.T) {
	flag := &fakeFlag{}
	w := New(Options{
		Config: config.ListenerConfig{
			Address:        "127.0.0.1",
			Port:           0,
			Certificate:    "adhoc",
			MaxConnections: 4,
		},
		CertDir: t.TempDir(),
		Tree:    testTree(sshdRunning),
		Flag:    flag,
		Version: "1.2.3",
	})
	addrCh := make(chan net.Addr, 1)
	w.onListen = func(a net.Addr) { addrCh <- a }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("listener exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not start")
	}

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + addr.String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not stop")
	}
	if flag.IsSet() {
		t.Error("clean stop must not set the error flag")
	}
}

func TestWorker_StartupErrorSetsFlag(t *testing.T) {
	flag := &fakeFlag{}
	w := New(Options{
		Config: config.ListenerConfig{Address: "127.0.0.1", Certificate: "broken"},
		Tree:   testTree(sshdRunning),
		Flag:   flag,
	})

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
	if !flag.IsSet() {
		t.Error("expected error flag to be set")
	}
}

func TestWorker_PortInUseSetsFlag(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	flag := &fakeFlag{}
	w := New(Options{
		Config: config.ListenerConfig{
			Address:     "127.0.0.1",
			Port:        busy.Addr().(*net.TCPAddr).Port,
			Certificate: "adhoc",
		},
		CertDir: t.TempDir(),
		Tree:    testTree(sshdRunning),
		Flag:    flag,
	})

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
	if !flag.IsSet() {
		t.Error("expected error flag to be set")
	}
}
