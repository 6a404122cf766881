package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"hassbridge/internal/domain"
	"hassbridge/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Type   string
	Body   map[string]any
}

// fakeHA records every request and answers with the status configured for
// its path (200 by default).
type fakeHA struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   map[string]int
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Type:   r.Header.Get("Content-Type"),
		Body:   body,
	})
	status, ok := f.status[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if status == http.StatusOK {
		w.Write([]byte(`[]`))
	} else {
		w.Write([]byte(`{"message":"nope"}`))
	}
}

func (f *fakeHA) Requests() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, status map[string]int) (*Client, *fakeHA) {
	t.Helper()
	ha := &fakeHA{status: status}
	srv := httptest.NewServer(ha)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL: srv.URL + "/",
		Token:   "secret-token",
		Timeout: 2 * time.Second,
		Logger:  testLogger(),
	})
	return c, ha
}

func TestTurnSwitch(t *testing.T) {
	c, ha := newTestClient(t, nil)

	res := c.TurnSwitch(context.Background(), "switch.coffee", domain.SwitchOn)
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.StatusCode != 200 || res.Body != "[]" {
		t.Errorf("unexpected result %+v", res)
	}

	reqs := ha.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPost || r.Path != "/api/services/switch/turn_on" {
		t.Errorf("unexpected request %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer secret-token" {
		t.Errorf("unexpected Authorization %q", r.Auth)
	}
	if r.Type != "application/json" {
		t.Errorf("unexpected Content-Type %q", r.Type)
	}
	if len(r.Body) != 1 || r.Body["entity_id"] != "switch.coffee" {
		t.Errorf("unexpected body %v", r.Body)
	}
}

func TestSetClimateModeAndTemperature(t *testing.T) {
	c, ha := newTestClient(t, nil)
	temp := 20.0

	results := c.SetClimateModeAndTemperature(context.Background(), "climate.down", domain.HVACHeat, &temp)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	reqs := ha.Requests()
	if reqs[0].Path != "/api/services/climate/set_hvac_mode" || reqs[0].Body["hvac_mode"] != "heat" {
		t.Errorf("first request should set hvac mode, got %+v", reqs[0])
	}
	if reqs[1].Path != "/api/services/climate/set_temperature" || reqs[1].Body["temperature"] != 20.0 {
		t.Errorf("second request should set temperature, got %+v", reqs[1])
	}
	if reqs[1].Body["entity_id"] != "climate.down" {
		t.Errorf("entity_id missing from temperature call: %v", reqs[1].Body)
	}
}

func TestSetClimateMode_WithoutTemperature(t *testing.T) {
	c, ha := newTestClient(t, nil)

	results := c.SetClimateModeAndTemperature(context.Background(), "climate.up", domain.HVACOff, nil)
	if len(results) != 1 || len(ha.Requests()) != 1 {
		t.Fatalf("expected a single mode call, got %d results", len(results))
	}
}

func TestSetClimate_SecondCallRunsAfterFailure(t *testing.T) {
	c, ha := newTestClient(t, map[string]int{"/api/services/climate/set_hvac_mode": 500})
	temp := 21.0

	results := c.SetClimateModeAndTemperature(context.Background(), "climate.up", domain.HVACHeat, &temp)
	if len(ha.Requests()) != 2 {
		t.Fatalf("temperature call must still be sent, got %d requests", len(ha.Requests()))
	}
	if results[0].OK() || !results[1].OK() {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestCall_Non200IsStatusError(t *testing.T) {
	c, _ := newTestClient(t, map[string]int{"/api/services/light/turn_on": 401})

	res := c.CallService(context.Background(), "light", "turn_on", "light.kitchen")
	if res.OK() {
		t.Fatal("expected failure for 401")
	}
	var se *StatusError
	if !errors.As(res.Err, &se) {
		t.Fatalf("expected *StatusError, got %T: %v", res.Err, res.Err)
	}
	if se.StatusCode != 401 || se.Body != `{"message":"nope"}` {
		t.Errorf("unexpected status error %+v", se)
	}
	if res.StatusCode != 401 {
		t.Errorf("result should carry the status code, got %d", res.StatusCode)
	}
}

func TestCall_InvalidCallSendsNothing(t *testing.T) {
	c, ha := newTestClient(t, nil)

	for _, call := range []domain.ServiceCall{
		{Service: "turn_on", EntityID: "light.x"},
		{Domain: "light", EntityID: "light.x"},
		{Domain: "light", Service: "turn_on"},
	} {
		res := c.Call(context.Background(), call)
		if !errors.Is(res.Err, domain.ErrInvalidCall) {
			t.Errorf("%+v: expected ErrInvalidCall, got %v", call, res.Err)
		}
	}
	if n := len(ha.Requests()); n != 0 {
		t.Fatalf("invalid calls must not reach the network, got %d requests", n)
	}
}

func TestCall_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond, Logger: testLogger()})

	start := time.Now()
	res := c.CallService(context.Background(), "switch", "turn_on", "switch.x")
	if res.OK() {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("call should be bounded by the client timeout")
	}
}

func TestCall_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: url, Token: "t", Timeout: time.Second, Logger: testLogger()})
	res := c.CallService(context.Background(), "switch", "turn_on", "switch.x")
	if res.OK() || res.StatusCode != 0 {
		t.Fatalf("expected a transport error, got %+v", res)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/" || r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"message":"API running."}`))
	}))
	t.Cleanup(srv.Close)

	good := NewClient(ClientConfig{BaseURL: srv.URL, Token: "good", Logger: testLogger()})
	if err := good.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	bad := NewClient(ClientConfig{BaseURL: srv.URL, Token: "bad", Logger: testLogger()})
	var se *StatusError
	if err := bad.Ping(context.Background()); !errors.As(err, &se) || se.StatusCode != 401 {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestNewHTTPClient(t *testing.T) {
	hc, err := NewHTTPClient(TransportOptions{Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if hc.Timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", hc.Timeout)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "t", HTTPClient: hc, Logger: testLogger()})
	if res := c.CallService(context.Background(), "switch", "turn_off", "switch.x"); !res.OK() {
		t.Fatalf("call through instrumented transport failed: %v", res.Err)
	}

	if _, err := NewHTTPClient(TransportOptions{Proxy: "127.0.0.1:1080"}); err != nil {
		t.Fatalf("socks5 client: %v", err)
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := &StatusError{StatusCode: 502, Body: string(long)}
	if got := err.Error(); len(got) > 260 {
		t.Fatalf("error message should be truncated, got %d bytes", len(got))
	}
}

func TestReplay_RecordedSession(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "climate_heat")

	c := NewClient(ClientConfig{
		BaseURL:    "http://homeassistant.local:8123",
		Token:      "recorded-token",
		HTTPClient: testutil.VCRHTTPClient(rec),
		Logger:     testLogger(),
	})

	temp := 20.0
	results := c.SetClimateModeAndTemperature(context.Background(), "climate.downstairs", domain.HVACHeat, &temp)
	for _, res := range results {
		if !res.OK() {
			t.Fatalf("%s: %v", res.Call, res.Err)
		}
	}
	if len(results) != 2 || results[1].StatusCode != 200 {
		t.Fatalf("unexpected results %+v", results)
	}

	res := c.CallService(context.Background(), "light", "turn_on", "light.kitchen")
	var se *StatusError
	if !errors.As(res.Err, &se) || se.StatusCode != 400 {
		t.Fatalf("expected recorded 400, got %v", res.Err)
	}
}
