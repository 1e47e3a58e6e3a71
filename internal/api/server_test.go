package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/edgehub-core/internal/auth"
	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/hub"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// fakeRepo is an in-memory device.Repository for handler tests.
type fakeRepo struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{devices: make(map[string]*device.Device)}
}

func (f *fakeRepo) GetByLogicalID(_ context.Context, logicalID string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[logicalID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return dev.Clone(), nil
}

func (f *fakeRepo) GetByHardwareKey(_ context.Context, hardwareKey string) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dev := range f.devices {
		if dev.HardwareKey == hardwareKey {
			return dev.Clone(), nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

func (f *fakeRepo) List(_ context.Context) ([]device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Device, 0, len(f.devices))
	for _, dev := range f.devices {
		out = append(out, *dev)
	}
	return out, nil
}

func (f *fakeRepo) Create(_ context.Context, dev *device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[dev.LogicalID]; ok {
		return device.ErrDeviceExists
	}
	f.devices[dev.LogicalID] = dev.Clone()
	return nil
}

func (f *fakeRepo) Update(_ context.Context, dev *device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[dev.LogicalID]; !ok {
		return device.ErrDeviceNotFound
	}
	f.devices[dev.LogicalID] = dev.Clone()
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, logicalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[logicalID]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(f.devices, logicalID)
	return nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, logicalID string, status device.Status, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[logicalID]
	if !ok {
		return device.ErrDeviceNotFound
	}
	dev.Status = status
	dev.LastSeen = lastSeen
	return nil
}

func (f *fakeRepo) SetAssignedConfig(_ context.Context, logicalID, configID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[logicalID]
	if !ok {
		return device.ErrDeviceNotFound
	}
	dev.AssignedConfigID = configID
	return nil
}

func (f *fakeRepo) MarkUnseen(_ context.Context) error { return nil }

func (f *fakeRepo) InTx(_ context.Context, fn func(device.Repository) error) error {
	return fn(f)
}

// fakeTokens is an in-memory auth.TokenRepository.
type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]*auth.RegistrationToken
	nextID int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{tokens: make(map[string]*auth.RegistrationToken)}
}

func (f *fakeTokens) Create(_ context.Context, token *auth.RegistrationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	token.ID = "rtk-test-" + string(rune('0'+f.nextID))
	token.CreatedAt = time.Now().UTC()
	f.tokens[token.ID] = token
	return nil
}

func (f *fakeTokens) GetByHash(_ context.Context, tokenHash string) (*auth.RegistrationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.tokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return nil, auth.ErrTokenNotFound
}

func (f *fakeTokens) List(_ context.Context) ([]auth.RegistrationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]auth.RegistrationToken, 0, len(f.tokens))
	for _, token := range f.tokens {
		out = append(out, *token)
	}
	return out, nil
}

func (f *fakeTokens) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[id]; !ok {
		return auth.ErrTokenNotFound
	}
	delete(f.tokens, id)
	return nil
}

func (f *fakeTokens) Consume(_ context.Context, _, _ string, _ time.Time) (*auth.RegistrationToken, error) {
	return nil, auth.ErrTokenNotFound
}

// fakeDispatcher returns canned dispatch results.
type fakeDispatcher struct {
	ack       hub.Ack
	err       error
	assignErr error
	lastName  string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, name string, _ map[string]any) (hub.Ack, error) {
	f.lastName = name
	return f.ack, f.err
}

func (f *fakeDispatcher) AssignConfiguration(_ context.Context, _, _ string) (hub.Ack, error) {
	if f.assignErr != nil {
		return hub.Ack{}, f.assignErr
	}
	return f.ack, f.err
}

// fakeConn is a no-op hub.DeviceConn for index entries.
type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) SendCommand(context.Context, hub.Command) error             { return nil }
func (f *fakeConn) SendConfiguration(context.Context, hub.ConfigurationPush) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type testEnv struct {
	srv        *httptest.Server
	repo       *fakeRepo
	tokens     *fakeTokens
	dispatcher *fakeDispatcher
	index      *hub.ConnectionIndex
	authHeader string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:       newFakeRepo(),
		tokens:     newFakeTokens(),
		dispatcher: &fakeDispatcher{},
		index:      hub.NewConnectionIndex(),
	}

	server, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{
			JWT:      config.JWTConfig{Secret: "test-secret", AccessTokenTTL: 15},
			AdminKey: "test-admin-key",
		},
		Logger:     testLogger(),
		Repo:       env.repo,
		Tokens:     env.tokens,
		Dispatcher: env.dispatcher,
		Index:      env.index,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	env.srv = httptest.NewServer(server.buildRouter())
	t.Cleanup(env.srv.Close)

	token, err := auth.GenerateAccessToken("operator", "test-secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	env.authHeader = "Bearer " + token

	return env
}

// do issues a request with the operator bearer token attached.
func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", e.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestAuthTokenExchange(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong admin key rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"admin_key": "wrong"}) //nolint:errcheck // static input
		resp, err := http.Post(env.srv.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /auth/token: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid admin key issues usable token", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"admin_key": "test-admin-key"}) //nolint:errcheck // static input
		resp, err := http.Post(env.srv.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /auth/token: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var tokenResp authTokenResponse
		decodeBody(t, resp, &tokenResp)
		if tokenResp.AccessToken == "" {
			t.Fatal("empty access token")
		}

		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/devices", nil) //nolint:errcheck // static input
		req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)
		listResp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /devices: %v", err)
		}
		defer listResp.Body.Close()
		if listResp.StatusCode != http.StatusOK {
			t.Errorf("authenticated list status = %d, want 200", listResp.StatusCode)
		}
	})
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET /devices: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}
}

func TestListDevices_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	//nolint:errcheck // test fixtures
	env.repo.Create(ctx, &device.Device{LogicalID: "pi-01", HardwareKey: "AA", Group: "lobby", Status: device.StatusOnline})
	//nolint:errcheck // test fixtures
	env.repo.Create(ctx, &device.Device{LogicalID: "pi-02", HardwareKey: "BB", Group: "kitchen", Status: device.StatusOffline})
	env.index.Set("pi-01", &fakeConn{}, &device.Device{LogicalID: "pi-01"})

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"no filter", "", 2},
		{"by status", "?status=online", 1},
		{"by group", "?group=kitchen", 1},
		{"connected only", "?connected=true", 1},
		{"no match", "?group=garage", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/v1/devices"+tc.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			var body struct {
				Count int `json:"count"`
			}
			decodeBody(t, resp, &body)
			if body.Count != tc.want {
				t.Errorf("count = %d, want %d", body.Count, tc.want)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)
	//nolint:errcheck // test fixture
	env.repo.Create(context.Background(), &device.Device{LogicalID: "pi-01", HardwareKey: "AA"})

	resp := env.do(t, http.MethodGet, "/api/v1/devices/pi-01", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/devices/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown device = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t)
	//nolint:errcheck // test fixture
	env.repo.Create(context.Background(), &device.Device{LogicalID: "pi-01", HardwareKey: "AA", Group: "lobby"})

	resp := env.do(t, http.MethodPatch, "/api/v1/devices/pi-01", map[string]string{"group": "kitchen"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	updated, err := env.repo.GetByLogicalID(context.Background(), "pi-01")
	if err != nil {
		t.Fatalf("GetByLogicalID() error = %v", err)
	}
	if updated.Group != "kitchen" {
		t.Errorf("Group = %q, want %q", updated.Group, "kitchen")
	}
}

func TestDeleteDevice_DropsConnection(t *testing.T) {
	env := newTestEnv(t)
	//nolint:errcheck // test fixture
	env.repo.Create(context.Background(), &device.Device{LogicalID: "pi-01", HardwareKey: "AA"})
	conn := &fakeConn{}
	env.index.Set("pi-01", conn, &device.Device{LogicalID: "pi-01"})

	resp := env.do(t, http.MethodDelete, "/api/v1/devices/pi-01", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	if !conn.isClosed() {
		t.Error("live connection not closed on delete")
	}
	if _, ok := env.index.Get("pi-01"); ok {
		t.Error("index entry remains after delete")
	}
}

func TestDispatchCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("success returns ack", func(t *testing.T) {
		env.dispatcher.ack = hub.Ack{CommandID: "cmd-1", Success: true}
		env.dispatcher.err = nil

		resp := env.do(t, http.MethodPost, "/api/v1/devices/pi-01/commands", dispatchCommandRequest{Name: "restart"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var ack hub.Ack
		decodeBody(t, resp, &ack)
		if !ack.Success || ack.CommandID != "cmd-1" {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("offline maps to 409", func(t *testing.T) {
		env.dispatcher.err = hub.ErrDeviceOffline
		resp := env.do(t, http.MethodPost, "/api/v1/devices/pi-01/commands", dispatchCommandRequest{Name: "restart"})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("unresponsive maps to 504", func(t *testing.T) {
		env.dispatcher.err = hub.ErrDeviceUnresponsive
		resp := env.do(t, http.MethodPost, "/api/v1/devices/pi-01/commands", dispatchCommandRequest{Name: "restart"})
		if resp.StatusCode != http.StatusGatewayTimeout {
			t.Errorf("status = %d, want 504", resp.StatusCode)
		}
	})

	t.Run("transport failure maps to 502", func(t *testing.T) {
		env.dispatcher.err = hub.ErrTransportError
		resp := env.do(t, http.MethodPost, "/api/v1/devices/pi-01/commands", dispatchCommandRequest{Name: "restart"})
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", resp.StatusCode)
		}
	})
}

func TestAssignConfig(t *testing.T) {
	env := newTestEnv(t)

	t.Run("pushed when connected", func(t *testing.T) {
		env.dispatcher.ack = hub.Ack{Success: true}
		env.dispatcher.assignErr = nil

		resp := env.do(t, http.MethodPut, "/api/v1/devices/pi-01/config", assignConfigRequest{ConfigID: "cfg-5"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("deferred when offline", func(t *testing.T) {
		env.dispatcher.assignErr = hub.ErrDeviceOffline

		resp := env.do(t, http.MethodPut, "/api/v1/devices/pi-01/config", assignConfigRequest{ConfigID: "cfg-5"})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		var body struct {
			Pushed bool `json:"pushed"`
		}
		decodeBody(t, resp, &body)
		if body.Pushed {
			t.Error("pushed = true for offline device")
		}
	})

	t.Run("missing config_id rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/api/v1/devices/pi-01/config", map[string]string{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/tokens", createTokenRequest{
		HardwareKey: "AA:BB",
		Group:       "lobby",
		TTLSeconds:  3600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	var created createTokenResponse
	decodeBody(t, resp, &created)
	if created.Token == "" {
		t.Fatal("raw token missing from create response")
	}
	if created.ExpiresAt == nil {
		t.Error("expiry missing despite ttl_seconds")
	}

	// Stored form is the hash, never the raw value.
	stored, err := env.tokens.GetByHash(context.Background(), auth.HashToken(created.Token))
	if err != nil {
		t.Fatalf("token not stored by hash: %v", err)
	}
	if stored.Group != "lobby" {
		t.Errorf("stored Group = %q, want %q", stored.Group, "lobby")
	}

	listResp := env.do(t, http.MethodGet, "/api/v1/tokens", nil)
	var listBody struct {
		Count int `json:"count"`
	}
	decodeBody(t, listResp, &listBody)
	if listBody.Count != 1 {
		t.Errorf("token count = %d, want 1", listBody.Count)
	}

	delResp := env.do(t, http.MethodDelete, "/api/v1/tokens/"+created.ID, nil)
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", delResp.StatusCode)
	}

	delAgain := env.do(t, http.MethodDelete, "/api/v1/tokens/"+created.ID, nil)
	if delAgain.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", delAgain.StatusCode)
	}
}
