package hub

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/edgehub-core/internal/auth"
	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// mockRepo is an in-memory device.Repository. Setting err fails every
// operation, for storage-fault paths.
type mockRepo struct {
	mu        sync.Mutex
	byLogical map[string]*device.Device
	err       error

	statusCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byLogical: make(map[string]*device.Device)}
}

func (m *mockRepo) GetByLogicalID(_ context.Context, logicalID string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	dev, ok := m.byLogical[logicalID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return dev.Clone(), nil
}

func (m *mockRepo) GetByHardwareKey(_ context.Context, hardwareKey string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, dev := range m.byLogical {
		if dev.HardwareKey == hardwareKey {
			return dev.Clone(), nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

func (m *mockRepo) List(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]device.Device, 0, len(m.byLogical))
	for _, dev := range m.byLogical {
		out = append(out, *dev.Clone())
	}
	return out, nil
}

func (m *mockRepo) Create(_ context.Context, dev *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byLogical[dev.LogicalID]; ok {
		return device.ErrDeviceExists
	}
	for _, existing := range m.byLogical {
		if existing.HardwareKey == dev.HardwareKey {
			return device.ErrDeviceExists
		}
	}
	m.byLogical[dev.LogicalID] = dev.Clone()
	return nil
}

func (m *mockRepo) Update(_ context.Context, dev *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byLogical[dev.LogicalID]; !ok {
		return device.ErrDeviceNotFound
	}
	m.byLogical[dev.LogicalID] = dev.Clone()
	return nil
}

func (m *mockRepo) Delete(_ context.Context, logicalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byLogical[logicalID]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(m.byLogical, logicalID)
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, logicalID string, status device.Status, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.err != nil {
		return m.err
	}
	dev, ok := m.byLogical[logicalID]
	if !ok {
		return device.ErrDeviceNotFound
	}
	dev.Status = status
	dev.LastSeen = lastSeen
	return nil
}

func (m *mockRepo) SetAssignedConfig(_ context.Context, logicalID, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	dev, ok := m.byLogical[logicalID]
	if !ok {
		return device.ErrDeviceNotFound
	}
	dev.AssignedConfigID = configID
	return nil
}

func (m *mockRepo) MarkUnseen(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, dev := range m.byLogical {
		dev.Status = device.StatusOfflineRecovery
	}
	return nil
}

func (m *mockRepo) InTx(ctx context.Context, fn func(device.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m)
}

func (m *mockRepo) get(logicalID string) *device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.byLogical[logicalID]
	if !ok {
		return nil
	}
	return dev.Clone()
}

func (m *mockRepo) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byLogical)
}

// mockTokens is an in-memory auth.TokenRepository keyed by raw token.
type mockTokens struct {
	mu     sync.Mutex
	tokens map[string]*auth.RegistrationToken
}

func newMockTokens() *mockTokens {
	return &mockTokens{tokens: make(map[string]*auth.RegistrationToken)}
}

func (m *mockTokens) mint(raw string, token *auth.RegistrationToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.TokenHash = auth.HashToken(raw)
	m.tokens[raw] = token
}

func (m *mockTokens) Create(_ context.Context, token *auth.RegistrationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *mockTokens) GetByHash(_ context.Context, tokenHash string) (*auth.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return nil, auth.ErrTokenNotFound
}

func (m *mockTokens) List(_ context.Context) ([]auth.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.RegistrationToken, 0, len(m.tokens))
	for _, token := range m.tokens {
		out = append(out, *token)
	}
	return out, nil
}

func (m *mockTokens) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for raw, token := range m.tokens {
		if token.ID == id {
			delete(m.tokens, raw)
			return nil
		}
	}
	return auth.ErrTokenNotFound
}

func (m *mockTokens) Consume(_ context.Context, rawToken, hardwareKey string, now time.Time) (*auth.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[rawToken]
	if !ok {
		return nil, auth.ErrTokenNotFound
	}
	switch {
	case token.Consumed():
		return nil, auth.ErrTokenConsumed
	case token.Expired(now):
		return nil, auth.ErrTokenExpired
	case token.HardwareKey != "" && token.HardwareKey != hardwareKey:
		return nil, auth.ErrTokenMismatch
	}

	consumedAt := now
	token.ConsumedAt = &consumedAt
	token.ConsumedBy = hardwareKey
	return token, nil
}
