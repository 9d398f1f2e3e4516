package presentation

import "sync"

// MockPresenter records presentation calls for test assertions.
type MockPresenter struct {
	mu      sync.Mutex
	started []Info
	updates []Info
	ends    []EndReason
	err     error
}

// NewMockPresenter creates a MockPresenter.
func NewMockPresenter() *MockPresenter {
	return &MockPresenter{}
}

func (m *MockPresenter) Start(info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.started = append(m.started, info)
	return nil
}

func (m *MockPresenter) Update(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, info)
}

func (m *MockPresenter) End(reason EndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends = append(m.ends, reason)
}

// SetError causes Start to fail with err. Pass nil to clear.
func (m *MockPresenter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Started returns every Info passed to a successful Start.
func (m *MockPresenter) Started() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Info(nil), m.started...)
}

// Updates returns every Info passed to Update.
func (m *MockPresenter) Updates() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Info(nil), m.updates...)
}

// Ends returns every reason passed to End.
func (m *MockPresenter) Ends() []EndReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EndReason(nil), m.ends...)
}
