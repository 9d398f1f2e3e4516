package voice

import (
	"sync"
)

// MockClient records Connect calls and returns MockCalls whose lifecycle
// tests drive by hand.
type MockClient struct {
	mu    sync.Mutex
	calls []*MockCall
	err   error
	seq   int
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Connect(opts ConnectOptions, l Listener) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.seq++
	c := &MockCall{opts: opts, listener: l, seq: m.seq, state: StateConnecting}
	m.calls = append(m.calls, c)
	return c, nil
}

// SetError causes subsequent Connect calls to fail. Pass nil to clear.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns every call created so far.
func (m *MockClient) Calls() []*MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Last returns the most recent call, or nil.
func (m *MockClient) Last() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// MockCall is a scripted SDK call.
type MockCall struct {
	mu           sync.Mutex
	opts         ConnectOptions
	listener     Listener
	seq          int
	state        State
	muted        bool
	muteHistory  []bool
	digits       []string
	disconnected int
}

func (c *MockCall) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		return ""
	}
	return "CA" + string(rune('0'+c.seq%10)) + "mock"
}

func (c *MockCall) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *MockCall) Mute(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.muteHistory = append(c.muteHistory, muted)
}

func (c *MockCall) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *MockCall) SendDigits(digits string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digits = append(c.digits, digits)
}

func (c *MockCall) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
}

// Options returns the options the call was connected with.
func (c *MockCall) Options() ConnectOptions {
	return c.opts
}

// MuteHistory returns every value passed to Mute.
func (c *MockCall) MuteHistory() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.muteHistory))
	copy(out, c.muteHistory)
	return out
}

// Digits returns every digit string sent.
func (c *MockCall) Digits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.digits))
	copy(out, c.digits)
	return out
}

// Disconnects returns how many times Disconnect was called.
func (c *MockCall) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *MockCall) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Ring fires OnRinging.
func (c *MockCall) Ring() {
	c.setState(StateRinging)
	c.listener.OnRinging(c)
}

// Answer fires OnConnected.
func (c *MockCall) Answer() {
	c.setState(StateConnected)
	c.listener.OnConnected(c)
}

// Fail fires OnConnectFailure.
func (c *MockCall) Fail(err error) {
	c.setState(StateDisconnected)
	c.listener.OnConnectFailure(c, err)
}

// Reconnect fires OnReconnecting followed by OnReconnected.
func (c *MockCall) Reconnect(err error) {
	c.setState(StateReconnecting)
	c.listener.OnReconnecting(c, err)
	c.setState(StateConnected)
	c.listener.OnReconnected(c)
}

// Hangup fires OnDisconnected; err is nil for a normal remote hang-up.
func (c *MockCall) Hangup(err error) {
	c.setState(StateDisconnected)
	c.listener.OnDisconnected(c, err)
}
