package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/voip-mqtt/internal/call"
	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/publisher"
	"github.com/sweeney/voip-mqtt/internal/route"
)

type fakeCalls struct {
	log        []string
	connectErr error
	digitsErr  error
	sid        string
}

func (f *fakeCalls) record(format string, args ...any) {
	f.log = append(f.log, fmt.Sprintf(format, args...))
}

func (f *fakeCalls) Connect(from, to, token string) error {
	f.record("connect %s %s %s", from, to, token)
	return f.connectErr
}
func (f *fakeCalls) HangUp()              { f.record("hangUp") }
func (f *fakeCalls) ToggleMute(m bool)    { f.record("toggleMute %v", m) }
func (f *fakeCalls) ToggleSpeaker(s bool) { f.record("toggleSpeaker %v", s) }
func (f *fakeCalls) SendDigits(d string) error {
	f.record("sendDigits %s", d)
	return f.digitsErr
}
func (f *fakeCalls) SID() (string, bool)           { return f.sid, f.sid != "" }
func (f *fakeCalls) HangUpFromCallUI()             { f.record("ui hangUp") }
func (f *fakeCalls) ToggleMuteFromCallUI()         { f.record("ui toggleMute") }
func (f *fakeCalls) ToggleSpeakerFromCallUI()      { f.record("ui toggleSpeaker") }
func (f *fakeCalls) SetMutedFromCallUI(m bool)     { f.record("ui setMuted %v", m) }
func (f *fakeCalls) SendDigitsFromCallUI(d string) { f.record("ui digits %s", d) }

type failingExec struct{}

func (failingExec) Do(context.Context, func()) error { return context.DeadlineExceeded }

func newTestBridge(t *testing.T) (*Bridge, *fakeCalls, *publisher.MockPublisher) {
	t.Helper()
	pub := publisher.NewMockPublisher()
	calls := &fakeCalls{}
	b := New(pub, loop.NewManual(time.Unix(0, 0)), Options{Prefix: "voip/"})
	b.SetCalls(calls)
	require.NoError(t, b.Subscribe())
	return b, calls, pub
}

func args(t *testing.T, kv map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func TestDispatchErrorCodes(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		connectErr error
		digitsErr  error
		wantCode   string
	}{
		{
			name:       "connect invalid",
			req:        Request{Method: "connect"},
			connectErr: call.ErrInvalidArguments,
			wantCode:   CodeInvalidOptions,
		},
		{
			name:       "connect busy",
			req:        Request{Method: "connect"},
			connectErr: call.ErrCallAlreadyActive,
			wantCode:   CodeCallAlreadyActive,
		},
		{
			name:       "connect rejected",
			req:        Request{Method: "connect"},
			connectErr: &call.TransportError{Op: "connect", Err: errors.New("bad token")},
			wantCode:   CodeConnectError,
		},
		{
			name:      "digits empty",
			req:       Request{Method: "sendDigits"},
			digitsErr: call.ErrInvalidDigits,
			wantCode:  CodeInvalidDigits,
		},
		{
			name:      "digits no call",
			req:       Request{Method: "sendDigits"},
			digitsErr: call.ErrNoActiveCall,
			wantCode:  CodeNoCall,
		},
		{
			name:     "unknown method",
			req:      Request{Method: "hold"},
			wantCode: CodeMethodNotImplemented,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, calls, _ := newTestBridge(t)
			calls.connectErr = tt.connectErr
			calls.digitsErr = tt.digitsErr
			tt.req.ID = "42"

			resp := b.Dispatch(context.Background(), tt.req)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "42", resp.ID)
		})
	}
}

func TestDispatchCommands(t *testing.T) {
	b, calls, _ := newTestBridge(t)
	ctx := context.Background()

	reqs := []Request{
		{Method: "connect", Args: args(t, map[string]any{"from": "alice", "to": "bob", "token": "tok"})},
		{Method: "toggleMute", Args: args(t, map[string]any{"isMuted": true})},
		{Method: "toggleSpeaker", Args: args(t, map[string]any{"isSpeakerOn": "yes"})},
		{Method: "toggleSpeaker"},
		{Method: "sendDigits", Args: args(t, map[string]any{"digits": "7"})},
		{Method: "hangUp"},
	}
	for _, req := range reqs {
		resp := b.Dispatch(ctx, req)
		assert.Nil(t, resp.Error, req.Method)
		assert.Nil(t, resp.Result, req.Method)
	}
	assert.Equal(t, []string{
		"connect alice bob tok",
		"toggleMute true",
		"toggleSpeaker false",
		"toggleSpeaker false",
		"sendDigits 7",
		"hangUp",
	}, calls.log)
}

func TestGetSid(t *testing.T) {
	b, calls, _ := newTestBridge(t)

	resp := b.Dispatch(context.Background(), Request{Method: "getSid"})
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Result)

	calls.sid = "CA42"
	resp = b.Dispatch(context.Background(), Request{Method: "getSid"})
	assert.Equal(t, "CA42", resp.Result)
}

func TestDispatchWhenSequenceUnavailable(t *testing.T) {
	pub := publisher.NewMockPublisher()
	b := New(pub, failingExec{}, Options{Prefix: "voip"})
	b.SetCalls(&fakeCalls{})

	resp := b.Dispatch(context.Background(), Request{Method: "hangUp"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeHangUpError, resp.Error.Code)
}

func TestMethodTopicRoundTrip(t *testing.T) {
	_, calls, pub := newTestBridge(t)
	calls.sid = "CA7"

	require.True(t, pub.Deliver("voip/method", []byte(`{"id":"1","method":"getSid"}`)))
	require.True(t, pub.Deliver("voip/method", []byte(`{"id":"2","method":"sendDigits","args":{"digits":""}}`)))
	require.True(t, pub.Deliver("voip/method", []byte(`not json`)))
	require.True(t, pub.Deliver("voip/method", []byte(`{"id":"4"}`)))

	results := pub.OnTopic("voip/method/result")
	require.Len(t, results, 4)

	var r Response
	require.NoError(t, json.Unmarshal([]byte(results[0]), &r))
	assert.Equal(t, "1", r.ID)
	assert.Equal(t, "CA7", r.Result)

	assert.JSONEq(t, `{"id":"2","result":null}`, results[1])

	require.NoError(t, json.Unmarshal([]byte(results[2]), &r))
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)

	r = Response{}
	require.NoError(t, json.Unmarshal([]byte(results[3]), &r))
	assert.Equal(t, "4", r.ID)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)
}

func TestActions(t *testing.T) {
	_, calls, pub := newTestBridge(t)

	for _, a := range []string{"hangUp", "toggleMute", "toggleSpeaker", "mute", "unmute", "dtmf:5", " bogus "} {
		require.True(t, pub.Deliver("voip/action", []byte(a)))
	}
	assert.Equal(t, []string{
		"ui hangUp",
		"ui toggleMute",
		"ui toggleSpeaker",
		"ui setMuted true",
		"ui setMuted false",
		"ui digits 5",
	}, calls.log)
}

func TestEventsPublishedInOrder(t *testing.T) {
	b, _, pub := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	want := []string{"ringing", "connected", "mute", "callEnded"}
	for _, e := range want {
		b.Emit(call.Event(e))
	}
	assert.Eventually(t, func() bool {
		return len(pub.OnTopic("voip/events")) == len(want)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, pub.OnTopic("voip/events"))

	cancel()
	assert.NoError(t, <-done)
}

func TestEmitNeverBlocks(t *testing.T) {
	b, _, _ := newTestBridge(t)
	for i := 0; i < eventQueue+10; i++ {
		b.Emit(call.EventMute)
	}
	assert.Len(t, b.events, eventQueue)
}

func TestSubscribeRequiresCalls(t *testing.T) {
	b := New(publisher.NewMockPublisher(), loop.NewManual(time.Unix(0, 0)), Options{Prefix: "voip"})
	assert.Error(t, b.Subscribe())
}

func TestDeviceTopics(t *testing.T) {
	b, _, pub := newTestBridge(t)
	audio := device.NewAudioManager(nil)
	sensor := device.NewProximitySensor(5)
	require.NoError(t, b.SubscribeDevices(audio, sensor))

	var reasons []route.Reason
	audio.WatchRoute(func(r route.Reason) { reasons = append(reasons, r) })
	require.True(t, pub.Deliver("voip/device/route", []byte(`{"reason":"override","speaker":true}`)))
	require.True(t, pub.Deliver("voip/device/route", []byte(`{`)))
	assert.True(t, audio.SpeakerphoneOn())
	assert.Equal(t, []route.Reason{route.ReasonOverride}, reasons)

	var samples []float64
	require.NoError(t, sensor.Register(func(d float64) { samples = append(samples, d) }))
	require.True(t, pub.Deliver("voip/device/proximity", []byte(" 0.5\n")))
	require.True(t, pub.Deliver("voip/device/proximity", []byte("near")))
	assert.Equal(t, []float64{0.5}, samples)
}
