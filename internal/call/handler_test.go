package call

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/presentation"
	"github.com/sweeney/voip-mqtt/internal/route"
	"github.com/sweeney/voip-mqtt/internal/voice"
)

type recorder struct {
	events []Event
}

func (r *recorder) Emit(e Event) { r.events = append(r.events, e) }

type fixture struct {
	h      *Handler
	m      *loop.Manual
	client *voice.MockClient
	pres   *presentation.MockPresenter
	sink   *recorder
	audio  *device.AudioManager
	sensor *device.ProximitySensor
	out    *feedback.MockOutput
}

func newFixture(t *testing.T, withSensor bool) *fixture {
	t.Helper()
	f := &fixture{
		m:      loop.NewManual(time.Unix(1_700_000_000, 0)),
		client: voice.NewMockClient(),
		pres:   presentation.NewMockPresenter(),
		sink:   &recorder{},
		audio:  device.NewAudioManager(nil),
		out:    feedback.NewMockOutput(),
	}
	f.out.Pace = time.Millisecond
	f.out.Limit = 1

	dev := Devices{Audio: f.audio, Output: f.out, WakeLock: device.NewWakeLock(nil)}
	if withSensor {
		f.sensor = device.NewProximitySensor(5)
		dev.Sensor = f.sensor
	}
	f.h = NewHandler(f.client, f.pres, f.sink, dev, f.m, Options{})
	f.h.Start()
	t.Cleanup(f.h.Cleanup)
	return f
}

// dial connects and returns the SDK call.
func (f *fixture) dial(t *testing.T) *voice.MockCall {
	t.Helper()
	require.NoError(t, f.h.Connect("alice", "bob", "tok"))
	c := f.client.Last()
	require.NotNil(t, c)
	return c
}

// answered dials and takes the call through ringing to connected.
func (f *fixture) answered(t *testing.T) *voice.MockCall {
	t.Helper()
	c := f.dial(t)
	c.Ring()
	c.Answer()
	require.Equal(t, StateConnected, f.h.State())
	return c
}

func TestConnectNormalisesFrom(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"alice", "client:alice"},
		{"client:alice", "client:alice"},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			f := newFixture(t, true)
			require.NoError(t, f.h.Connect(tt.from, "bob", "tok"))

			opts := f.client.Last().Options()
			assert.Equal(t, map[string]string{"From": tt.want, "To": "bob"}, opts.Params)
			assert.Equal(t, "tok", opts.AccessToken)

			started := f.pres.Started()
			require.Len(t, started, 1)
			assert.Equal(t, opts.CallID, started[0].CallID)
			assert.Equal(t, "bob", started[0].Contact)
			assert.Equal(t, StateConnecting, f.h.State())
		})
	}
}

func TestConnectValidation(t *testing.T) {
	tests := []struct {
		name            string
		from, to, token string
	}{
		{"no from", "", "bob", "tok"},
		{"no to", "alice", "", "tok"},
		{"no token", "alice", "bob", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			err := f.h.Connect(tt.from, tt.to, tt.token)
			assert.ErrorIs(t, err, ErrInvalidArguments)
			assert.Empty(t, f.client.Calls())
			assert.Empty(t, f.pres.Started())
			assert.Equal(t, StateIdle, f.h.State())
		})
	}
}

func TestConnectWhileCallActive(t *testing.T) {
	f := newFixture(t, true)
	f.dial(t)

	err := f.h.Connect("alice", "carol", "tok")
	assert.ErrorIs(t, err, ErrCallAlreadyActive)
	assert.Len(t, f.client.Calls(), 1)
}

func TestConnectPresentationRejected(t *testing.T) {
	f := newFixture(t, true)
	f.pres.SetError(errors.New("foreground start not allowed"))

	err := f.h.Connect("alice", "bob", "tok")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "start presentation", te.Op)
	assert.Empty(t, f.client.Calls())
	assert.Equal(t, StateIdle, f.h.State())
	assert.False(t, f.h.guard.Active())
}

func TestConnectSubmissionFailure(t *testing.T) {
	f := newFixture(t, true)
	sdkErr := errors.New("invalid access token")
	f.client.SetError(sdkErr)

	err := f.h.Connect("alice", "bob", "tok")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, sdkErr)
	assert.Equal(t, []presentation.EndReason{presentation.EndFailed}, f.pres.Ends())
	assert.Equal(t, StateIdle, f.h.State())
	assert.False(t, f.h.guard.Active())
	assert.Empty(t, f.sink.events)
}

func TestCallLifecycle(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	assert.True(t, f.h.guard.Active())

	c.Ring()
	assert.Equal(t, StateRinging, f.h.State())
	assert.Equal(t, []Event{EventRinging}, f.sink.events)
	assert.True(t, f.h.player.Playing(feedback.Ringback))

	c.Answer()
	assert.Equal(t, StateConnected, f.h.State())
	assert.False(t, f.h.player.Playing(feedback.Ringback))
	assert.Equal(t, []Event{EventRinging, EventConnected}, f.sink.events)
	updates := f.pres.Updates()
	require.NotEmpty(t, updates)
	assert.Equal(t, f.m.Now(), updates[len(updates)-1].ConnectedAt)

	c.Hangup(nil)
	assert.Equal(t, StateIdle, f.h.State())
	assert.Equal(t, []Event{EventRinging, EventConnected, EventCallEnded}, f.sink.events)
	assert.Equal(t, []presentation.EndReason{presentation.EndRemote}, f.pres.Ends())
	assert.False(t, f.h.guard.Active())
	assert.Zero(t, c.Disconnects())
}

func TestReconnectOnlyLogs(t *testing.T) {
	f := newFixture(t, true)
	c := f.answered(t)

	c.Reconnect(errors.New("network handover"))
	assert.Equal(t, StateConnected, f.h.State())
	assert.Equal(t, []Event{EventRinging, EventConnected}, f.sink.events)
}

func TestPendingMuteAppliedOnce(t *testing.T) {
	f := newFixture(t, true)

	f.h.ToggleMute(true)
	assert.Equal(t, []Event{EventMute}, f.sink.events)
	require.NotNil(t, f.h.pendingMute)

	c := f.dial(t)
	c.Ring()
	assert.Empty(t, c.MuteHistory())

	c.Answer()
	assert.Equal(t, []bool{true}, c.MuteHistory())
	assert.Nil(t, f.h.pendingMute)
	assert.True(t, f.h.Muted())

	c.Reconnect(errors.New("handover"))
	assert.Equal(t, []bool{true}, c.MuteHistory())

	f.h.ToggleMute(false)
	assert.Equal(t, []bool{true, false}, c.MuteHistory())
	assert.Nil(t, f.h.pendingMute)
	assert.Equal(t, EventUnmute, f.sink.events[len(f.sink.events)-1])
}

func TestPendingSpeakerReappliedAfterConnect(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)

	f.h.ToggleSpeaker(true)
	assert.True(t, f.audio.SpeakerphoneOn(), "route changes before the call connects")
	assert.Equal(t, []Event{EventSpeakerOn}, f.sink.events)
	require.NotNil(t, f.h.pendingSpeaker)

	c.Ring()
	c.Answer()
	assert.Nil(t, f.h.pendingSpeaker)

	// the SDK grabs the audio session on connect and resets the route
	require.NoError(t, f.audio.ClearCommunicationDevice())

	f.m.Advance(DefaultSpeakerResyncDelay - time.Millisecond)
	assert.False(t, f.audio.SpeakerphoneOn())
	f.m.Advance(time.Millisecond)
	assert.True(t, f.audio.SpeakerphoneOn())
	assert.True(t, f.h.SpeakerOn())

	f.m.Advance(time.Second)
	assert.Equal(t, 1, countEvents(f.sink.events, EventSpeakerOn))
}

func TestSpeakerToggleAfterConnectCancelsResync(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	f.h.ToggleSpeaker(true)
	c.Ring()
	c.Answer()

	f.h.ToggleSpeaker(false)
	f.m.Advance(time.Second)
	assert.False(t, f.audio.SpeakerphoneOn())
	assert.False(t, f.h.SpeakerOn())
}

func TestExternalRouteChangeCancelsResync(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	f.h.ToggleSpeaker(true)
	// leave the suppression window so the next change counts as external
	f.m.Advance(300 * time.Millisecond)
	c.Ring()
	c.Answer()

	f.audio.External(route.ReasonOverride, false)
	f.m.Advance(150 * time.Millisecond)
	require.Equal(t, EventSpeakerOff, f.sink.events[len(f.sink.events)-1])
	assert.False(t, f.h.SpeakerOn())

	f.m.Advance(time.Second)
	assert.False(t, f.h.SpeakerOn())
	assert.False(t, f.audio.SpeakerphoneOn())
	assert.Equal(t, EventSpeakerOff, f.sink.events[len(f.sink.events)-1])
	assert.Equal(t, 1, countEvents(f.sink.events, EventSpeakerOn))
}

func TestConnectWithoutPendingSpeakerUsesReceiver(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	c.Ring()

	require.NoError(t, f.audio.SetCommunicationDevice(device.Speaker))
	c.Answer()
	assert.False(t, f.audio.SpeakerphoneOn())
}

func TestHangUpIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	c.Ring()
	tracks := len(f.out.Tracks())

	f.h.HangUp()
	assert.Len(t, f.out.Tracks(), tracks+1, "busy tone")
	assert.False(t, f.h.player.Playing(feedback.Ringback))
	assert.Equal(t, 1, c.Disconnects())
	assert.Equal(t, StateDisconnecting, f.h.State())
	assert.Equal(t, []presentation.EndReason{presentation.EndLocal}, f.pres.Ends())

	f.h.HangUp()
	assert.Len(t, f.out.Tracks(), tracks+1, "no second busy tone")
	assert.Equal(t, 1, c.Disconnects())

	c.Hangup(nil)
	assert.Equal(t, []Event{EventRinging, EventCallEnded}, f.sink.events)
	assert.Equal(t, StateIdle, f.h.State())

	f.m.Advance(DefaultDisconnectTimeout)
	assert.Equal(t, 1, countEvents(f.sink.events, EventCallEnded))
}

func TestHangUpWithoutConfirmation(t *testing.T) {
	f := newFixture(t, true)
	c := f.answered(t)

	f.h.HangUp()
	f.m.Advance(DefaultDisconnectTimeout - time.Millisecond)
	assert.Equal(t, 0, countEvents(f.sink.events, EventCallEnded))
	f.m.Advance(time.Millisecond)
	assert.Equal(t, 1, countEvents(f.sink.events, EventCallEnded))

	c.Hangup(nil)
	assert.Equal(t, 1, countEvents(f.sink.events, EventCallEnded))
}

func TestHangUpResetsState(t *testing.T) {
	f := newFixture(t, true)
	f.answered(t)
	f.h.ToggleMute(true)
	f.h.ToggleSpeaker(true)

	f.h.HangUp()
	assert.False(t, f.h.Muted())
	assert.False(t, f.h.SpeakerOn())
	assert.False(t, f.audio.SpeakerphoneOn())
	assert.False(t, f.h.guard.Active())
	assert.Nil(t, f.h.pendingMute)
	assert.Nil(t, f.h.pendingSpeaker)
}

func TestHangUpWithoutCall(t *testing.T) {
	f := newFixture(t, true)

	f.h.HangUp()
	f.h.HangUp()
	assert.Empty(t, f.out.Tracks())
	assert.Empty(t, f.sink.events)
}

func TestNewCallWhileHangUpUnconfirmed(t *testing.T) {
	f := newFixture(t, true)
	first := f.answered(t)
	f.h.HangUp()

	second := f.dial(t)
	assert.Equal(t, 1, countEvents(f.sink.events, EventCallEnded))

	first.Hangup(nil)
	first.Ring()
	assert.Equal(t, 1, countEvents(f.sink.events, EventCallEnded))
	assert.Equal(t, 1, countEvents(f.sink.events, EventRinging))

	second.Ring()
	assert.Equal(t, 2, countEvents(f.sink.events, EventRinging))
	assert.Equal(t, StateRinging, f.h.State())
}

func TestStaleCallbacksIgnored(t *testing.T) {
	f := newFixture(t, true)
	old := f.dial(t)
	old.Fail(errors.New("timeout"))
	require.Equal(t, []Event{EventCallEnded}, f.sink.events)

	current := f.dial(t)
	old.Ring()
	old.Answer()
	old.Hangup(nil)
	assert.Equal(t, []Event{EventCallEnded}, f.sink.events)
	assert.Equal(t, StateConnecting, f.h.State())

	current.Ring()
	assert.Equal(t, []Event{EventCallEnded, EventRinging}, f.sink.events)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Event
	}{
		{"normal hang-up", nil, EventCallEnded},
		{"decline text", errors.New("Call Declined"), EventDeclined},
		{"lower case", errors.New("remote decline"), EventDeclined},
		{"sip code", &voice.CallError{Code: 603, Message: "Busy Everywhere"}, EventDeclined},
		{"code in text", errors.New("SIP/2.0 603"), EventDeclined},
		{"busy", &voice.CallError{Code: 486, Message: "Busy Here"}, EventCallEnded},
		{"empty", errors.New(""), EventCallEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestConnectFailureDeclined(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	c.Ring()

	c.Fail(&voice.CallError{Code: 603, Message: "Decline"})
	assert.Equal(t, []Event{EventRinging, EventDeclined}, f.sink.events)
	assert.Equal(t, []presentation.EndReason{presentation.EndDeclined}, f.pres.Ends())
	assert.False(t, f.h.player.Playing(feedback.Ringback))
	assert.Equal(t, StateIdle, f.h.State())
}

func TestConnectFailureGeneric(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)

	c.Fail(errors.New("signaling timeout"))
	assert.Equal(t, []Event{EventCallEnded}, f.sink.events)
	assert.Equal(t, []presentation.EndReason{presentation.EndFailed}, f.pres.Ends())
}

func TestProximityFollowsSpeaker(t *testing.T) {
	f := newFixture(t, true)

	f.h.ToggleSpeaker(false)
	assert.False(t, f.h.guard.Active(), "no call, no guard")

	f.dial(t)
	assert.True(t, f.h.guard.Active())

	f.h.ToggleSpeaker(true)
	assert.False(t, f.h.guard.Active())

	f.h.ToggleSpeaker(false)
	assert.True(t, f.h.guard.Active())

	f.h.HangUp()
	assert.False(t, f.h.guard.Active())
}

func TestConnectWithSpeakerOnSkipsProximity(t *testing.T) {
	f := newFixture(t, true)
	f.h.ToggleSpeaker(true)
	f.dial(t)
	assert.False(t, f.h.guard.Active())
}

func TestProximitySamplesDriveWakeLock(t *testing.T) {
	f := newFixture(t, true)
	f.dial(t)

	require.True(t, f.sensor.Feed(0))
	assert.True(t, f.h.guard.Active())

	f.h.ToggleSpeaker(true)
	assert.False(t, f.sensor.Feed(0), "sensor unregistered while speaker is on")
}

func TestNoProximitySensor(t *testing.T) {
	f := newFixture(t, false)
	f.dial(t)
	assert.False(t, f.h.guard.Active())
}

func TestSendDigits(t *testing.T) {
	f := newFixture(t, true)

	assert.ErrorIs(t, f.h.SendDigits(""), ErrInvalidDigits)
	assert.ErrorIs(t, f.h.SendDigits("1"), ErrNoActiveCall)

	c := f.dial(t)
	assert.NoError(t, f.h.SendDigits("1"))
	assert.Empty(t, c.Digits(), "not connected yet")

	c.Ring()
	c.Answer()
	assert.NoError(t, f.h.SendDigits("5"))
	assert.ErrorIs(t, f.h.SendDigits(""), ErrInvalidDigits)
	assert.Equal(t, []string{"5"}, c.Digits())
}

func TestSID(t *testing.T) {
	f := newFixture(t, true)
	_, ok := f.h.SID()
	assert.False(t, ok)

	c := f.dial(t)
	_, ok = f.h.SID()
	assert.False(t, ok, "SDK has not assigned a sid yet")

	c.Ring()
	sid, ok := f.h.SID()
	assert.True(t, ok)
	assert.Equal(t, c.SID(), sid)
}

func TestExternalRouteChangeReported(t *testing.T) {
	f := newFixture(t, true)
	f.answered(t)
	// let the receiver default applied on connect settle
	f.m.Advance(time.Second)

	f.audio.External(route.ReasonOverride, true)
	assert.False(t, f.h.SpeakerOn())
	f.m.Advance(100 * time.Millisecond)

	assert.True(t, f.h.SpeakerOn())
	assert.Equal(t, EventSpeakerOn, f.sink.events[len(f.sink.events)-1])
	assert.False(t, f.h.guard.Active())
	last := f.pres.Updates()[len(f.pres.Updates())-1]
	assert.True(t, last.SpeakerOn)
}

func TestRouteChangeWhileRingingRestartsRingback(t *testing.T) {
	f := newFixture(t, true)
	c := f.dial(t)
	c.Ring()
	tracks := len(f.out.Tracks())

	f.audio.External(route.ReasonOverride, true)
	f.m.Advance(100 * time.Millisecond)
	require.Equal(t, EventSpeakerOn, f.sink.events[len(f.sink.events)-1])
	require.NotNil(t, f.h.pendingSpeaker)
	assert.True(t, *f.h.pendingSpeaker)
	assert.Len(t, f.out.Tracks(), tracks)

	f.m.Advance(DefaultRingbackRestartDelay)
	assert.Len(t, f.out.Tracks(), tracks+1)
	assert.True(t, f.h.player.Playing(feedback.Ringback))
}

func TestSelfInducedRouteChangeNotReported(t *testing.T) {
	f := newFixture(t, true)
	f.answered(t)

	f.h.ToggleSpeaker(true)
	f.audio.External(route.ReasonOverride, true)
	f.m.Advance(time.Second)
	assert.Equal(t, 1, countEvents(f.sink.events, EventSpeakerOn))
}

func TestCallUIActions(t *testing.T) {
	f := newFixture(t, true)

	f.h.HangUpFromCallUI()
	f.h.ToggleMuteFromCallUI()
	f.h.ToggleSpeakerFromCallUI()
	f.h.SetMutedFromCallUI(true)
	f.h.SendDigitsFromCallUI("1")
	assert.Empty(t, f.sink.events)
	assert.Empty(t, f.out.Tracks())

	c := f.answered(t)
	f.h.ToggleMuteFromCallUI()
	f.h.ToggleMuteFromCallUI()
	f.h.SetMutedFromCallUI(false)
	f.h.SetMutedFromCallUI(true)
	assert.Equal(t, []bool{true, false, true}, c.MuteHistory())

	f.h.ToggleSpeakerFromCallUI()
	assert.True(t, f.audio.SpeakerphoneOn())

	f.h.SendDigitsFromCallUI("9")
	f.h.SendDigitsFromCallUI("")
	assert.Equal(t, []string{"9"}, c.Digits())

	f.h.HangUpFromCallUI()
	assert.Equal(t, 1, c.Disconnects())
	c.Hangup(nil)

	assert.Equal(t, []Event{
		EventRinging, EventConnected,
		EventMute, EventUnmute, EventMute,
		EventSpeakerOn,
		EventCallEnded,
	}, f.sink.events)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, true)
	f.h.Cleanup()

	c := f.dial(t)
	c.Ring()
	f.h.ToggleSpeaker(true)
	f.h.ToggleMute(true)
	events := len(f.sink.events)

	f.h.Cleanup()
	assert.Len(t, f.sink.events, events)
	assert.Equal(t, StateIdle, f.h.State())
	assert.False(t, f.h.player.Playing(feedback.Ringback))
	assert.False(t, f.audio.SpeakerphoneOn())
	assert.False(t, f.h.Muted())
	assert.False(t, f.h.guard.Active())
	assert.Equal(t, 1, c.Disconnects())
	assert.Equal(t, []presentation.EndReason{presentation.EndLocal}, f.pres.Ends())
	assert.Zero(t, f.m.Pending())

	c.Hangup(nil)
	assert.Len(t, f.sink.events, events)

	f.audio.External(route.ReasonOverride, true)
	f.m.Advance(time.Second)
	assert.Len(t, f.sink.events, events)
}

func TestStateAndEventNames(t *testing.T) {
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, EventDeclined.Terminal())
	assert.False(t, EventMute.Terminal())
}

func countEvents(events []Event, e Event) int {
	n := 0
	for _, got := range events {
		if got == e {
			n++
		}
	}
	return n
}
