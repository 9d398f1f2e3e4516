// Package call is the call lifecycle state machine. It takes application
// commands, SDK callbacks and call-UI actions, keeps the authoritative
// call, mute and speaker state, and drives the tone player, the audio
// route, the proximity guard and the call presentation from it.
package call

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/presentation"
	"github.com/sweeney/voip-mqtt/internal/proximity"
	"github.com/sweeney/voip-mqtt/internal/route"
	"github.com/sweeney/voip-mqtt/internal/voice"
)

const clientPrefix = "client:"

// Defaults for Options.
const (
	DefaultSpeakerResyncDelay   = 200 * time.Millisecond
	DefaultRingbackRestartDelay = 200 * time.Millisecond
	DefaultDisconnectTimeout    = 3 * time.Second
)

// Devices are the OS collaborators the handler drives. Audio may also
// implement route.DeviceRouter, route.RouteWatcher and feedback.ModeSetter.
// A nil Sensor means the host has no proximity sensor.
type Devices struct {
	Audio    route.Speakerphone
	Output   feedback.Output
	Sensor   proximity.Sensor
	WakeLock proximity.WakeLock
}

// Options tunes a Handler. Zero values take the defaults.
type Options struct {
	// SpeakerResyncDelay defers re-applying a pending speaker state after
	// connect so the SDK can finish claiming the audio session first.
	SpeakerResyncDelay   time.Duration
	RingbackRestartDelay time.Duration
	// DisconnectTimeout bounds the wait for the SDK to confirm a local
	// hang-up before the handler ends the call itself.
	DisconnectTimeout time.Duration
	ProximityHold     time.Duration
	Route             route.Options
	Feedback          feedback.Options
	Log               *logrus.Entry
}

type activeCall struct {
	id          uuid.UUID
	sdk         voice.Call
	remote      string
	state       State
	connectedAt time.Time
}

// Handler owns the single call. Every method must run on the main
// sequence; SDK and device callbacks are posted there by the handler
// itself.
type Handler struct {
	client    voice.Client
	presenter presentation.Presenter
	sink      EventSink
	sched     loop.Scheduler
	opts      Options
	log       *logrus.Entry

	player *feedback.Player
	route  *route.Controller
	guard  *proximity.Guard

	call *activeCall
	// ending is the call hung up locally, kept until the SDK confirms the
	// disconnect so its terminal event is emitted exactly once.
	ending      *activeCall
	endingTimer loop.Timer

	muted          bool
	speakerOn      bool
	pendingMute    *bool
	pendingSpeaker *bool

	resyncTimer   loop.Timer
	ringbackTimer loop.Timer
}

// NewHandler wires a Handler to its collaborators.
func NewHandler(client voice.Client, pres presentation.Presenter, sink EventSink, dev Devices, sched loop.Scheduler, opts Options) *Handler {
	if opts.SpeakerResyncDelay <= 0 {
		opts.SpeakerResyncDelay = DefaultSpeakerResyncDelay
	}
	if opts.RingbackRestartDelay <= 0 {
		opts.RingbackRestartDelay = DefaultRingbackRestartDelay
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = DefaultDisconnectTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	h := &Handler{
		client:    client,
		presenter: pres,
		sink:      sink,
		sched:     sched,
		opts:      opts,
		log:       log.WithField("component", "call"),
	}

	fo := opts.Feedback
	fo.Log = log
	if fo.Mode == nil {
		if ms, ok := dev.Audio.(feedback.ModeSetter); ok {
			fo.Mode = ms
		}
	}
	h.player = feedback.NewPlayer(dev.Output, fo)

	ro := opts.Route
	ro.Log = log
	h.route = route.New(dev.Audio, sched, h, ro)
	h.guard = proximity.NewGuard(dev.Sensor, dev.WakeLock, h, sched, opts.ProximityHold, log)
	return h
}

// Start subscribes to OS route-change notifications.
func (h *Handler) Start() {
	h.route.Start()
}

// Connect places an outgoing call. The outcome arrives later as events;
// only validation and submission failures are returned.
func (h *Handler) Connect(from, to, token string) error {
	log := h.log.WithField("method", "connect")
	if from == "" || to == "" || token == "" {
		log.Warn("missing from, to or token")
		return ErrInvalidArguments
	}
	if h.call != nil {
		log.WithField("state", h.call.state).Warn("call already active")
		return ErrCallAlreadyActive
	}
	if h.ending != nil {
		// the previous call never confirmed its disconnect
		h.finishEnding(nil)
	}
	if !strings.HasPrefix(from, clientPrefix) {
		from = clientPrefix + from
	}

	ac := &activeCall{id: uuid.New(), remote: to, state: StateConnecting}
	log = log.WithFields(logrus.Fields{"call_id": ac.id, "from": from, "to": to})

	if err := h.presenter.Start(h.info(ac)); err != nil {
		log.WithError(err).Error("call presentation rejected")
		return &TransportError{Op: "start presentation", Err: err}
	}
	h.call = ac
	h.syncProximity()

	sdk, err := h.client.Connect(voice.ConnectOptions{
		AccessToken: token,
		Params:      map[string]string{"From": from, "To": to},
		CallID:      ac.id,
	}, &listener{h: h, ac: ac})
	if err != nil {
		log.WithError(err).Error("connect rejected")
		h.call = nil
		h.guard.Stop()
		h.presenter.End(presentation.EndFailed)
		return &TransportError{Op: "connect", Err: err}
	}
	ac.sdk = sdk
	log.Info("call initiated")
	return nil
}

// HangUp ends the current call locally. Without a call it does nothing.
func (h *Handler) HangUp() {
	log := h.log.WithField("method", "hangUp")
	ac := h.call
	if ac == nil {
		log.Debug("no active call")
		return
	}

	h.player.StopRingback()
	h.player.PlayBusyTone()
	if ac.sdk != nil {
		ac.sdk.Disconnect()
	}
	h.teardown(ac, presentation.EndLocal)

	ac.state = StateDisconnecting
	h.ending = ac
	h.endingTimer = h.sched.After(h.opts.DisconnectTimeout, func() {
		h.endingTimer = nil
		if h.ending != ac {
			return
		}
		log.WithField("call_id", ac.id).Warn("no disconnect confirmation, ending call")
		h.finishEnding(nil)
	})
	log.WithField("call_id", ac.id).Info("call hung up")
}

// ToggleMute mutes or unmutes the microphone. Before the call connects the
// value is kept and applied on connect.
func (h *Handler) ToggleMute(muted bool) {
	log := h.log.WithFields(logrus.Fields{"method": "toggleMute", "muted": muted})
	if h.connected() {
		h.call.sdk.Mute(muted)
		log.Debug("mute applied")
	} else {
		h.pendingMute = &muted
		log.Debug("mute pending until connected")
	}
	h.muted = muted
	h.emit(muteEvent(muted))
	h.updatePresentation()
}

// ToggleSpeaker switches between speaker and earpiece. The OS route is
// changed immediately in every state.
func (h *Handler) ToggleSpeaker(on bool) {
	log := h.log.WithFields(logrus.Fields{"method": "toggleSpeaker", "speaker": on})
	h.route.SetSpeaker(on)
	if h.connected() {
		stopTimer(&h.resyncTimer)
		log.Debug("speaker applied")
	} else {
		h.pendingSpeaker = &on
		log.Debug("speaker pending until connected")
	}
	h.speakerOn = on
	h.emit(speakerEvent(on))
	h.syncProximity()
	h.updatePresentation()
}

// SendDigits plays DTMF digits into a connected call. Digits for a call
// that is not connected yet are dropped.
func (h *Handler) SendDigits(digits string) error {
	log := h.log.WithFields(logrus.Fields{"method": "sendDigits", "digits": digits})
	if digits == "" {
		return ErrInvalidDigits
	}
	if h.call == nil {
		return ErrNoActiveCall
	}
	if !h.connected() {
		log.WithField("state", h.call.state).Debug("call not connected, digits dropped")
		return nil
	}
	h.call.sdk.SendDigits(digits)
	return nil
}

// SID returns the SDK's identifier for the current call.
func (h *Handler) SID() (string, bool) {
	if h.call == nil || h.call.sdk == nil {
		return "", false
	}
	sid := h.call.sdk.SID()
	return sid, sid != ""
}

// State returns the current call state.
func (h *Handler) State() State {
	switch {
	case h.call != nil:
		return h.call.state
	case h.ending != nil:
		return StateDisconnecting
	default:
		return StateIdle
	}
}

// Muted reports the microphone state the application last asked for.
func (h *Handler) Muted() bool {
	return h.muted
}

// SpeakerOn reports whether call audio is believed to be on the speaker.
func (h *Handler) SpeakerOn() bool {
	return h.speakerOn
}

// Cleanup stops everything and forgets all state without emitting events.
// It is safe to call when idle.
func (h *Handler) Cleanup() {
	stopTimer(&h.resyncTimer)
	stopTimer(&h.ringbackTimer)
	stopTimer(&h.endingTimer)
	h.player.Stop()

	if ac := h.call; ac != nil {
		if ac.sdk != nil {
			ac.sdk.Disconnect()
		}
		ac.state = StateEnded
		h.presenter.End(presentation.EndLocal)
	}
	h.call = nil
	h.ending = nil

	if h.speakerOn {
		h.route.SetSpeaker(false)
	}
	h.speakerOn = false
	h.muted = false
	h.pendingMute = nil
	h.pendingSpeaker = nil
	h.guard.Stop()
	h.route.Close()
	h.log.Info("call handler cleaned up")
}

func (h *Handler) onRinging(ac *activeCall) {
	if !h.tracked(ac, "ringing") {
		return
	}
	ac.state = StateRinging
	h.log.WithField("call_id", ac.id).Info("call ringing")
	h.emit(EventRinging)
	h.player.StartRingback()
}

func (h *Handler) onConnected(ac *activeCall) {
	if !h.tracked(ac, "connected") {
		return
	}
	stopTimer(&h.ringbackTimer)
	h.player.StopRingback()
	ac.state = StateConnected
	ac.connectedAt = h.sched.Now()
	log := h.log.WithField("call_id", ac.id)

	if h.pendingMute != nil {
		muted := *h.pendingMute
		h.pendingMute = nil
		ac.sdk.Mute(muted)
		h.muted = muted
		log.WithField("muted", muted).Debug("pending mute applied")
	}
	if h.pendingSpeaker != nil {
		on := *h.pendingSpeaker
		h.pendingSpeaker = nil
		h.resyncTimer = h.sched.After(h.opts.SpeakerResyncDelay, func() {
			h.resyncTimer = nil
			if h.call != ac {
				return
			}
			h.route.SetSpeaker(on)
			h.speakerOn = on
			h.syncProximity()
			h.updatePresentation()
			log.WithField("speaker", on).Debug("pending speaker re-applied")
		})
	} else if !h.speakerOn {
		h.route.SetSpeaker(false)
	}

	h.updatePresentation()
	log.Info("call connected")
	h.emit(EventConnected)
}

func (h *Handler) onEnded(ac *activeCall, err error, failure bool) {
	event := classify(err)
	if ac == h.ending {
		h.finishEnding(err)
		return
	}
	what := "disconnected"
	if failure {
		what = "connect failure"
	}
	if !h.tracked(ac, what) {
		return
	}

	reason := presentation.EndRemote
	switch {
	case event == EventDeclined:
		reason = presentation.EndDeclined
	case failure:
		reason = presentation.EndFailed
	}
	h.teardown(ac, reason)

	log := h.log.WithFields(logrus.Fields{"call_id": ac.id, "event": event})
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("call " + what)
	h.emit(event)
}

// SpeakerRouteChanged is called by the route controller when the OS route
// moved without us asking, e.g. from the native call screen.
func (h *Handler) SpeakerRouteChanged(on bool) {
	ac := h.call
	if ac == nil {
		return
	}
	if ac.state == StateConnected {
		// the user's route wins over a pending re-apply
		stopTimer(&h.resyncTimer)
	} else {
		h.pendingSpeaker = &on
	}
	h.speakerOn = on
	h.emit(speakerEvent(on))
	h.syncProximity()
	h.updatePresentation()

	if ac.state == StateRinging {
		// the route change tears down the ringback track
		stopTimer(&h.ringbackTimer)
		h.ringbackTimer = h.sched.After(h.opts.RingbackRestartDelay, func() {
			h.ringbackTimer = nil
			if h.call == ac && ac.state == StateRinging {
				h.player.StartRingback()
			}
		})
	}
}

// CallActive reports whether a call exists.
func (h *Handler) CallActive() bool {
	return h.call != nil
}

// SpeakerBelief returns the cached speaker state.
func (h *Handler) SpeakerBelief() bool {
	return h.speakerOn
}

// teardown resets every per-call resource except the feedback tones.
func (h *Handler) teardown(ac *activeCall, reason presentation.EndReason) {
	stopTimer(&h.resyncTimer)
	stopTimer(&h.ringbackTimer)
	h.player.StopRingback()

	ac.state = StateEnded
	h.call = nil
	h.muted = false
	if h.speakerOn {
		h.route.SetSpeaker(false)
	}
	h.speakerOn = false
	h.pendingMute = nil
	h.pendingSpeaker = nil
	h.guard.Stop()
	h.presenter.End(reason)
}

func (h *Handler) finishEnding(err error) {
	stopTimer(&h.endingTimer)
	ac := h.ending
	h.ending = nil
	ac.state = StateEnded
	event := classify(err)
	h.log.WithFields(logrus.Fields{"call_id": ac.id, "event": event}).Info("call ended")
	h.emit(event)
}

func (h *Handler) tracked(ac *activeCall, what string) bool {
	if ac == h.call {
		return true
	}
	h.log.WithField("call_id", ac.id).Debug("ignoring " + what + " for untracked call")
	return false
}

func (h *Handler) connected() bool {
	return h.call != nil && h.call.state == StateConnected
}

// syncProximity keeps the guard running exactly while a call exists with
// the speaker off.
func (h *Handler) syncProximity() {
	if h.call != nil && !h.speakerOn {
		h.guard.Start()
		return
	}
	h.guard.Stop()
}

func (h *Handler) info(ac *activeCall) presentation.Info {
	return presentation.Info{
		CallID:      ac.id,
		Contact:     ac.remote,
		Muted:       h.muted,
		SpeakerOn:   h.speakerOn,
		ConnectedAt: ac.connectedAt,
	}
}

func (h *Handler) updatePresentation() {
	if h.call == nil {
		return
	}
	h.presenter.Update(h.info(h.call))
}

func (h *Handler) emit(e Event) {
	h.log.WithField("event", e).Debug("emit")
	h.sink.Emit(e)
}

// classify maps an SDK end reason to the terminal event. SIP 603 is
// "Decline".
func classify(err error) Event {
	if err == nil {
		return EventCallEnded
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "decline") || strings.Contains(msg, "603") {
		return EventDeclined
	}
	return EventCallEnded
}

func stopTimer(t *loop.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
