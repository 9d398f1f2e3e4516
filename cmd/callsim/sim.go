package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/bridge"
	"github.com/sweeney/voip-mqtt/internal/call"
	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/presentation"
	"github.com/sweeney/voip-mqtt/internal/publisher"
	"github.com/sweeney/voip-mqtt/internal/script"
	"github.com/sweeney/voip-mqtt/internal/voice"
)

const prefix = "sim"

// Result is the outcome of replaying one script.
type Result struct {
	// Transcript lists what the application would have seen, in order:
	// method results, presentation updates and events.
	Transcript []string
	Events     []call.Event
	Failures   []error
}

// sim is one handler wired to mock SDK, virtual devices and an in-memory
// broker. Everything runs on a manual clock so replays are repeatable.
type sim struct {
	m      *loop.Manual
	pub    *tap
	client *voice.MockClient
	audio  *device.AudioManager
	sensor *device.ProximitySensor
	lock   *device.WakeLock
	h      *call.Handler
	b      *bridge.Bridge

	mu         sync.Mutex
	transcript []string
	events     []call.Event
	consumed   int
	methods    map[string]string
	lastResult string
}

func newSim(log *logrus.Entry) *sim {
	s := &sim{
		m:       loop.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		client:  voice.NewMockClient(),
		audio:   device.NewAudioManager(log),
		sensor:  device.NewProximitySensor(device.DefaultProximityRange),
		lock:    device.NewWakeLock(log),
		methods: make(map[string]string),
	}
	s.pub = &tap{MockPublisher: publisher.NewMockPublisher(), s: s}

	out := feedback.NewMockOutput()
	out.Pace = time.Millisecond
	out.Limit = 1

	s.b = bridge.New(s.pub, s.m, bridge.Options{Prefix: prefix, Log: log})
	notifier := presentation.NewNotifier(s.pub, s.b.Topic(bridge.TopicPresentation), s.m, log)
	s.h = call.NewHandler(s.client, notifier, s, call.Devices{
		Audio:    s.audio,
		Output:   out,
		Sensor:   s.sensor,
		WakeLock: s.lock,
	}, s.m, call.Options{Log: log})
	s.b.SetCalls(s.h)
	return s
}

// Replay runs every step of a call script against a fresh handler.
func Replay(data []byte, log *logrus.Entry) Result {
	s := newSim(log)
	var res Result
	if err := s.b.Subscribe(); err != nil {
		res.Failures = append(res.Failures, err)
		return res
	}
	if err := s.b.SubscribeDevices(s.audio, s.sensor); err != nil {
		res.Failures = append(res.Failures, err)
		return res
	}
	s.m.Post(s.h.Start)

	for _, step := range script.ParseBytes(data) {
		if err := s.apply(step); err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("line %d: %s: %w", step.Line, step.Action(), err))
		}
	}
	s.m.Post(s.h.Cleanup)

	s.mu.Lock()
	defer s.mu.Unlock()
	res.Transcript = append(res.Transcript, s.transcript...)
	res.Events = append(res.Events, s.events...)
	return res
}

var errNoCall = errors.New("no SDK call to drive")

func (s *sim) apply(step script.Step) error {
	switch step.Action() {
	case "connect":
		return s.method("connect", map[string]any{
			"from":  step.Get("From"),
			"to":    step.Get("To"),
			"token": step.Get("Token"),
		})
	case "hangUp", "getSid":
		return s.method(step.Action(), nil)
	case "toggleMute":
		return s.method("toggleMute", map[string]any{"isMuted": step.GetBool("Muted")})
	case "toggleSpeaker":
		return s.method("toggleSpeaker", map[string]any{"isSpeakerOn": step.GetBool("Speaker")})
	case "sendDigits":
		return s.method("sendDigits", map[string]any{"digits": step.Get("Digits")})

	case "ring", "answer", "reconnect", "fail", "remoteHangUp":
		return s.drive(step)

	case "ui":
		s.deliver(bridge.TopicAction, []byte(step.Get("Command")))
		return nil
	case "route":
		payload, _ := json.Marshal(bridge.RouteChange{Reason: step.Get("Reason"), Speaker: step.GetBool("Speaker")})
		s.deliver(bridge.TopicRoute, payload)
		return nil
	case "proximity":
		s.deliver(bridge.TopicProximity, []byte(step.Get("Distance")))
		return nil
	case "advance":
		d := step.GetDuration("Duration")
		if d <= 0 {
			return fmt.Errorf("invalid duration %q", step.Get("Duration"))
		}
		s.m.Advance(d)
		return nil

	case "expect":
		return s.expect(step)
	}
	return errors.New("unknown action")
}

func (s *sim) method(name string, args map[string]any) error {
	req := map[string]any{"id": uuid.NewString(), "method": name}
	if args != nil {
		req["args"] = args
	}
	s.mu.Lock()
	s.methods[req["id"].(string)] = name
	s.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.deliver(bridge.TopicMethod, payload)
	return nil
}

func (s *sim) deliver(suffix string, payload []byte) {
	s.pub.Deliver(s.b.Topic(suffix), payload)
}

func (s *sim) drive(step script.Step) error {
	c := s.client.Last()
	if c == nil {
		return errNoCall
	}
	switch step.Action() {
	case "ring":
		c.Ring()
	case "answer":
		c.Answer()
	case "reconnect":
		c.Reconnect(stepError(step))
	case "fail":
		err := stepError(step)
		if err == nil {
			err = errors.New("connection failed")
		}
		c.Fail(err)
	case "remoteHangUp":
		c.Hangup(stepError(step))
	}
	return nil
}

// stepError builds the SDK error a step describes, or nil when it names
// none.
func stepError(step script.Step) error {
	msg := step.Get("Error")
	code, hasCode := step.Lookup("Code")
	if !hasCode {
		if msg == "" {
			return nil
		}
		return errors.New(msg)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return fmt.Errorf("%s (%s)", msg, code)
	}
	return &voice.CallError{Code: n, Message: msg}
}

func (s *sim) expect(step script.Step) error {
	var problems []string
	check := func(key, got string) {
		if want, ok := step.Lookup(key); ok && want != got {
			problems = append(problems, fmt.Sprintf("%s: want %q, got %q", key, want, got))
		}
	}

	s.mu.Lock()
	fresh := s.events[s.consumed:]
	s.consumed = len(s.events)
	names := make([]string, len(fresh))
	for i, e := range fresh {
		names[i] = string(e)
	}
	last := s.lastResult
	s.mu.Unlock()

	if want, ok := step.Lookup("Events"); ok {
		if want == "-" {
			want = ""
		}
		if got := strings.Join(names, ","); normalizeList(want) != got {
			problems = append(problems, fmt.Sprintf("Events: want %q, got %q", want, got))
		}
	}
	check("State", s.h.State().String())
	check("Muted", strconv.FormatBool(s.h.Muted()))
	check("Speaker", strconv.FormatBool(s.h.SpeakerOn()))
	check("ProximityLock", strconv.FormatBool(s.lock.Held()))
	_, hasSID := s.h.SID()
	check("HasSID", strconv.FormatBool(hasSID))
	check("Result", last)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func normalizeList(s string) string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ",")
}

// Emit records handler events; the simulator is the handler's sink.
func (s *sim) Emit(e call.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	s.transcript = append(s.transcript, "event "+string(e))
}

// record turns a published message into a transcript line.
func (s *sim) record(topic string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch topic {
	case s.b.Topic(bridge.TopicMethodResult):
		var resp bridge.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return
		}
		name := s.methods[resp.ID]
		if resp.Error != nil {
			s.lastResult = resp.Error.Code
			s.transcript = append(s.transcript, fmt.Sprintf("result %s %s", name, resp.Error.Code))
			return
		}
		s.lastResult = "ok"
		line := "result " + name + " ok"
		if resp.Result != nil {
			line += fmt.Sprintf(" %v", resp.Result)
		}
		s.transcript = append(s.transcript, line)
	case s.b.Topic(bridge.TopicPresentation):
		var n presentation.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			return
		}
		if !n.Active {
			s.transcript = append(s.transcript, "presentation ended "+n.EndReason)
			return
		}
		labels := make([]string, len(n.Actions))
		for i, a := range n.Actions {
			labels[i] = a.Label
		}
		s.transcript = append(s.transcript, fmt.Sprintf("presentation %q %s [%s]", n.Title, n.Contact, strings.Join(labels, ", ")))
	}
}

// tap records everything published before handing it to the mock broker.
type tap struct {
	*publisher.MockPublisher
	s *sim
}

func (t *tap) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.MockPublisher.Publish(ctx, topic, payload); err != nil {
		return err
	}
	t.s.record(topic, payload)
	return nil
}
