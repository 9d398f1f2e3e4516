// Package bridge exposes the call handler to the application over MQTT:
// method calls in, results and named events out, plus the actions the OS
// call UI sends.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/call"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/publisher"
)

// Calls is the part of call.Handler the bridge drives. Every method runs
// on the main sequence.
type Calls interface {
	Connect(from, to, token string) error
	HangUp()
	ToggleMute(muted bool)
	ToggleSpeaker(on bool)
	SendDigits(digits string) error
	SID() (string, bool)

	HangUpFromCallUI()
	ToggleMuteFromCallUI()
	ToggleSpeakerFromCallUI()
	SetMutedFromCallUI(muted bool)
	SendDigitsFromCallUI(digits string)
}

// Topic suffixes under the configured prefix.
const (
	TopicMethod       = "method"
	TopicMethodResult = "method/result"
	TopicEvents       = "events"
	TopicAction       = "action"
	TopicPresentation = "presentation"
	TopicRoute        = "device/route"
	TopicProximity    = "device/proximity"
	TopicStatus       = "status"
)

// DefaultTimeout bounds how long a command waits for the main sequence.
const DefaultTimeout = 5 * time.Second

const eventQueue = 64

// Options configures a Bridge.
type Options struct {
	Prefix  string
	Timeout time.Duration
	Log     *logrus.Entry
}

// Bridge serves methods and actions and publishes events. It implements
// call.EventSink.
type Bridge struct {
	pub     publisher.Publisher
	exec    loop.Executor
	calls   Calls
	prefix  string
	timeout time.Duration
	log     *logrus.Entry

	events chan call.Event
}

// New creates a Bridge. Call SetCalls before Subscribe when the handler
// needs the bridge as its event sink.
func New(pub publisher.Publisher, exec loop.Executor, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		pub:     pub,
		exec:    exec,
		prefix:  strings.TrimSuffix(opts.Prefix, "/"),
		timeout: opts.Timeout,
		log:     log.WithField("component", "bridge"),
		events:  make(chan call.Event, eventQueue),
	}
}

// SetCalls attaches the handler the bridge drives.
func (b *Bridge) SetCalls(c Calls) {
	b.calls = c
}

// Topic returns the full topic for suffix.
func (b *Bridge) Topic(suffix string) string {
	return b.prefix + "/" + suffix
}

// Subscribe starts listening for methods and call-UI actions.
func (b *Bridge) Subscribe() error {
	if b.calls == nil {
		return errors.New("bridge has no call handler")
	}
	if err := b.pub.Subscribe(b.Topic(TopicMethod), b.handleMethod); err != nil {
		return fmt.Errorf("subscribing to methods: %w", err)
	}
	if err := b.pub.Subscribe(b.Topic(TopicAction), b.handleAction); err != nil {
		return fmt.Errorf("subscribing to actions: %w", err)
	}
	return nil
}

// Emit queues an event for publishing. It never blocks the main sequence;
// when the queue is full the event is dropped and logged.
func (b *Bridge) Emit(e call.Event) {
	select {
	case b.events <- e:
	default:
		b.log.WithField("event", e).Error("event queue full, event dropped")
	}
}

// Run publishes queued events in order until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	topic := b.Topic(TopicEvents)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.events:
			pctx, cancel := context.WithTimeout(ctx, b.timeout)
			err := b.pub.Publish(pctx, topic, []byte(e))
			cancel()
			if err != nil {
				b.log.WithError(err).WithField("event", e).Error("publishing event")
				continue
			}
			b.log.WithField("event", e).Debug("event published")
		}
	}
}

func (b *Bridge) handleMethod(_ string, payload []byte) {
	var req Request
	var resp Response
	if err := json.Unmarshal(payload, &req); err != nil || req.Method == "" {
		if err == nil {
			err = errors.New("missing method")
		}
		b.log.WithError(err).Warn("malformed method request")
		resp = Response{ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: err.Error()}}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		resp = b.Dispatch(ctx, req)
		cancel()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		b.log.WithError(err).Error("encoding method result")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.pub.Publish(ctx, b.Topic(TopicMethodResult), data); err != nil {
		b.log.WithError(err).WithField("method", req.Method).Error("publishing method result")
	}
}

func (b *Bridge) handleAction(_ string, payload []byte) {
	action := strings.TrimSpace(string(payload))
	log := b.log.WithField("action", action)

	var fn func()
	switch {
	case action == "hangUp":
		fn = b.calls.HangUpFromCallUI
	case action == "toggleMute":
		fn = b.calls.ToggleMuteFromCallUI
	case action == "toggleSpeaker":
		fn = b.calls.ToggleSpeakerFromCallUI
	case action == "mute":
		fn = func() { b.calls.SetMutedFromCallUI(true) }
	case action == "unmute":
		fn = func() { b.calls.SetMutedFromCallUI(false) }
	case strings.HasPrefix(action, "dtmf:"):
		digits := strings.TrimPrefix(action, "dtmf:")
		fn = func() { b.calls.SendDigitsFromCallUI(digits) }
	default:
		log.Warn("unknown call UI action")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.exec.Do(ctx, fn); err != nil {
		log.WithError(err).Error("call UI action not handled")
		return
	}
	log.Debug("call UI action handled")
}
