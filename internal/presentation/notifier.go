package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/publisher"
)

// Action ids understood on the call-UI action topic.
const (
	ActionHangUp        = "hangUp"
	ActionToggleMute    = "toggleMute"
	ActionToggleSpeaker = "toggleSpeaker"
)

// Action is a button on the notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Notification is the foreground notification published for the call UI.
type Notification struct {
	ID          string     `json:"id"`
	Active      bool       `json:"active"`
	Title       string     `json:"title"`
	Contact     string     `json:"contact"`
	ShowTimer   bool       `json:"show_timer"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Actions     []Action   `json:"actions,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
}

// ErrInvalidInfo is returned by Start for an Info without a call id.
var ErrInvalidInfo = errors.New("presentation needs a call id")

// DefaultStartRetryDelays are the delays between foreground start attempts.
var DefaultStartRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}

// publishTimeout bounds one notification publish.
const publishTimeout = 2 * time.Second

var errQueueFull = errors.New("notification queue full")

// outgoing is one queued publish. Failed start attempts schedule a retry.
type outgoing struct {
	note    Notification
	start   bool
	attempt int
	what    string
}

// Notifier publishes the call notification as JSON over a Publisher.
type Notifier struct {
	pub    publisher.Publisher
	topic  string
	sched  loop.Scheduler
	delays []time.Duration
	log    *logrus.Entry
	queue  chan outgoing

	current    *Notification
	retryTimer loop.Timer
}

// NewNotifier creates a Notifier publishing to topic on the calling
// goroutine. Use it with in-process publishers that never stall.
func NewNotifier(pub publisher.Publisher, topic string, sched loop.Scheduler, log *logrus.Entry) *Notifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Notifier{
		pub:    pub,
		topic:  topic,
		sched:  sched,
		delays: DefaultStartRetryDelays,
		log:    log.WithField("component", "presentation"),
	}
}

// NewQueuedNotifier creates a Notifier that hands notifications to Run
// instead of publishing on the main sequence.
func NewQueuedNotifier(pub publisher.Publisher, topic string, sched loop.Scheduler, size int, log *logrus.Entry) *Notifier {
	n := NewNotifier(pub, topic, sched, log)
	if size <= 0 {
		size = 1
	}
	n.queue = make(chan outgoing, size)
	return n
}

// Run publishes queued notifications in order until ctx is cancelled, then
// flushes whatever is already queued. Start failures are reported back to
// the main sequence so they can be retried.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return nil
		case o := <-n.queue:
			if err := n.publish(ctx, o.note); err != nil {
				n.sched.Post(func() { n.sent(o, err) })
			}
		}
	}
}

func (n *Notifier) flush() {
	for {
		select {
		case o := <-n.queue:
			if err := n.publish(context.Background(), o.note); err != nil {
				n.log.WithError(err).WithField("id", o.note.ID).Warn("flushing call notification")
			}
		default:
			return
		}
	}
}

// Build renders the notification for info.
func Build(info Info) Notification {
	n := Notification{
		ID:        info.CallID.String(),
		Active:    true,
		Title:     "Calling…",
		Contact:   info.Contact,
		ShowTimer: info.Connected(),
	}
	if info.Connected() {
		n.Title = "Ongoing call"
		at := info.ConnectedAt.UTC()
		n.ConnectedAt = &at
	}
	mute := "Mute"
	if info.Muted {
		mute = "Unmute"
	}
	speaker := "Speaker"
	if info.SpeakerOn {
		speaker = "Receiver"
	}
	n.Actions = []Action{
		{ID: ActionHangUp, Label: "Hang up"},
		{ID: ActionToggleMute, Label: mute},
		{ID: ActionToggleSpeaker, Label: speaker},
	}
	return n
}

// Start publishes the notification. A failed publish is retried in the
// background; the foreground context is considered started once one
// attempt has been made.
func (n *Notifier) Start(info Info) error {
	if info.CallID == uuid.Nil {
		return ErrInvalidInfo
	}
	n.cancelRetry()
	note := Build(info)
	n.current = &note
	n.deliver(outgoing{note: note, start: true, what: "starting call notification"})
	return nil
}

// Update republishes the notification while the call is presented.
func (n *Notifier) Update(info Info) {
	if n.current == nil {
		return
	}
	note := Build(info)
	n.current = &note
	if n.retryTimer != nil {
		// the pending retry picks up the new content
		return
	}
	n.deliver(outgoing{note: note, what: "updating call notification"})
}

// End publishes an inactive notification, which clears it on the host.
func (n *Notifier) End(reason EndReason) {
	if n.current == nil {
		return
	}
	n.cancelRetry()
	note := Notification{ID: n.current.ID, Contact: n.current.Contact, EndReason: reason.String()}
	n.current = nil
	n.deliver(outgoing{note: note, what: "clearing call notification"})
}

// deliver publishes inline, or queues for Run when the Notifier has a queue.
func (n *Notifier) deliver(o outgoing) {
	if n.queue == nil {
		n.sent(o, n.publish(context.Background(), o.note))
		return
	}
	select {
	case n.queue <- o:
	default:
		n.sent(o, errQueueFull)
	}
}

// sent handles the outcome of a publish on the main sequence.
func (n *Notifier) sent(o outgoing, err error) {
	if err == nil {
		return
	}
	log := n.log.WithError(err).WithField("attempt", o.attempt)
	if !o.start || n.current == nil || n.current.ID != o.note.ID || n.retryTimer != nil {
		log.Warn(o.what)
		return
	}
	log.Warn(o.what + ", retrying")
	n.retry(o.note.ID, o.attempt)
}

func (n *Notifier) retry(id string, attempt int) {
	if attempt >= len(n.delays) {
		n.log.WithField("attempts", attempt+1).Error("call notification never started")
		return
	}
	n.retryTimer = n.sched.After(n.delays[attempt], func() {
		n.retryTimer = nil
		if n.current == nil || n.current.ID != id {
			return
		}
		n.deliver(outgoing{note: *n.current, start: true, attempt: attempt + 1, what: "retrying call notification"})
	})
}

func (n *Notifier) cancelRetry() {
	if n.retryTimer != nil {
		n.retryTimer.Stop()
		n.retryTimer = nil
	}
}

func (n *Notifier) publish(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.pub.Publish(ctx, n.topic, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", n.topic, err)
	}
	return nil
}
