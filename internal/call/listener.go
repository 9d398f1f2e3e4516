package call

import (
	"github.com/sweeney/voip-mqtt/internal/voice"
)

// listener binds SDK callbacks for one call to the main sequence. The
// binding lets the handler drop callbacks for calls it has moved past.
type listener struct {
	h  *Handler
	ac *activeCall
}

func (l *listener) OnRinging(voice.Call) {
	l.h.sched.Post(func() { l.h.onRinging(l.ac) })
}

func (l *listener) OnConnected(voice.Call) {
	l.h.sched.Post(func() { l.h.onConnected(l.ac) })
}

func (l *listener) OnConnectFailure(_ voice.Call, err error) {
	l.h.sched.Post(func() { l.h.onEnded(l.ac, err, true) })
}

func (l *listener) OnReconnecting(_ voice.Call, err error) {
	l.h.sched.Post(func() {
		if l.ac == l.h.call {
			l.h.log.WithField("call_id", l.ac.id).WithError(err).Warn("call reconnecting")
		}
	})
}

func (l *listener) OnReconnected(voice.Call) {
	l.h.sched.Post(func() {
		if l.ac == l.h.call {
			l.h.log.WithField("call_id", l.ac.id).Info("call reconnected")
		}
	})
}

func (l *listener) OnDisconnected(_ voice.Call, err error) {
	l.h.sched.Post(func() { l.h.onEnded(l.ac, err, false) })
}
