// Package wsvoice is a voice.Client that signals calls over a WebSocket
// JSON protocol. Media is negotiated by the backend and never passes
// through this package.
package wsvoice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/voip-mqtt/internal/voice"
)

// Message types on the wire.
const (
	TypeConnect        = "connect"
	TypeMute           = "mute"
	TypeDigits         = "digits"
	TypeDisconnect     = "disconnect"
	TypeRinging        = "ringing"
	TypeConnected      = "connected"
	TypeReconnecting   = "reconnecting"
	TypeReconnected    = "reconnected"
	TypeConnectFailure = "connectFailure"
	TypeDisconnected   = "disconnected"
)

// Message is one signaling frame.
type Message struct {
	Type   string            `json:"type"`
	CallID string            `json:"call_id,omitempty"`
	SID    string            `json:"sid,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Muted  *bool             `json:"muted,omitempty"`
	Digits string            `json:"digits,omitempty"`
	Error  *WireError        `json:"error,omitempty"`
}

// WireError is a failure reported by the backend.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DefaultDialTimeout bounds the WebSocket handshake.
const DefaultDialTimeout = 10 * time.Second

const sendQueue = 16

// Options configures a Client.
type Options struct {
	URL         string
	DialTimeout time.Duration
	Dialer      *websocket.Dialer
	Log         *logrus.Entry
}

// Client dials one WebSocket per call.
type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
	log    *logrus.Entry
}

// New creates a Client. The URL is validated up front so Connect only
// fails on programming errors.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing signaling url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("signaling url must be ws:// or wss://, got %q", opts.URL)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		url:    u.String(),
		opts:   opts,
		dialer: dialer,
		log:    log.WithField("component", "wsvoice"),
	}, nil
}

// Connect starts dialing in the background and returns at once.
func (c *Client) Connect(opts voice.ConnectOptions, l voice.Listener) (voice.Call, error) {
	if opts.AccessToken == "" {
		return nil, errors.New("access token required")
	}
	call := &Call{
		callID:   opts.CallID.String(),
		listener: l,
		out:      make(chan Message, sendQueue),
		done:     make(chan struct{}),
		state:    voice.StateConnecting,
		log:      c.log.WithField("call_id", opts.CallID),
	}
	go call.run(c, opts)
	return call, nil
}

// Call is a call signaled over one WebSocket connection.
type Call struct {
	callID   string
	listener voice.Listener
	out      chan Message
	done     chan struct{}
	log      *logrus.Entry

	mu           sync.Mutex
	sid          string
	state        voice.State
	muted        bool
	disconnected bool
	endOnce      sync.Once
}

func (c *Call) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *Call) State() voice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) Mute(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	c.send(Message{Type: TypeMute, Muted: &muted})
}

func (c *Call) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Call) SendDigits(digits string) {
	c.send(Message{Type: TypeDigits, Digits: digits})
}

// Disconnect asks the backend to end the call. The listener hears about
// it through OnDisconnected.
func (c *Call) Disconnect() {
	c.mu.Lock()
	already := c.disconnected
	c.disconnected = true
	c.mu.Unlock()
	if !already {
		c.send(Message{Type: TypeDisconnect})
	}
}

func (c *Call) send(m Message) {
	m.CallID = c.callID
	select {
	case c.out <- m:
	case <-c.done:
	default:
		c.log.WithField("type", m.Type).Warn("signaling queue full, message dropped")
	}
}

func (c *Call) setState(s voice.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Call) run(client *Client, opts voice.ConnectOptions) {
	defer close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), client.opts.DialTimeout)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.AccessToken)
	conn, resp, err := client.dialer.DialContext(ctx, client.url, header)
	cancel()
	if err != nil {
		if resp != nil {
			err = &voice.CallError{Code: resp.StatusCode, Message: fmt.Sprintf("signaling handshake: %v", err)}
		}
		c.log.WithError(err).Error("dialing signaling server")
		c.end(err, true)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(Message{Type: TypeConnect, CallID: c.callID, Params: opts.Params}); err != nil {
		c.log.WithError(err).Error("sending connect")
		c.end(err, true)
		return
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn, stop)
	}()
	c.readLoop(conn)
	close(stop)
	conn.Close()
	<-writerDone
}

// writeLoop is the connection's only writer after the connect frame.
func (c *Call) writeLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case m := <-c.out:
			if err := conn.WriteJSON(m); err != nil {
				c.log.WithError(err).WithField("type", m.Type).Warn("writing signaling message")
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Call) readLoop(conn *websocket.Conn) {
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			c.mu.Lock()
			local := c.disconnected
			c.mu.Unlock()
			if local || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.end(nil, false)
			} else {
				c.end(fmt.Errorf("signaling connection lost: %w", err), false)
			}
			return
		}
		log := c.log.WithField("type", m.Type)

		switch m.Type {
		case TypeRinging:
			c.mu.Lock()
			c.state = voice.StateRinging
			if m.SID != "" {
				c.sid = m.SID
			}
			c.mu.Unlock()
			c.listener.OnRinging(c)
		case TypeConnected:
			c.mu.Lock()
			c.state = voice.StateConnected
			if m.SID != "" {
				c.sid = m.SID
			}
			c.mu.Unlock()
			c.listener.OnConnected(c)
		case TypeReconnecting:
			c.setState(voice.StateReconnecting)
			c.listener.OnReconnecting(c, m.err())
		case TypeReconnected:
			c.setState(voice.StateConnected)
			c.listener.OnReconnected(c)
		case TypeConnectFailure:
			c.end(m.err(), true)
			return
		case TypeDisconnected:
			c.end(m.err(), false)
			return
		default:
			log.Debug("ignoring signaling message")
		}
	}
}

// end delivers the terminal callback once.
func (c *Call) end(err error, failure bool) {
	c.endOnce.Do(func() {
		c.setState(voice.StateDisconnected)
		if failure {
			if err == nil {
				err = errors.New("connect failed")
			}
			c.listener.OnConnectFailure(c, err)
			return
		}
		c.listener.OnDisconnected(c, err)
	})
}

func (m Message) err() error {
	if m.Error == nil {
		return nil
	}
	return &voice.CallError{Code: m.Error.Code, Message: m.Error.Message}
}
