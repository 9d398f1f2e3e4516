package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]Handler
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte
	// Will, when set, is published by the broker if the connection drops.
	WillTopic   string
	WillPayload string
	Log         *logrus.Entry
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &MQTTPublisher{
		qos:  opts.QoS,
		log:  log.WithField("component", "mqtt"),
		subs: make(map[string]Handler),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetOnConnectHandler(p.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.WithError(err).Warn("connection lost")
		})
	if opts.WillTopic != "" {
		clientOpts.SetWill(opts.WillTopic, opts.WillPayload, opts.QoS, true)
	}

	p.client = mqtt.NewClient(clientOpts)
	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return p, nil
}

// Publish sends payload and waits for the broker's acknowledgement or for
// ctx to end, whichever comes first.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

// Subscribe registers fn for topic and remembers it so the subscription is
// restored after a reconnect.
func (p *MQTTPublisher) Subscribe(topic string, fn Handler) error {
	p.mu.Lock()
	p.subs[topic] = fn
	p.mu.Unlock()
	return p.subscribe(topic, fn)
}

func (p *MQTTPublisher) subscribe(topic string, fn Handler) error {
	token := p.client.Subscribe(topic, p.qos, func(_ mqtt.Client, m mqtt.Message) {
		fn(m.Topic(), m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// resubscribe restores subscriptions after the client reconnects, since
// the broker forgets them with a clean session.
func (p *MQTTPublisher) resubscribe(_ mqtt.Client) {
	p.mu.Lock()
	subs := make(map[string]Handler, len(p.subs))
	for t, fn := range p.subs {
		subs[t] = fn
	}
	p.mu.Unlock()

	for topic, fn := range subs {
		if err := p.subscribe(topic, fn); err != nil {
			p.log.WithError(err).Error("resubscribing")
		}
	}
	p.log.WithField("topics", len(subs)).Info("connected")
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
