package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/voip-mqtt/internal/bridge"
	"github.com/sweeney/voip-mqtt/internal/call"
	"github.com/sweeney/voip-mqtt/internal/config"
	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/feedback"
	"github.com/sweeney/voip-mqtt/internal/logging"
	"github.com/sweeney/voip-mqtt/internal/loop"
	"github.com/sweeney/voip-mqtt/internal/presentation"
	"github.com/sweeney/voip-mqtt/internal/publisher"
	"github.com/sweeney/voip-mqtt/internal/route"
	"github.com/sweeney/voip-mqtt/internal/voice/wsvoice"
)

const (
	shutdownTimeout   = 5 * time.Second
	notificationQueue = 32
)

func main() {
	configPath := flag.String("config", "/etc/voip-mqtt/voip-mqtt.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New("voip-mqtt", cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuring logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	status := cfg.MQTT.TopicPrefix + "/" + bridge.TopicStatus
	pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		QoS:         cfg.MQTT.QoS,
		WillTopic:   status,
		WillPayload: "offline",
		Log:         log.Entry,
	})
	if err != nil {
		log.WithError(err).Fatal("connecting to MQTT")
	}
	defer pub.Close()

	log.WithField("broker", cfg.MQTT.Broker).Info("connected to MQTT broker")

	if err := run(ctx, cfg, pub, log.Entry); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("stopped")
		pub.Close()
		log.Close()
		os.Exit(1)
	}

	pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
	if err := pub.Publish(pctx, status, []byte("offline")); err != nil {
		log.WithError(err).Warn("publishing offline status")
	}
	pcancel()

	log.Info("shutdown complete")
}

// stack is the process wiring, split out so tests can drive it against a
// mock publisher.
type stack struct {
	pub      publisher.Publisher
	loop     *loop.Loop
	bridge   *bridge.Bridge
	notifier *presentation.Notifier
	handler  *call.Handler
	audio    *device.AudioManager
	sensor   *device.ProximitySensor
}

func build(cfg *config.Config, pub publisher.Publisher, log *logrus.Entry) (*stack, error) {
	s := &stack{pub: pub}
	s.loop = loop.New(loop.WithLogger(log.WithField("component", "loop")))

	client, err := wsvoice.New(wsvoice.Options{
		URL:         cfg.Signaling.URL,
		DialTimeout: cfg.Signaling.DialTimeout,
		Log:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating voice client: %w", err)
	}

	dev, err := s.devices(cfg, log)
	if err != nil {
		return nil, err
	}

	s.bridge = bridge.New(pub, s.loop, bridge.Options{
		Prefix:  cfg.MQTT.TopicPrefix,
		Timeout: cfg.MQTT.MethodTimeout,
		Log:     log,
	})
	s.notifier = presentation.NewQueuedNotifier(pub, s.bridge.Topic(bridge.TopicPresentation), s.loop, notificationQueue, log)

	s.handler = call.NewHandler(client, s.notifier, s.bridge, dev, s.loop, call.Options{
		SpeakerResyncDelay:   cfg.Call.SpeakerResyncDelay,
		RingbackRestartDelay: cfg.Call.RingbackRestartDelay,
		DisconnectTimeout:    cfg.Call.DisconnectTimeout,
		ProximityHold:        cfg.Call.ProximityHold,
		Route: route.Options{
			SuppressWindow: cfg.Call.RouteSuppressWindow,
			RetryDelays:    cfg.Call.RouteRetryDelays,
		},
		Feedback: feedback.Options{
			SampleRate:          cfg.Audio.SampleRate,
			Frame:               cfg.Audio.Frame,
			RingbackStopTimeout: cfg.Call.RingbackStopTimeout,
			BusyStopTimeout:     cfg.Call.BusyStopTimeout,
		},
		Log: log,
	})
	s.bridge.SetCalls(s.handler)
	return s, nil
}

func (s *stack) devices(cfg *config.Config, log *logrus.Entry) (call.Devices, error) {
	s.audio = device.NewAudioManager(log)
	dev := call.Devices{
		Audio:    s.audio,
		WakeLock: device.NewWakeLock(log),
	}
	if cfg.Device.LegacySpeakerphone {
		dev.Audio = s.audio.Legacy()
	}
	if cfg.Device.Proximity {
		s.sensor = device.NewProximitySensor(cfg.Device.ProximityMaxRange)
		dev.Sensor = s.sensor
	}

	switch cfg.Audio.Backend {
	case config.BackendOto:
		out, err := device.NewOtoOutput(cfg.Audio.SampleRate)
		if err != nil {
			return dev, fmt.Errorf("opening audio output: %w", err)
		}
		dev.Output = out
	default:
		dev.Output = device.NullOutput{}
	}
	return dev, nil
}

func run(ctx context.Context, cfg *config.Config, pub publisher.Publisher, log *logrus.Entry) error {
	s, err := build(cfg, pub, log)
	if err != nil {
		return err
	}
	return s.run(ctx)
}

func (s *stack) run(ctx context.Context) error {
	s.loop.Post(s.handler.Start)

	if err := s.bridge.Subscribe(); err != nil {
		return err
	}
	if err := s.bridge.SubscribeDevices(s.audio, s.sensor); err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, time.Second)
	err := s.pub.Publish(pctx, s.bridge.Topic(bridge.TopicStatus), []byte("online"))
	cancel()
	if err != nil {
		return fmt.Errorf("publishing status: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g.Go(func() error {
		if err := s.loop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.bridge.Run(gctx)
	})
	g.Go(func() error {
		// stops with the loop so the notification cleared by Cleanup goes out
		return s.notifier.Run(loopCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.loop.Do(dctx, s.handler.Cleanup)
		stopLoop()
		if err != nil {
			return fmt.Errorf("cleaning up call state: %w", err)
		}
		return nil
	})

	return g.Wait()
}
