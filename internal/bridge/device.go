package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/voip-mqtt/internal/device"
	"github.com/sweeney/voip-mqtt/internal/route"
)

// RouteChange is the payload of the device route topic.
type RouteChange struct {
	Reason  string `json:"reason"`
	Speaker bool   `json:"speaker"`
}

// SubscribeDevices feeds the virtual audio manager and proximity sensor
// from their simulation topics. Either may be nil.
func (b *Bridge) SubscribeDevices(audio *device.AudioManager, sensor *device.ProximitySensor) error {
	if audio != nil {
		err := b.pub.Subscribe(b.Topic(TopicRoute), func(_ string, payload []byte) {
			var rc RouteChange
			if err := json.Unmarshal(payload, &rc); err != nil {
				b.log.WithError(err).Warn("malformed route change")
				return
			}
			audio.External(route.ParseReason(rc.Reason), rc.Speaker)
		})
		if err != nil {
			return fmt.Errorf("subscribing to route changes: %w", err)
		}
	}
	if sensor != nil {
		err := b.pub.Subscribe(b.Topic(TopicProximity), func(_ string, payload []byte) {
			d, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
			if err != nil {
				b.log.WithError(err).Warn("malformed proximity sample")
				return
			}
			if !sensor.Feed(d) {
				b.log.WithField("distance", d).Debug("proximity sample with no listener")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribing to proximity samples: %w", err)
		}
	}
	return nil
}
