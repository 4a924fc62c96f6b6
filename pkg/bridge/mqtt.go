package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"indi/pkg/indi"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const DefaultTopicRoot = "indi"

// Config holds the broker settings.
type Config struct {
	Host      string `json:"host"` // broker URL, e.g. tcp://localhost:1883
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

// NewClient connects to the broker. Every client gets a unique ID so
// several bridges can share a broker.
func NewClient(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("indi-client-" + uuid.NewString())
	opts.AddBroker(cfg.Host)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// Source is the INDI side of the bridge. *manager.Manager implements it.
type Source interface {
	// RefreshAll asks the INDI server to resend its properties.
	RefreshAll() error
	Device(name string) (*indi.Device, bool)
	Devices() []*indi.Device
}

// Bridge mirrors an INDI connection onto MQTT topics:
//
//	<root>/status              connection state (retained)
//	<root>/<device>            "online" while the device is known (retained)
//	<root>/<device>/<property> current property value as JSON (retained)
//	<root>/<device>/message    device notifications
//	<root>/message             server notifications
//
// Property topics carry the value held by the device after the update was
// applied, so partial set* updates keep the definition's metadata.
// Publishing to <root>/command/getProperties makes the bridge ask the
// server for every property again.
type Bridge struct {
	indi.BaseListener

	client mqtt.Client
	root   string
	source Source
	logger log.FieldLogger

	mu     sync.Mutex
	topics map[string]map[string]struct{} // device -> properties with a retained topic
}

func New(client mqtt.Client, topicRoot string, source Source, logger log.FieldLogger) *Bridge {
	if topicRoot == "" {
		topicRoot = DefaultTopicRoot
	}
	if logger == nil {
		logger = log.WithField("component", "bridge")
	}
	return &Bridge{
		client: client,
		root:   strings.TrimSuffix(topicRoot, "/"),
		source: source,
		logger: logger,
		topics: make(map[string]map[string]struct{}),
	}
}

// Run subscribes to the command topics and blocks until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	topic := b.root + "/command/getProperties"
	if token := b.client.Subscribe(topic, 0, b.refreshHandler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", topic, token.Error())
	}
	defer b.client.Unsubscribe(topic)

	b.logger.Infof("Bridging INDI to MQTT under %s/", b.root)
	<-ctx.Done()
	return nil
}

func (b *Bridge) refreshHandler(_ mqtt.Client, _ mqtt.Message) {
	if b.source == nil {
		return
	}
	if err := b.source.RefreshAll(); err != nil {
		b.logger.Warnf("Failed to refresh properties: %v", err)
	}
}

type statusPayload struct {
	Server    string `json:"server"`
	Connected bool   `json:"connected"`
}

func (b *Bridge) OnConnect(c *indi.Connection) {
	b.publishJSON(b.root+"/status", true, statusPayload{Server: c.Addr(), Connected: true})
}

func (b *Bridge) OnDisconnect(c *indi.Connection) {
	b.publishJSON(b.root+"/status", true, statusPayload{Server: c.Addr()})
}

func (b *Bridge) OnAddDevice(d *indi.Device) {
	b.publish(b.deviceTopic(d.Name()), true, "online")
}

func (b *Bridge) OnRemoveDevice(d *indi.Device) {
	b.clearProperties(d.Name(), "")
	b.publish(b.deviceTopic(d.Name()), true, "")
}

type notificationPayload struct {
	Device    string `json:"device,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message"`
}

// OnMessageReceived runs after the message was applied to the devices.
func (b *Bridge) OnMessageReceived(m indi.ServerMessage) {
	switch msg := m.(type) {
	case *indi.DefineProperty:
		v, ok := b.current(msg.Device, msg.Property)
		if !ok {
			v = msg.Value
		}
		b.publishProperty(msg.Device, msg.Property, v)
	case *indi.SetProperty:
		if msg.Device != "" {
			b.publishCurrent(msg.Device, msg.Property)
			return
		}
		if b.source != nil {
			for _, d := range b.source.Devices() {
				b.publishCurrent(d.Name(), msg.Property)
			}
		}
	case *indi.DeleteProperty:
		b.clearProperties(msg.Device, msg.Property)
	case *indi.Notification:
		topic := b.root + "/message"
		if msg.Device != "" {
			topic = b.deviceTopic(msg.Device) + "/message"
		}
		b.publishJSON(topic, false, notificationPayload{Device: msg.Device, Timestamp: msg.Timestamp, Message: msg.Message})
	}
}

// current returns the value the device holds for property.
func (b *Bridge) current(device, property string) (indi.Value, bool) {
	if b.source == nil {
		return nil, false
	}
	d, ok := b.source.Device(device)
	if !ok {
		return nil, false
	}
	return d.Property(property)
}

func (b *Bridge) publishCurrent(device, property string) {
	v, ok := b.current(device, property)
	if !ok {
		b.logger.Debugf("No value for %s.%s, not publishing", device, property)
		return
	}
	b.publishProperty(device, property, v)
}

func (b *Bridge) publishProperty(device, property string, v indi.Value) {
	if device == "" || property == "" || v == nil {
		return
	}

	b.mu.Lock()
	props, ok := b.topics[device]
	if !ok {
		props = make(map[string]struct{})
		b.topics[device] = props
	}
	props[property] = struct{}{}
	b.mu.Unlock()

	b.publishJSON(b.propertyTopic(device, property), true, NewPropertyPayload(device, property, v))
}

// clearProperties empties the retained topics of deleted properties. An
// empty device means every device, an empty property every property of
// the device.
func (b *Bridge) clearProperties(device, property string) {
	type target struct{ device, property string }
	var targets []target

	b.mu.Lock()
	for d, props := range b.topics {
		if device != "" && d != device {
			continue
		}
		for p := range props {
			if property == "" || p == property {
				targets = append(targets, target{d, p})
				delete(props, p)
			}
		}
		if len(props) == 0 {
			delete(b.topics, d)
		}
	}
	b.mu.Unlock()

	if device != "" && property != "" && len(targets) == 0 {
		targets = append(targets, target{device, property})
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].device != targets[j].device {
			return targets[i].device < targets[j].device
		}
		return targets[i].property < targets[j].property
	})

	for _, t := range targets {
		// An empty retained message clears the topic.
		b.publish(b.propertyTopic(t.device, t.property), true, "")
	}
}

func (b *Bridge) deviceTopic(device string) string {
	return b.root + "/" + topicLevel(device)
}

func (b *Bridge) propertyTopic(device, property string) string {
	return b.deviceTopic(device) + "/" + topicLevel(property)
}

func (b *Bridge) publishJSON(topic string, retained bool, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Errorf("Failed to marshal %s payload: %v", topic, err)
		return
	}
	b.publish(topic, retained, data)
}

// publish runs on the INDI read worker, so it never waits for delivery.
func (b *Bridge) publish(topic string, retained bool, payload any) {
	token := b.client.Publish(topic, 0, retained, payload)
	if token.Error() != nil {
		b.logger.Debugf("Failed to publish %s: %v", topic, token.Error())
	}
}

// topicLevel makes a name safe for use as a single topic level.
func topicLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
