package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"indi/pkg/indi"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	mqtt.Token
	err error
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publications and subscriptions. Methods the bridge
// does not use are left to the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	publishErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	c.published = append(c.published, published{topic, retained, s})
	return &token{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &token{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &token{}
}

func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeClient) last() published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

type fakeMessage struct {
	mqtt.Message
	topic string
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return nil }

// source serves devices from an offline connection and counts refreshes.
type source struct {
	*indi.Connection

	mu    sync.Mutex
	calls int
	err   error
}

func newSource() *source {
	return &source{Connection: indi.NewConnection("localhost", 0, indi.DefaultConfig())}
}

func (s *source) RefreshAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *source) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// receive decodes the XML and applies it to the connection the way the
// read worker does.
func (s *source) receive(t *testing.T, xml string) {
	t.Helper()
	els := indi.NewFramer(0, nil).Feed([]byte(xml))
	require.NotEmpty(t, els)
	for _, el := range els {
		msg, err := indi.DecodeMessage(el)
		require.NoError(t, err)
		s.Receive(msg)
	}
}

func newBridge(client *fakeClient, src *source) *Bridge {
	b := New(client, "indi", src, nil)
	src.Subscribe(b)
	return b
}

func (c *fakeClient) topic(name string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == name {
			return c.published[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) since(n int) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published[n:]...)
}

const eqDef = `<defNumberVector device="Mount" name="EQUATORIAL_EOD_COORD" label="Eq Coords" group="Main" state="Idle" perm="rw" timeout="60">
<defNumber name="RA" label="RA (hh:mm:ss)" format="%9.6m" min="0" max="24" step="0">0</defNumber>
<defNumber name="DEC" label="DEC (dd:mm:ss)" format="%9.6m" min="-90" max="90" step="0">0</defNumber>
</defNumberVector>`

const connectionDef = `<defSwitchVector device="Mount" name="CONNECTION" state="Idle" perm="rw" rule="OneOfMany">
<defSwitch name="CONNECT">Off</defSwitch>
<defSwitch name="DISCONNECT">On</defSwitch>
</defSwitchVector>`

func TestPublishConnectionStatus(t *testing.T) {
	client := newFakeClient()
	b := New(client, "obs/", nil, nil)
	conn := indi.NewConnection("indi.local", 0, indi.DefaultConfig())

	b.OnConnect(conn)
	got := client.last()
	assert.Equal(t, "obs/status", got.topic)
	assert.True(t, got.retained)
	assert.JSONEq(t, `{"server":"indi.local:7624","connected":true}`, got.payload)

	b.OnDisconnect(conn)
	assert.JSONEq(t, `{"server":"indi.local:7624","connected":false}`, client.last().payload)
}

func TestPublishProperty(t *testing.T) {
	client := newFakeClient()
	src := newSource()
	newBridge(client, src)

	src.receive(t, eqDef)
	got, ok := client.topic("indi/Mount/EQUATORIAL_EOD_COORD")
	require.True(t, ok)
	assert.True(t, got.retained)

	var payload PropertyPayload
	require.NoError(t, json.Unmarshal([]byte(got.payload), &payload))
	assert.Equal(t, "Mount", payload.Device)
	assert.Equal(t, "Number", payload.Kind)
	assert.Equal(t, "Eq Coords", payload.Label)
	assert.Equal(t, indi.StateIdle, payload.State)
	require.Len(t, payload.Members, 2)
	assert.Equal(t, -90.0, payload.Members[1].Min)
}

func TestPublishSetCarriesDefinition(t *testing.T) {
	client := newFakeClient()
	src := newSource()
	newBridge(client, src)

	src.receive(t, eqDef)
	src.receive(t, `<setNumberVector device="Mount" name="EQUATORIAL_EOD_COORD" state="Busy"><oneNumber name="RA">12.5</oneNumber></setNumberVector>`)

	got := client.last()
	assert.Equal(t, "indi/Mount/EQUATORIAL_EOD_COORD", got.topic)
	assert.True(t, got.retained)

	var payload PropertyPayload
	require.NoError(t, json.Unmarshal([]byte(got.payload), &payload))
	assert.Equal(t, "Eq Coords", payload.Label)
	assert.Equal(t, "Main", payload.Group)
	assert.Equal(t, "rw", payload.Perm)
	assert.Equal(t, indi.StateBusy, payload.State)

	require.Len(t, payload.Members, 1)
	ra := payload.Members[0]
	assert.Equal(t, "RA (hh:mm:ss)", ra.Label)
	assert.Equal(t, 12.5, ra.Value)
	assert.Equal(t, " 12:30:00", ra.Text)
	assert.Equal(t, 24.0, ra.Max)
	assert.Equal(t, "%9.6m", ra.Format)
}

func TestPublishBroadcastSet(t *testing.T) {
	client := newFakeClient()
	src := newSource()
	newBridge(client, src)

	src.receive(t, connectionDef)
	src.receive(t, `<defTextVector device="CCD" name="DRIVER_INFO" perm="ro"><defText name="DRIVER_NAME">ccd</defText></defTextVector>`)

	n := len(client.published)
	src.receive(t, `<setSwitchVector name="CONNECTION" state="Ok"><oneSwitch name="CONNECT">On</oneSwitch></setSwitchVector>`)

	var topics []string
	for _, p := range client.since(n) {
		topics = append(topics, p.topic)
	}
	assert.ElementsMatch(t, []string{"indi/CCD/CONNECTION", "indi/Mount/CONNECTION"}, topics)

	got, _ := client.topic("indi/Mount/CONNECTION")
	var payload PropertyPayload
	require.NoError(t, json.Unmarshal([]byte(got.payload), &payload))
	assert.Equal(t, "OneOfMany", payload.Rule)
	assert.Equal(t, indi.StateOk, payload.State)
}

func TestPublishSetWithoutSource(t *testing.T) {
	client := newFakeClient()
	b := New(client, "", nil, nil)

	vec := indi.NewNumberVector("EQUATORIAL_EOD_COORD", &indi.Number{Base: indi.Base{Name: "RA"}, Value: 1})
	b.OnMessageReceived(&indi.SetProperty{Device: "Mount", Property: "EQUATORIAL_EOD_COORD", Value: vec})
	assert.Empty(t, client.published)
}

func TestPublishSwitchOff(t *testing.T) {
	client := newFakeClient()
	src := newSource()
	newBridge(client, src)

	src.receive(t, connectionDef)

	got, ok := client.topic("indi/Mount/CONNECTION")
	require.True(t, ok)
	var payload PropertyPayload
	require.NoError(t, json.Unmarshal([]byte(got.payload), &payload))
	assert.Equal(t, false, payload.Members[0].Value)
	assert.Equal(t, true, payload.Members[1].Value)
}

func TestPublishDevicesAndDeletes(t *testing.T) {
	client := newFakeClient()
	b := New(client, "indi", nil, nil)
	mount := indi.NewDevice("Mount/1", nil)

	b.OnAddDevice(mount)
	assert.Equal(t, published{"indi/Mount_1", true, "online"}, client.last())

	b.OnMessageReceived(&indi.DeleteProperty{Device: "Mount/1", Property: "CONNECTION"})
	assert.Equal(t, published{"indi/Mount_1/CONNECTION", true, ""}, client.last())

	b.OnRemoveDevice(mount)
	assert.Equal(t, published{"indi/Mount_1", true, ""}, client.last())
}

func TestDeleteClearsPublishedProperties(t *testing.T) {
	tests := []struct {
		name     string
		xml      string
		expected []string
	}{
		{
			name:     "One property",
			xml:      `<delProperty device="Mount" name="CONNECTION"/>`,
			expected: []string{"indi/Mount/CONNECTION"},
		},
		{
			name:     "Whole device",
			xml:      `<delProperty device="Mount"/>`,
			expected: []string{"indi/Mount/CONNECTION", "indi/Mount/EQUATORIAL_EOD_COORD"},
		},
		{
			name:     "Property of every device",
			xml:      `<delProperty name="DRIVER_INFO"/>`,
			expected: []string{"indi/CCD/DRIVER_INFO"},
		},
		{
			name:     "Everything",
			xml:      `<delProperty/>`,
			expected: []string{"indi/CCD/DRIVER_INFO", "indi/Mount/CONNECTION", "indi/Mount/EQUATORIAL_EOD_COORD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			src := newSource()
			newBridge(client, src)
			src.receive(t, connectionDef)
			src.receive(t, eqDef)
			src.receive(t, `<defTextVector device="CCD" name="DRIVER_INFO" perm="ro"><defText name="DRIVER_NAME">ccd</defText></defTextVector>`)

			n := len(client.published)
			src.receive(t, tt.xml)

			var cleared []string
			for _, p := range client.since(n) {
				assert.True(t, p.retained, p.topic)
				assert.Empty(t, p.payload, p.topic)
				cleared = append(cleared, p.topic)
			}
			assert.Equal(t, tt.expected, cleared)
		})
	}
}

func TestRemoveDeviceClearsProperties(t *testing.T) {
	client := newFakeClient()
	src := newSource()
	newBridge(client, src)
	src.receive(t, connectionDef)

	d, ok := src.Device("Mount")
	require.True(t, ok)
	n := len(client.published)
	require.True(t, src.RemoveDevice(d.Name()))

	assert.Equal(t, []published{
		{"indi/Mount/CONNECTION", true, ""},
		{"indi/Mount", true, ""},
	}, client.since(n))

	// A second delete has nothing left to clear.
	n = len(client.published)
	src.receive(t, `<delProperty/>`)
	assert.Empty(t, client.since(n))
}

func TestPublishNotifications(t *testing.T) {
	client := newFakeClient()
	b := New(client, "indi", nil, nil)

	b.OnMessageReceived(&indi.Notification{Message: "server up"})
	got := client.last()
	assert.Equal(t, "indi/message", got.topic)
	assert.False(t, got.retained)
	assert.JSONEq(t, `{"message":"server up"}`, got.payload)

	b.OnMessageReceived(&indi.Notification{Device: "Mount", Message: "slewing"})
	assert.Equal(t, "indi/Mount/message", client.last().topic)
}

func TestPublishErrorIsIgnored(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("not connected")
	b := New(client, "indi", nil, nil)

	assert.NotPanics(t, func() { b.OnAddDevice(indi.NewDevice("Mount", nil)) })
}

func TestRunHandlesRefreshCommand(t *testing.T) {
	client := newFakeClient()
	r := newSource()
	b := New(client, "indi", r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return client.handler("indi/command/getProperties") != nil
	}, time.Second, 5*time.Millisecond)

	client.handler("indi/command/getProperties")(client, &fakeMessage{topic: "indi/command/getProperties"})
	assert.Equal(t, 1, r.count())

	r.mu.Lock()
	r.err = indi.ErrNotConnected
	r.mu.Unlock()
	client.handler("indi/command/getProperties")(client, &fakeMessage{topic: "indi/command/getProperties"})
	assert.Equal(t, 2, r.count())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"indi/command/getProperties"}, client.unsubscribed)
}

func TestRunRequiresConnectedClient(t *testing.T) {
	client := newFakeClient()
	client.connected = false
	b := New(client, "indi", nil, nil)
	assert.Error(t, b.Run(context.Background()))
}
