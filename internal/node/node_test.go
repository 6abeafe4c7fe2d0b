package node

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"agroflow/internal/mqtt"
	"agroflow/internal/sensor"
)

// fakeStore is an in-memory credential store.
type fakeStore struct {
	ssid     string
	password string
	cleared  bool
}

func (f *fakeStore) SSID() string                                { return f.ssid }
func (f *fakeStore) Password() string                            { return f.password }
func (f *fakeStore) SaveCredentials(ssid, password string) error { return nil }
func (f *fakeStore) Clear() error                                { f.cleared = true; return nil }
func (f *fakeStore) Close() error                                { return nil }

// fakeLink counts status polls and connects after a set number of them.
type fakeLink struct {
	mu           sync.Mutex
	statusChecks int
	connectAfter int  // Connected() turns true from this check on; 0 = never
	down         bool // forces Connected() false regardless
}

func (f *fakeLink) Connect(ssid, password string) error { return nil }

func (f *fakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChecks++
	if f.down {
		return false
	}
	return f.connectAfter > 0 && f.statusChecks >= f.connectAfter
}

func (f *fakeLink) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusChecks
}

// fakeBroker simulates the MQTT connection.
type fakeBroker struct {
	connected    bool
	failuresLeft int
	connects     int
	subscribed   []string
	handler      func(topic string, payload []byte)
}

func (f *fakeBroker) Connect() error {
	f.connects++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("broker unreachable")
	}
	f.connected = true
	return nil
}

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	f.subscribed = append(f.subscribed, topic)
	f.handler = handler
	return nil
}

// fakeTelemetry records published samples.
type fakeTelemetry struct {
	samples []mqtt.Sample
}

func (f *fakeTelemetry) Publish(s mqtt.Sample) error {
	f.samples = append(f.samples, s)
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	synced bool
	millis uint64
}

func (f *fakeClock) Synced() bool         { return f.synced }
func (f *fakeClock) NowUnixMilli() uint64 { return f.millis }
func (f *fakeClock) SyncInBackground()    {}

// fakeButton is a settable reset input.
type fakeButton struct {
	pressed bool
}

func (f *fakeButton) ResetRequested() bool { return f.pressed }

// fakeReader returns a fixed raw reading.
type fakeReader struct {
	raw int
	err error
}

func (f *fakeReader) Read() (int, error) { return f.raw, f.err }

// harness bundles a Node with its fakes and virtual time.
type harness struct {
	node      *Node
	store     *fakeStore
	link      *fakeLink
	broker    *fakeBroker
	telemetry *fakeTelemetry
	clock     *fakeClock
	button    *fakeButton
	reader    *fakeReader

	mu       sync.Mutex
	sleeps   []time.Duration
	virtual  time.Time
	restarts int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	scale, err := sensor.NewScale(2850, 1350)
	if err != nil {
		t.Fatalf("NewScale failed: %v", err)
	}

	h := &harness{
		store:     &fakeStore{ssid: "Home", password: "secret"},
		link:      &fakeLink{connectAfter: 1},
		broker:    &fakeBroker{},
		telemetry: &fakeTelemetry{},
		clock:     &fakeClock{synced: true, millis: 1756500000000},
		button:    &fakeButton{},
		reader:    &fakeReader{raw: 2100},
		virtual:   time.Unix(1756500000, 0),
	}

	h.node = New(Options{
		Identity:  "A407031E229A",
		Store:     h.store,
		Link:      h.link,
		Broker:    h.broker,
		Telemetry: h.telemetry,
		Clock:     h.clock,
		Syncer:    h.clock,
		Reader:    h.reader,
		Scale:     scale,
		Button:    h.button,
		Interval:  5000 * time.Millisecond,
		Restart:   func() { h.mu.Lock(); h.restarts++; h.mu.Unlock() },
		Logger:    nil,
	})

	// Virtual time: sleeps advance the clock instead of blocking.
	h.node.sleep = func(d time.Duration) {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.virtual = h.virtual.Add(d)
		h.mu.Unlock()
	}
	h.node.now = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.virtual
	}

	return h
}

func (h *harness) restarted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts
}

func (h *harness) sleepCount(d time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

func TestJoinSucceedsOnFirstCheck(t *testing.T) {
	h := newHarness(t)

	if !h.node.join() {
		t.Fatal("Expected join to succeed")
	}
	if got := h.link.checks(); got != 1 {
		t.Errorf("Expected 1 status check, got %d", got)
	}
	if n := h.sleepCount(500 * time.Millisecond); n != 0 {
		t.Errorf("Expected no poll sleeps, got %d", n)
	}
}

func TestJoinSucceedsAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.link.connectAfter = 10

	if !h.node.join() {
		t.Fatal("Expected join to succeed")
	}
	if got := h.link.checks(); got != 10 {
		t.Errorf("Expected 10 status checks, got %d", got)
	}
	if n := h.sleepCount(500 * time.Millisecond); n != 9 {
		t.Errorf("Expected 9 poll sleeps, got %d", n)
	}
}

func TestJoinExhaustionPerforms41Checks(t *testing.T) {
	h := newHarness(t)
	h.link.connectAfter = 0 // never connects

	if h.node.join() {
		t.Fatal("Expected join to fail")
	}
	// 1 initial check + 40 retries.
	if got := h.link.checks(); got != 41 {
		t.Errorf("Expected exactly 41 status checks, got %d", got)
	}
	if n := h.sleepCount(500 * time.Millisecond); n != 40 {
		t.Errorf("Expected 40 poll sleeps of 500ms, got %d", n)
	}
}

func TestJoinExhaustionClearsCredentialsAndRestarts(t *testing.T) {
	h := newHarness(t)
	h.link.connectAfter = 0

	h.node.Run()

	if !h.store.cleared {
		t.Error("Expected credentials cleared after join exhaustion")
	}
	if h.restarted() != 1 {
		t.Errorf("Expected 1 restart, got %d", h.restarted())
	}
}

func TestStepConnectsBrokerAndSubscribes(t *testing.T) {
	h := newHarness(t)
	h.link.connectAfter = 1

	h.node.step()

	if !h.broker.connected {
		t.Fatal("Expected broker connected")
	}
	if len(h.broker.subscribed) != 1 || h.broker.subscribed[0] != "sensors/A407031E229A/command" {
		t.Errorf("Expected subscription to the command topic, got %v", h.broker.subscribed)
	}
}

func TestBrokerReconnectRetriesEvery5Seconds(t *testing.T) {
	h := newHarness(t)
	h.broker.failuresLeft = 3

	h.node.step()

	if h.broker.connects != 4 {
		t.Errorf("Expected 4 connect attempts, got %d", h.broker.connects)
	}
	if n := h.sleepCount(5 * time.Second); n != 3 {
		t.Errorf("Expected 3 reconnect sleeps of 5s, got %d", n)
	}
	if !h.broker.connected {
		t.Error("Expected broker connected in the end")
	}
}

func TestPublishCadence(t *testing.T) {
	h := newHarness(t)

	// First step publishes immediately (lastPublish is zero).
	h.node.step()
	if len(h.telemetry.samples) != 1 {
		t.Fatalf("Expected 1 sample after first step, got %d", len(h.telemetry.samples))
	}

	// Steps within the 5s window must not publish. Each step sleeps the
	// 50ms yield, so ~20 steps stay inside the window.
	for i := 0; i < 20; i++ {
		h.node.step()
	}
	if len(h.telemetry.samples) != 1 {
		t.Fatalf("Published again before 5s elapsed: %d samples", len(h.telemetry.samples))
	}

	// Advance virtual time past the interval.
	h.mu.Lock()
	h.virtual = h.virtual.Add(5 * time.Second)
	h.mu.Unlock()

	h.node.step()
	if len(h.telemetry.samples) != 2 {
		t.Errorf("Expected a second sample after 5s, got %d", len(h.telemetry.samples))
	}
}

func TestPublishBuildsSampleFromReading(t *testing.T) {
	h := newHarness(t)
	h.reader.raw = 2100 // midpoint of 2850/1350

	h.node.step()

	if len(h.telemetry.samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(h.telemetry.samples))
	}
	s := h.telemetry.samples[0]
	if s.ID != "A407031E229A" {
		t.Errorf("Expected device identity in sample, got %q", s.ID)
	}
	if s.Humidity != 50 {
		t.Errorf("Expected 50%% humidity, got %v", s.Humidity)
	}
	if s.Timestamp != 1756500000000 {
		t.Errorf("Expected clock timestamp, got %d", s.Timestamp)
	}

	// The sample must serialize to the wire format.
	payload, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Sample not serializable: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	for _, field := range []string{"id", "humidity", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("Missing %q field in %s", field, payload)
		}
	}
}

func TestPublishSkippedWhileUnsynced(t *testing.T) {
	h := newHarness(t)
	h.clock.synced = false
	h.clock.millis = 0

	h.node.step()

	if len(h.telemetry.samples) != 0 {
		t.Fatalf("Expected no samples while unsynced, got %d", len(h.telemetry.samples))
	}

	// The cadence clock advanced anyway: no catch-up burst after sync.
	h.clock.synced = true
	h.clock.millis = 1756500005000
	h.node.step()
	if len(h.telemetry.samples) != 0 {
		t.Error("Skipped cycle must not be replayed before the interval elapses")
	}

	h.mu.Lock()
	h.virtual = h.virtual.Add(5 * time.Second)
	h.mu.Unlock()
	h.node.step()
	if len(h.telemetry.samples) != 1 {
		t.Errorf("Expected publish to resume after sync, got %d samples", len(h.telemetry.samples))
	}
}

func TestSensorFailureSkipsCycle(t *testing.T) {
	h := newHarness(t)
	h.reader.err = errors.New("i2c timeout")

	h.node.step()

	if len(h.telemetry.samples) != 0 {
		t.Errorf("Expected no samples on sensor failure, got %d", len(h.telemetry.samples))
	}
	if h.restarted() != 0 {
		t.Error("Sensor failure must not restart the device")
	}
}

func TestPhysicalResetClearsAndRestarts(t *testing.T) {
	h := newHarness(t)
	h.button.pressed = true

	h.node.step()

	if !h.store.cleared {
		t.Error("Expected credentials cleared on physical reset")
	}
	if h.restarted() != 1 {
		t.Errorf("Expected 1 restart, got %d", h.restarted())
	}
}

func TestRemoteResetCommandClearsAndRestarts(t *testing.T) {
	h := newHarness(t)

	// First step connects and subscribes.
	h.node.step()
	if h.broker.handler == nil {
		t.Fatal("Expected command handler registered")
	}

	h.broker.handler("sensors/A407031E229A/command", []byte("  Reset  "))
	h.node.step()

	if !h.store.cleared {
		t.Error("Expected credentials cleared on remote reset")
	}
	if h.restarted() != 1 {
		t.Errorf("Expected 1 restart, got %d", h.restarted())
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.node.step()
	h.broker.handler("sensors/A407031E229A/command", []byte("ping"))
	h.node.step()

	if h.store.cleared {
		t.Error("Unknown command must not clear credentials")
	}
	if h.restarted() != 0 {
		t.Errorf("Unknown command must not restart, got %d restarts", h.restarted())
	}
}

func TestLinkLossRestartsWithoutClearing(t *testing.T) {
	h := newHarness(t)
	h.node.step() // healthy iteration first
	h.link.down = true

	h.node.step()

	if h.store.cleared {
		t.Error("Link loss must keep the stored credentials")
	}
	if h.restarted() != 1 {
		t.Errorf("Expected restart on link loss, got %d", h.restarted())
	}
	if n := h.sleepCount(1 * time.Second); n != 1 {
		t.Errorf("Expected the 1s delay before restart, got %d", n)
	}
}
