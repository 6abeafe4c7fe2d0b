package node

import (
	"log"
	"sync/atomic"
	"time"

	"agroflow/internal/identity"
	"agroflow/internal/mqtt"
	"agroflow/internal/sensor"
	"agroflow/internal/store"
)

// Operating-mode states. The node moves strictly
// joining -> connectedIdle -> publishing, with resetting reachable from
// anywhere. resetting and a restart are the only exits.
type state int

const (
	stateJoining state = iota
	stateConnectedIdle
	statePublishing
	stateResetting
)

const (
	// joinPollInterval and joinRetries bound the network join:
	// one initial status check plus joinRetries retries, 500ms apart.
	joinPollInterval = 500 * time.Millisecond
	joinRetries      = 40

	// reconnectInterval is the fixed delay between broker connect
	// attempts. Retried forever; the broker being down is recoverable.
	reconnectInterval = 5 * time.Second

	// linkLossDelay is the pause before the restart that follows a
	// dropped wireless link.
	linkLossDelay = 1 * time.Second

	// resetDelay is the pause between clearing credentials and
	// restarting.
	resetDelay = 1 * time.Second

	// loopYield keeps the cooperative loop from spinning.
	loopYield = 50 * time.Millisecond
)

// Link is the wireless interface as the node sees it.
type Link interface {
	Connect(ssid, password string) error
	Connected() bool
}

// Broker is the MQTT connection as the node sees it.
type Broker interface {
	Connect() error
	IsConnected() bool
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// TimeSource provides synchronized timestamps.
type TimeSource interface {
	Synced() bool
	NowUnixMilli() uint64
}

// ResetInput reports the physical reset condition.
type ResetInput interface {
	ResetRequested() bool
}

// Telemetry publishes humidity samples.
type Telemetry interface {
	Publish(s mqtt.Sample) error
}

// Syncer kicks off background clock synchronization.
type Syncer interface {
	SyncInBackground()
}

// Options configures a Node.
type Options struct {
	Identity  identity.ID
	Store     store.Store
	Link      Link
	Broker    Broker
	Telemetry Telemetry
	Clock     TimeSource
	Syncer    Syncer
	Reader    sensor.Reader
	Scale     sensor.Scale
	Button    ResetInput
	Interval  time.Duration // minimum time between publishes
	Restart   func()
	Logger    *log.Logger
}

// Node runs the operating mode: join, sync, then one cooperative loop
// interleaving reset checks, link supervision, broker reconnection and
// timed publishes.
type Node struct {
	id        identity.ID
	store     store.Store
	link      Link
	broker    Broker
	telemetry Telemetry
	clock     TimeSource
	syncer    Syncer
	reader    sensor.Reader
	scale     sensor.Scale
	button    ResetInput
	interval  time.Duration
	restart   func()
	logger    *log.Logger

	// sleep and now are swapped out in tests.
	sleep func(time.Duration)
	now   func() time.Time

	state       state
	lastPublish time.Time

	// remoteReset is set from the paho handler goroutine and consumed
	// by the loop, which stays the single actor for state changes.
	remoteReset atomic.Bool
}

// New creates a Node.
func New(opts Options) *Node {
	return &Node{
		id:        opts.Identity,
		store:     opts.Store,
		link:      opts.Link,
		broker:    opts.Broker,
		telemetry: opts.Telemetry,
		clock:     opts.Clock,
		syncer:    opts.Syncer,
		reader:    opts.Reader,
		scale:     opts.Scale,
		button:    opts.Button,
		interval:  opts.Interval,
		restart:   opts.Restart,
		logger:    opts.Logger,
		sleep:     time.Sleep,
		now:       time.Now,
		state:     stateJoining,
	}
}

// Run executes the operating mode. It returns only after a restart has
// been requested (the restart func normally terminates the process).
func (n *Node) Run() {
	if !n.join() {
		n.enterResetting("join attempts exhausted, credentials may be wrong")
		return
	}

	// CONNECTED_IDLE: clock sync starts in the background, the broker
	// connection is left to the loop.
	n.state = stateConnectedIdle
	if n.logger != nil {
		n.logger.Printf("[Node] Network joined, starting clock sync")
	}
	n.syncer.SyncInBackground()

	n.state = statePublishing
	for n.state == statePublishing {
		n.step()
	}
}

// join attempts the wireless join: connect is kicked off asynchronously
// and the link status is polled every 500ms, one initial check plus
// joinRetries retries. Returns false once the attempts are exhausted.
func (n *Node) join() bool {
	ssid, password := n.store.SSID(), n.store.Password()
	if n.logger != nil {
		n.logger.Printf("[Node] Joining network %q", ssid)
	}

	go func() {
		if err := n.link.Connect(ssid, password); err != nil && n.logger != nil {
			n.logger.Printf("[Node] Connect failed: %v", err)
		}
	}()

	for attempt := 0; ; attempt++ {
		if n.link.Connected() {
			return true
		}
		if attempt >= joinRetries {
			return false
		}
		n.sleep(joinPollInterval)
	}
}

// step is one iteration of the cooperative loop.
func (n *Node) step() {
	if n.button.ResetRequested() {
		n.enterResetting("physical reset requested")
		return
	}
	if n.remoteReset.Load() {
		n.enterResetting("remote reset command received")
		return
	}

	// A dropped link restarts the whole process, credentials intact.
	if !n.link.Connected() {
		if n.logger != nil {
			n.logger.Printf("[Node] Wireless link lost, restarting")
		}
		n.sleep(linkLossDelay)
		n.restart()
		n.state = stateResetting
		return
	}

	if !n.broker.IsConnected() {
		n.reconnect()
	}

	if n.now().Sub(n.lastPublish) >= n.interval {
		n.publish()
	}

	n.sleep(loopYield)
}

// reconnect blocks until the broker connection is back, retrying every
// 5 seconds, and resubscribes to the command topic on success.
func (n *Node) reconnect() {
	for !n.broker.IsConnected() {
		if n.logger != nil {
			n.logger.Printf("[Node] Connecting to MQTT broker")
		}

		if err := n.broker.Connect(); err != nil {
			if n.logger != nil {
				n.logger.Printf("[Node] Broker connect failed: %v, retrying in %v", err, reconnectInterval)
			}
			n.sleep(reconnectInterval)
			continue
		}

		if err := n.broker.Subscribe(n.id.CommandTopic(), n.handleCommand); err != nil && n.logger != nil {
			n.logger.Printf("[Node] Command subscribe failed: %v", err)
		}
	}
}

// handleCommand runs on a paho goroutine; it only flags the reset for
// the loop to act on.
func (n *Node) handleCommand(topic string, payload []byte) {
	if mqtt.IsResetCommand(payload) {
		if n.logger != nil {
			n.logger.Printf("[Node] Valid reset command on %s", topic)
		}
		n.remoteReset.Store(true)
		return
	}
	if n.logger != nil {
		n.logger.Printf("[Node] Ignoring unknown command on %s: %q", topic, payload)
	}
}

// publish takes one sensor reading and publishes it. The cadence clock
// advances even when the cycle is skipped: missed samples are dropped,
// never queued.
func (n *Node) publish() {
	n.lastPublish = n.now()

	raw, err := n.reader.Read()
	if err != nil {
		if n.logger != nil {
			n.logger.Printf("[Node] Sensor read failed: %v", err)
		}
		return
	}

	ts := n.clock.NowUnixMilli()
	if !n.clock.Synced() || ts == 0 {
		if n.logger != nil {
			n.logger.Printf("[Node] Waiting for time sync, skipping publish")
		}
		return
	}

	sample := mqtt.Sample{
		ID:        n.id.String(),
		Humidity:  n.scale.Percent(raw),
		Timestamp: ts,
	}

	if err := n.telemetry.Publish(sample); err != nil && n.logger != nil {
		n.logger.Printf("[Node] Publish failed: %v", err)
	}
}

// enterResetting clears the credential store and restarts the device.
// The next boot lands in provisioning mode.
func (n *Node) enterResetting(reason string) {
	n.state = stateResetting
	if n.logger != nil {
		n.logger.Printf("[Node] Resetting: %s", reason)
	}
	if err := n.store.Clear(); err != nil && n.logger != nil {
		n.logger.Printf("[Node] Failed to clear credentials: %v", err)
	}
	n.sleep(resetDelay)
	n.restart()
}
