package wiz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/node"
)

// Bridge defaults.
const (
	defaultInboxSize         = 32
	defaultDiscoveryInterval = 30 * time.Second
	defaultReplyWindow       = 500 * time.Millisecond
	defaultResyncInterval    = time.Minute
)

// DefaultMarkers select the module types bridged when none are configured.
var DefaultMarkers = []string{"SOCKET", "SHRGBC"}

// Session is the broker view the bridge needs. *mqtt.Client satisfies it.
// It is the scheduler's session type, so *Bridge is a node.Task.
type Session = node.Session

// Archive receives every observed switch state. Optional.
type Archive interface {
	WriteBridgeState(nodeName, instanceID string, on bool, ts time.Time)
}

// Options configures a Bridge.
type Options struct {
	Identity node.Identity
	Topics   mqtt.Topics

	// Namespace is the topic level devices are published under. Empty
	// selects the node name.
	Namespace string

	// Markers select in-scope module types. Empty selects DefaultMarkers.
	Markers []string

	QoS               byte
	DiscoveryInterval time.Duration
	ReplyWindow       time.Duration
	ResyncInterval    time.Duration
	InboxSize         int

	// Availability, when set, is referenced from switch documents.
	Availability string

	Transport Transport
	Clock     clock.Clock
	Archive   Archive
	Logger    node.Logger
}

// OptionsFromConfig maps the bridge config section onto Options. The caller
// still sets Identity, Topics, Transport and the optional collaborators.
func OptionsFromConfig(cfg config.BridgeConfig, qos int) Options {
	return Options{
		Namespace:         cfg.Namespace,
		Markers:           cfg.Markers,
		QoS:               byte(qos), // #nosec G115 -- validated 0-2
		DiscoveryInterval: cfg.DiscoveryInterval,
		ReplyWindow:       cfg.ReplyWindow,
		ResyncInterval:    cfg.ResyncInterval,
	}
}

type inbound struct {
	topic   string
	payload []byte
}

// Stats counts bridge activity since start.
type Stats struct {
	Passes     int
	Replies    int
	Dropped    int
	Commands   int
	StateSyncs int

	// AnnounceFailures counts bridged devices whose config publish or set
	// subscription failed.
	AnnounceFailures int
}

// Bridge translates between WiZ UDP and MQTT.
type Bridge struct {
	opts     Options
	registry *Registry
	logger   node.Logger

	discovery *clock.Ticker
	resync    *clock.Ticker

	inbox   chan inbound
	pending []string

	// seen holds out-of-scope MACs already announced this session.
	seen map[string]struct{}

	stats Stats
}

// NewBridge creates a bridge. The first Tick with a session runs a
// discovery pass immediately.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Namespace == "" {
		opts.Namespace = opts.Identity.Name
	}
	if len(opts.Markers) == 0 {
		opts.Markers = DefaultMarkers
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = defaultDiscoveryInterval
	}
	if opts.ReplyWindow <= 0 {
		opts.ReplyWindow = defaultReplyWindow
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaultResyncInterval
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = node.NopLogger{}
	}

	resync := clock.NewTicker(opts.Clock, opts.ResyncInterval)
	resync.Reset()

	return &Bridge{
		opts:      opts,
		registry:  NewRegistry(),
		logger:    logger,
		discovery: clock.NewTicker(opts.Clock, opts.DiscoveryInterval),
		resync:    resync,
		inbox:     make(chan inbound, opts.InboxSize),
		seen:      make(map[string]struct{}),
	}, nil
}

// Registry exposes the session's device registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Stats returns activity counters.
func (b *Bridge) Stats() Stats {
	return b.stats
}

// Deliver is the MQTT handler for set topics. It never blocks: when the
// inbox is full the command is dropped.
func (b *Bridge) Deliver(topic string, payload []byte) error {
	msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case b.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropped command for %s", ErrInboxFull, topic)
	}
}

// Rearm allows an immediate discovery pass. Called when the node comes
// online.
func (b *Bridge) Rearm() {
	b.discovery.Fire()
}

// OnSessionLost forgets every device and any queued work. Subscriptions
// died with the session, so the next pass must re-announce everything.
func (b *Bridge) OnSessionLost() {
	n := b.registry.Len()
	b.registry.Clear()
	clear(b.seen)
	b.pending = b.pending[:0]
	b.drainInbox()
	b.logger.Info("bridge registry cleared", "devices", n)
}

// Tick runs one scheduler pass: queued commands, then discovery and state
// resync when due. With a nil session queued commands are discarded and
// nothing is sent.
func (b *Bridge) Tick(ctx context.Context, sess Session) error {
	if sess == nil {
		b.drainInbox()
		return nil
	}

	b.handleInbox(ctx)

	if b.discovery.Due() {
		if err := b.discover(ctx, sess); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("discovery pass failed", "error", err)
		}
	}

	if b.resync.Due() {
		for _, bt := range b.registry.Entries() {
			b.queueResync(bt.Device.MAC)
		}
	}

	b.flushResync(ctx, sess)
	return ctx.Err()
}

func (b *Bridge) drainInbox() {
	for {
		select {
		case <-b.inbox:
		default:
			return
		}
	}
}

func (b *Bridge) handleInbox(ctx context.Context) {
	for {
		select {
		case msg := <-b.inbox:
			b.handleCommand(ctx, msg)
		default:
			return
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, msg inbound) {
	bt, ok := b.registry.BySetTopic(msg.topic)
	if !ok {
		b.logger.Debug("command for unknown device", "topic", msg.topic)
		return
	}
	on, err := ParseCommand(msg.payload)
	if err != nil {
		b.logger.Debug("ignoring command", "topic", msg.topic, "error", err)
		return
	}

	b.stats.Commands++
	reply, err := b.opts.Transport.Request(ctx, bt.Device.Address, SetPilotRequest(on))
	if err == nil {
		err = parseSetPilot(reply)
	}
	if err != nil {
		b.logger.Warn("setPilot failed",
			"device", bt.Device.InstanceID(),
			"address", bt.Device.Address,
			"error", err,
		)
	} else {
		b.logger.Info("switched device", "device", bt.Device.InstanceID(), "on", on)
	}
	b.queueResync(bt.Device.MAC)
}

// discover broadcasts getSystemConfig and processes every reply.
func (b *Bridge) discover(ctx context.Context, sess Session) error {
	b.stats.Passes++
	replies, err := b.opts.Transport.Broadcast(ctx, SystemConfigRequest(), b.opts.ReplyWindow)
	if err != nil && len(replies) == 0 {
		return fmt.Errorf("broadcast: %w", err)
	}

	for _, r := range replies {
		b.stats.Replies++
		sc, perr := ParseSystemConfig(r.Payload)
		if perr != nil {
			b.stats.Dropped++
			b.logger.Debug("dropping discovery reply", "from", r.Addr, "error", perr)
			continue
		}
		b.onReply(sess, Device{
			Address:    r.Addr,
			MAC:        sc.MAC,
			ModuleType: matchMarker(sc.ModuleName, b.opts.Markers),
			ModuleName: sc.ModuleName,
			FirstSeen:  b.opts.Clock.Now(),
		})
	}
	return err
}

func (b *Bridge) onReply(sess Session, d Device) {
	if !d.Bridged() {
		if _, ok := b.seen[d.MAC]; ok {
			return
		}
		b.seen[d.MAC] = struct{}{}
		b.logger.Info("ignoring out-of-scope device", "mac", d.MAC, "module", d.ModuleName, "address", d.Address)
		b.publishEvent(sess, d)
		return
	}

	if existing, ok := b.registry.Get(d.MAC); ok {
		if b.registry.UpdateAddress(d.MAC, d.Address) {
			b.logger.Info("device address changed",
				"device", existing.Device.InstanceID(),
				"old", existing.Device.Address,
				"new", d.Address,
			)
		}
		return
	}

	bt := TopicsFor(b.opts.Topics, b.opts.Namespace, d)
	if err := b.announce(sess, bt); err != nil {
		b.stats.AnnounceFailures++
		b.logger.Error("announcing device failed, retrying next pass",
			"device", d.InstanceID(),
			"address", d.Address,
			"error", err,
		)
		return
	}
	b.registry.Add(bt)
	b.logger.Info("discovered device", "device", d.InstanceID(), "address", d.Address, "module", d.ModuleName)

	b.publishEvent(sess, d)
	b.queueResync(d.MAC)
}

// announce publishes the retained switch document and subscribes to the set
// topic. The device is only registered once both succeed, so a failure is
// retried on the next discovery pass.
func (b *Bridge) announce(sess Session, bt BridgeTopics) error {
	doc := switchDocument(bt, b.opts.QoS, b.opts.Availability, b.opts.Identity.Name)
	if err := b.publishJSON(sess, bt.Config, doc, true); err != nil {
		return fmt.Errorf("publishing switch config: %w", err)
	}
	if err := sess.Subscribe(bt.Set, b.opts.QoS, b.Deliver); err != nil {
		return fmt.Errorf("subscribing to %s: %w", bt.Set, err)
	}
	return nil
}

func (b *Bridge) publishEvent(sess Session, d Device) {
	topic := b.opts.Topics.DiscoveredEvent(b.opts.Identity.Name, d.InstanceID())
	ev := newDiscoveredEvent(b.opts.Identity.Name, d, b.opts.Clock.Now())
	if err := b.publishJSON(sess, topic, ev, true); err != nil {
		b.logger.Warn("publishing discovered event failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) queueResync(mac string) {
	for _, m := range b.pending {
		if m == mac {
			return
		}
	}
	b.pending = append(b.pending, mac)
}

// flushResync sends getPilot to every queued device once. A lost reply is
// not retried until the next command or resync interval.
func (b *Bridge) flushResync(ctx context.Context, sess Session) {
	pending := b.pending
	b.pending = nil

	for _, mac := range pending {
		if ctx.Err() != nil {
			return
		}
		bt, ok := b.registry.Get(mac)
		if !ok {
			continue
		}
		if err := b.syncState(ctx, sess, bt); err != nil {
			b.logger.Debug("state sync failed", "device", bt.Device.InstanceID(), "error", err)
		}
	}
}

func (b *Bridge) syncState(ctx context.Context, sess Session, bt BridgeTopics) error {
	reply, err := b.opts.Transport.Request(ctx, bt.Device.Address, PilotRequest())
	if err != nil {
		return err
	}
	pilot, err := ParsePilot(reply)
	if err != nil {
		return err
	}

	b.stats.StateSyncs++
	if err := sess.Publish(bt.State, StatePayload(pilot.State), b.opts.QoS, true); err != nil {
		return fmt.Errorf("publishing state: %w", err)
	}
	if b.opts.Archive != nil {
		b.opts.Archive.WriteBridgeState(b.opts.Identity.Name, bt.Device.InstanceID(), pilot.State, b.opts.Clock.Now())
	}
	return nil
}

func (b *Bridge) publishJSON(sess Session, topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return sess.Publish(topic, payload, b.opts.QoS, retained)
}
