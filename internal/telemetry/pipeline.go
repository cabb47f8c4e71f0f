package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/node"
)

// Publisher is the broker view the pipeline needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Memory persists channel state across a sleep cycle.
type Memory interface {
	LoadChannel(ctx context.Context, channel string) (Snapshot, bool, error)
	SaveChannel(ctx context.Context, channel string, s Snapshot) error
	ClearChannels(ctx context.Context) error
}

// Archive receives every published average. Optional.
type Archive interface {
	WriteChannelSample(nodeName, channel string, value float64, ts time.Time)
}

// Options configures a Pipeline.
type Options struct {
	Identity node.Identity
	Topics   mqtt.Topics
	Device   DeviceInfo
	QoS      byte
	Interval time.Duration
	Clock    clock.Clock

	// Availability, when set, is referenced from discovery documents.
	Availability string

	Memory  Memory
	Archive Archive

	// Suspend enables the power-sensitive variant. Nil means mains powered.
	Suspend *SuspendPolicy

	Logger node.Logger
}

// Result summarises one pipeline tick.
type Result struct {
	// Sampled is false when the read interval had not elapsed.
	Sampled bool

	// Samples holds one entry per channel, in channel order.
	Samples []Sample

	// PublishErr is the first publish failure of the tick, if any.
	PublishErr error
}

// Pipeline drives all channels on one cadence.
type Pipeline struct {
	opts     Options
	channels []*Channel
	ticker   *clock.Ticker
	logger   node.Logger
	restored bool
}

// NewPipeline returns a pipeline over channels.
func NewPipeline(opts Options, channels ...*Channel) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = node.NopLogger{}
	}
	return &Pipeline{
		opts:     opts,
		channels: channels,
		ticker:   clock.NewTicker(opts.Clock, opts.Interval),
		logger:   logger,
	}
}

// Channels returns the pipeline's channels.
func (p *Pipeline) Channels() []*Channel {
	return p.channels
}

// Restored reports whether Setup resumed from retained memory.
func (p *Pipeline) Restored() bool {
	return p.restored
}

// Setup prepares the buffers. In the power-sensitive variant it first tries
// to resume from retained memory; only when every channel has a snapshot
// is the pre-fill skipped. Retained snapshots are consumed either way.
func (p *Pipeline) Setup(ctx context.Context) error {
	if p.opts.Suspend != nil && p.opts.Memory != nil {
		restored, err := p.restore(ctx)
		if err != nil {
			p.logger.Warn("retained memory unusable, pre-filling", "error", err)
		}
		if err := p.opts.Memory.ClearChannels(ctx); err != nil {
			p.logger.Warn("clearing retained memory failed", "error", err)
		}
		if restored {
			p.restored = true
			p.logger.Info("telemetry resumed from retained memory", "channels", len(p.channels))
			return nil
		}
	}

	for _, ch := range p.channels {
		valid := ch.Prefill(ctx)
		p.logger.Info("channel pre-filled",
			"channel", ch.Name(),
			"valid_reads", valid,
			"average", ch.Buffer().Average(),
		)
	}
	return nil
}

func (p *Pipeline) restore(ctx context.Context) (bool, error) {
	snaps := make([]Snapshot, len(p.channels))
	for i, ch := range p.channels {
		s, ok, err := p.opts.Memory.LoadChannel(ctx, ch.Name())
		if err != nil || !ok {
			return false, err
		}
		snaps[i] = s
	}
	for i, ch := range p.channels {
		if err := ch.Restore(snaps[i]); err != nil {
			return false, fmt.Errorf("restoring %s: %w", ch.Name(), err)
		}
	}
	return true, nil
}

// PublishConfigs publishes the retained discovery document for every
// channel. Called each time the node comes online.
func (p *Pipeline) PublishConfigs(pub Publisher) error {
	var errs []error
	for _, ch := range p.channels {
		doc := p.discovery(ch)
		payload, err := json.Marshal(doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s config: %w", ch.Name(), err))
			continue
		}
		topic := p.opts.Topics.ChannelConfig(p.opts.Identity.Name, ch.Name())
		if err := pub.Publish(topic, payload, p.opts.QoS, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s config: %w", ch.Name(), err))
			continue
		}
		p.logger.Debug("published channel config", "topic", topic)
	}
	return errors.Join(errs...)
}

func (p *Pipeline) discovery(ch *Channel) SensorDiscovery {
	id := p.opts.Identity
	spec := ch.Spec()
	return SensorDiscovery{
		Name:              displayName(id.Name) + " " + spec.Name,
		StateClass:        "measurement",
		StateTopic:        p.opts.Topics.ChannelState(id.Name, spec.Name),
		Unit:              spec.Unit,
		DeviceClass:       spec.DeviceClass,
		ForceUpdate:       true,
		UniqueID:          p.opts.Topics.ChannelID(id.Name, spec.Name),
		ValueTemplate:     ValueTemplate(spec.Name),
		AvailabilityTopic: p.opts.Availability,
		Device: DiscoveryDevice{
			Identifiers:  []string{id.Name},
			Name:         displayName(id.Name),
			Model:        p.opts.Device.Model,
			Manufacturer: p.opts.Device.Manufacturer,
			SWVersion:    p.opts.Device.Version,
		},
		ParentName: id.Name,
		Version:    p.opts.Device.Version,
	}
}

// Tick samples every channel when the read interval has elapsed and
// publishes the averages through pub. On mains power pub may be nil while
// offline; the samples are still taken so fault detection keeps running.
// The power-sensitive variant instead holds its due sample until a session
// exists, so a wake cycle is never spent on an offline reading.
//
// The returned error is a *node.FaultError: FaultSensorWedged when a
// channel trips its threshold, or FaultSleep when the power-sensitive
// variant has finished its cycle.
func (p *Pipeline) Tick(ctx context.Context, pub Publisher) (Result, error) {
	if p.opts.Suspend != nil && pub == nil {
		return Result{}, nil
	}
	if !p.ticker.Due() {
		return Result{}, nil
	}

	res := Result{Sampled: true, Samples: make([]Sample, 0, len(p.channels))}
	var fault error
	now := p.opts.Clock.Now()

	for _, ch := range p.channels {
		s, err := ch.Sample(ctx)
		res.Samples = append(res.Samples, s)
		if err != nil && fault == nil {
			fault = err
		}
		if !s.Valid {
			p.logger.Warn("invalid sensor reading", "channel", s.Channel, "faults", s.Faults)
		}

		if err := p.publish(pub, s); err != nil {
			p.logger.Error("publishing channel state failed", "channel", s.Channel, "error", err)
			if res.PublishErr == nil {
				res.PublishErr = err
			}
			continue
		}
		if p.opts.Archive != nil {
			p.opts.Archive.WriteChannelSample(p.opts.Identity.Name, s.Channel, s.Average, now)
		}
	}

	if fault != nil {
		return res, fault
	}

	if p.opts.Suspend == nil {
		return res, nil
	}
	suspend, err := p.opts.Suspend.Observe(ctx, res.PublishErr)
	if err != nil {
		p.logger.Warn("recording publish outcome failed", "error", err)
	}
	if suspend {
		if err := p.persist(ctx); err != nil {
			p.logger.Error("persisting retained memory failed", "error", err)
		}
		return res, node.Fault(node.FaultSleep, "telemetry", res.PublishErr)
	}
	return res, nil
}

// Task adapts the pipeline to the scheduler. report, when set, receives
// the publish outcome of every sampled tick made with a live session.
func (p *Pipeline) Task(report func(error)) node.Task {
	return node.TaskFunc(func(ctx context.Context, sess node.Session) error {
		var pub Publisher
		if sess != nil {
			pub = sess
		}
		res, err := p.Tick(ctx, pub)
		if res.Sampled && pub != nil && report != nil {
			report(res.PublishErr)
		}
		return err
	})
}

func (p *Pipeline) publish(pub Publisher, s Sample) error {
	if pub == nil {
		return ErrNoSession
	}
	payload, err := json.Marshal(map[string]float64{s.Channel: s.Average})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	topic := p.opts.Topics.ChannelState(p.opts.Identity.Name, s.Channel)
	return pub.Publish(topic, payload, p.opts.QoS, true)
}

func (p *Pipeline) persist(ctx context.Context) error {
	if p.opts.Memory == nil {
		return nil
	}
	var errs []error
	for _, ch := range p.channels {
		if err := p.opts.Memory.SaveChannel(ctx, ch.Name(), ch.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
