package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/node"
)

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// MockPublisher records publishes and can be told to fail.
type MockPublisher struct {
	Messages []published
	Err      error
}

func (m *MockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, published{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

// memMemory is an in-memory Memory.
type memMemory struct {
	snaps   map[string]Snapshot
	cleared int
}

func newMemMemory() *memMemory { return &memMemory{snaps: make(map[string]Snapshot)} }

func (m *memMemory) LoadChannel(_ context.Context, ch string) (Snapshot, bool, error) {
	s, ok := m.snaps[ch]
	return s, ok, nil
}

func (m *memMemory) SaveChannel(_ context.Context, ch string, s Snapshot) error {
	m.snaps[ch] = s
	return nil
}

func (m *memMemory) ClearChannels(context.Context) error {
	m.snaps = make(map[string]Snapshot)
	m.cleared++
	return nil
}

var testIdentity = node.NewIdentity("B4:3A:45:36:A8:9C")

func newTestPipeline(t *testing.T, opts Options, channels ...*Channel) (*Pipeline, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	opts.Clock = c
	opts.Identity = testIdentity
	opts.Topics = mqtt.Topics{Root: "garge/devices"}
	opts.QoS = 1
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	return NewPipeline(opts, channels...), c
}

func TestPipelineTickPublishesAverages(t *testing.T) {
	temp := newTestChannel(t, "temperature", &scriptedSensor{readings: []float64{20}}, nil)
	hum := newTestChannel(t, "humidity", &scriptedSensor{readings: []float64{50}}, nil)
	p, c := newTestPipeline(t, Options{}, temp, hum)
	pub := &MockPublisher{}

	res, err := p.Tick(context.Background(), pub)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !res.Sampled || len(res.Samples) != 2 || res.PublishErr != nil {
		t.Fatalf("Tick() result = %+v", res)
	}

	want := []published{
		{"garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_temperature/state", `{"temperature":4}`, true},
		{"garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_humidity/state", `{"humidity":10}`, true},
	}
	if diff := cmp.Diff(want, pub.Messages); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}

	// Not due again until the interval elapses.
	if res, _ := p.Tick(context.Background(), pub); res.Sampled {
		t.Error("Tick() sampled before the interval elapsed")
	}
	c.Advance(time.Minute)
	if res, _ := p.Tick(context.Background(), pub); !res.Sampled {
		t.Error("Tick() did not sample after the interval")
	}
}

func TestPipelineTickOffline(t *testing.T) {
	ch := newTestChannel(t, "voltage", &scriptedSensor{readings: []float64{12}}, nil)
	p, _ := newTestPipeline(t, Options{}, ch)

	res, err := p.Tick(context.Background(), nil)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !errors.Is(res.PublishErr, ErrNoSession) {
		t.Errorf("PublishErr = %v, want ErrNoSession", res.PublishErr)
	}
	if ch.Buffer().Sum() != 12 {
		t.Error("offline tick should still sample")
	}
}

func TestPipelineTickReturnsWedgedFault(t *testing.T) {
	ch, err := NewChannel(ChannelSpec{Name: "temperature"}, &scriptedSensor{readings: []float64{math.NaN()}}, nil, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	p, c := newTestPipeline(t, Options{}, ch)
	pub := &MockPublisher{}

	if _, err := p.Tick(context.Background(), pub); err != nil {
		t.Fatalf("first fault should not trip: %v", err)
	}
	c.Advance(time.Minute)
	_, err = p.Tick(context.Background(), pub)
	if fe, ok := node.AsFault(err); !ok || fe.Kind != node.FaultSensorWedged {
		t.Fatalf("Tick() error = %v, want FaultSensorWedged", err)
	}
}

func TestPipelinePublishConfigs(t *testing.T) {
	ch := newTestChannel(t, "temperature", &scriptedSensor{readings: []float64{20}}, nil)
	p, _ := newTestPipeline(t, Options{
		Device:       DeviceInfo{Model: "garge-node", Manufacturer: "garge", Version: "1.2.0"},
		Availability: "garge/devices/garge_b43a4536a89c/status",
	}, ch)
	pub := &MockPublisher{}

	if err := p.PublishConfigs(pub); err != nil {
		t.Fatalf("PublishConfigs() error = %v", err)
	}
	if len(pub.Messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.Messages))
	}
	msg := pub.Messages[0]
	if msg.Topic != "garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_temperature/config" || !msg.Retained {
		t.Errorf("config published to %q retained=%v", msg.Topic, msg.Retained)
	}

	var got SensorDiscovery
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatal(err)
	}
	want := SensorDiscovery{
		Name:              "garge b43a4536a89c temperature",
		StateClass:        "measurement",
		StateTopic:        "garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_temperature/state",
		Unit:              "°C",
		DeviceClass:       "temperature",
		ForceUpdate:       true,
		UniqueID:          "garge_b43a4536a89c_temperature",
		ValueTemplate:     "{{value_json.temperature | round(3) | default(0)}}",
		AvailabilityTopic: "garge/devices/garge_b43a4536a89c/status",
		Device: DiscoveryDevice{
			Identifiers:  []string{"garge_b43a4536a89c"},
			Name:         "garge b43a4536a89c",
			Model:        "garge-node",
			Manufacturer: "garge",
			SWVersion:    "1.2.0",
		},
		ParentName: "garge_b43a4536a89c",
		Version:    "1.2.0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("discovery document (-want +got):\n%s", diff)
	}
}

func TestPipelineSuspendAfterPublish(t *testing.T) {
	mem := newMemMemory()
	ch := newTestChannel(t, "voltage", &scriptedSensor{readings: []float64{12.5}}, nil)
	p, _ := newTestPipeline(t, Options{Memory: mem, Suspend: NewSuspendPolicy(3)}, ch)

	if err := p.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Restored() {
		t.Fatal("nothing to restore on first boot")
	}

	_, err := p.Tick(context.Background(), &MockPublisher{})
	if fe, ok := node.AsFault(err); !ok || fe.Kind != node.FaultSleep {
		t.Fatalf("Tick() error = %v, want FaultSleep", err)
	}
	snap, ok := mem.snaps["voltage"]
	if !ok || len(snap.Values) != 5 {
		t.Fatalf("snapshot not persisted: %+v", mem.snaps)
	}

	// Wake: a fresh pipeline resumes without pre-fill.
	sensor := &scriptedSensor{readings: []float64{99}}
	woke := newTestChannel(t, "voltage", sensor, nil)
	p2, _ := newTestPipeline(t, Options{Memory: mem, Suspend: NewSuspendPolicy(3)}, woke)
	if err := p2.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p2.Restored() || sensor.calls != 0 {
		t.Errorf("Restored() = %v, sensor calls = %d; want restore without reads", p2.Restored(), sensor.calls)
	}
	if diff := cmp.Diff(snap.Values, woke.Buffer().Values()); diff != "" {
		t.Errorf("restored values (-want +got):\n%s", diff)
	}
	if len(mem.snaps) != 0 {
		t.Error("snapshot should be consumed on wake")
	}
}

func TestPipelinePublishFailureDefersSleep(t *testing.T) {
	mem := newMemMemory()
	ch := newTestChannel(t, "voltage", &scriptedSensor{readings: []float64{12.5}}, nil)
	p, c := newTestPipeline(t, Options{Memory: mem, Suspend: NewSuspendPolicy(3)}, ch)
	pub := &MockPublisher{Err: errors.New("broker gone")}

	for i := 1; i <= 3; i++ {
		_, err := p.Tick(context.Background(), pub)
		fe, isFault := node.AsFault(err)
		if i < 3 && isFault {
			t.Fatalf("tick %d: slept despite failed publish (%v)", i, fe)
		}
		if i == 3 && (!isFault || fe.Kind != node.FaultSleep) {
			t.Fatalf("tick 3: err = %v, want FaultSleep after max failures", err)
		}
		c.Advance(time.Minute)
	}
	if _, ok := mem.snaps["voltage"]; !ok {
		t.Error("buffer not persisted before forced sleep")
	}
}

func TestSuspendPolicy(t *testing.T) {
	ctx := context.Background()
	s := NewSuspendPolicy(0)
	if ok, _ := s.Observe(ctx, errors.New("x")); !ok {
		t.Error("max clamps to 1: first failure should allow sleep")
	}

	s = NewSuspendPolicy(2)
	s.Observe(ctx, errors.New("x"))
	if s.Failures() != 1 {
		t.Errorf("Failures() = %d", s.Failures())
	}
	if ok, _ := s.Observe(ctx, nil); !ok || s.Failures() != 0 {
		t.Error("successful publish should allow sleep and reset failures")
	}
}

// memCounters is an in-memory FailureCounter.
type memCounters map[string]int64

func (m memCounters) Counter(_ context.Context, name string) (int64, error) { return m[name], nil }

func (m memCounters) Increment(_ context.Context, name string) (int64, error) {
	m[name]++
	return m[name], nil
}

func (m memCounters) ResetCounter(_ context.Context, name string) error {
	delete(m, name)
	return nil
}

func TestSuspendPolicyRetainedAcrossWakes(t *testing.T) {
	ctx := context.Background()
	store := memCounters{}
	boom := errors.New("broker gone")

	// First wake: three failures exhaust the allowance.
	s := NewSuspendPolicy(3)
	if err := s.Retain(ctx, store, "publish_failures"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		ok, err := s.Observe(ctx, boom)
		if err != nil {
			t.Fatal(err)
		}
		if ok != (i == 3) {
			t.Fatalf("failure %d: suspend = %v", i, ok)
		}
	}
	if store["publish_failures"] != 3 {
		t.Fatalf("retained count = %d, want 3", store["publish_failures"])
	}

	// Next wake resumes the count and sleeps after a single failed attempt.
	s = NewSuspendPolicy(3)
	if err := s.Retain(ctx, store, "publish_failures"); err != nil {
		t.Fatal(err)
	}
	if s.Failures() != 3 {
		t.Errorf("seeded Failures() = %d, want 3", s.Failures())
	}
	if ok, _ := s.Observe(ctx, boom); !ok {
		t.Error("exhausted policy should sleep after one more failure")
	}

	// A success clears the retained count.
	if ok, _ := s.Observe(ctx, nil); !ok {
		t.Error("success should allow sleep")
	}
	if _, ok := store["publish_failures"]; ok {
		t.Error("retained count not reset after a successful publish")
	}
}

func TestPipelineSuspendWaitsForSession(t *testing.T) {
	sensor := &scriptedSensor{readings: []float64{12.5}}
	ch := newTestChannel(t, "voltage", sensor, nil)
	p, c := newTestPipeline(t, Options{Memory: newMemMemory(), Suspend: NewSuspendPolicy(1)}, ch)

	for i := 0; i < 20; i++ {
		res, err := p.Tick(context.Background(), nil)
		if err != nil {
			t.Fatalf("offline tick %d: err = %v, want nil", i, err)
		}
		if res.Sampled {
			t.Fatalf("offline tick %d sampled", i)
		}
		c.Advance(100 * time.Millisecond)
	}
	if sensor.calls != 0 {
		t.Errorf("sensor read %d times before a session existed", sensor.calls)
	}

	// The first tick with a session takes the pending sample at once.
	pub := &MockPublisher{}
	res, err := p.Tick(context.Background(), pub)
	if fe, ok := node.AsFault(err); !ok || fe.Kind != node.FaultSleep {
		t.Fatalf("Tick() error = %v, want FaultSleep", err)
	}
	if !res.Sampled || res.PublishErr != nil || len(pub.Messages) != 1 {
		t.Errorf("result = %+v, messages = %d", res, len(pub.Messages))
	}
}

// delayedLink has no session for its first offlineTicks ticks.
type delayedLink struct {
	offlineTicks int
	ticks        int
	sess         node.Session
}

func (l *delayedLink) Tick(context.Context) error {
	l.ticks++
	return nil
}

func (l *delayedLink) Current() node.Session {
	if l.ticks <= l.offlineTicks {
		return nil
	}
	return l.sess
}

func TestSchedulerDeepSleepCycle(t *testing.T) {
	sensor := &scriptedSensor{readings: []float64{3.7}}
	ch := newTestChannel(t, "voltage", sensor, nil)
	mem := newMemMemory()
	p, c := newTestPipeline(t, Options{Memory: mem, Suspend: NewSuspendPolicy(1)}, ch)

	pub := &MockPublisher{}
	link := &delayedLink{offlineTicks: 30, sess: publishOnlySession{pub}}

	var reports []error
	sched, err := node.NewScheduler(node.Context{
		Identity:  testIdentity,
		Clock:     c,
		Link:      link,
		Telemetry: p.Task(func(err error) { reports = append(reports, err) }),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sched.Run(ctx)

	fe, ok := node.AsFault(err)
	if !ok || fe.Kind != node.FaultSleep {
		t.Fatalf("Run() error = %v, want FaultSleep", err)
	}
	if link.ticks != link.offlineTicks+1 {
		t.Errorf("link ticked %d times, want sleep on the first online pass (%d)", link.ticks, link.offlineTicks+1)
	}
	want := []published{
		{"garge/devices/garge_b43a4536a89c/garge_b43a4536a89c_voltage/state", `{"voltage":0.74}`, true},
	}
	if diff := cmp.Diff(want, pub.Messages); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
	if len(reports) != 1 || reports[0] != nil {
		t.Errorf("reports = %v, want one success", reports)
	}
	if _, ok := mem.snaps["voltage"]; !ok {
		t.Error("buffer not persisted before sleep")
	}
}

type fakeClimate struct {
	milliC int32
	rhx100 int16
	err    error
	awake  bool
	sleeps int
}

func (f *fakeClimate) WakeUp() error { f.awake = true; return nil }
func (f *fakeClimate) Sleep() error  { f.awake = false; f.sleeps++; return nil }
func (f *fakeClimate) ReadTemperatureHumidity() (int32, int16, error) {
	return f.milliC, f.rhx100, f.err
}

func TestClimateSensors(t *testing.T) {
	drv := &fakeClimate{milliC: 21375, rhx100: 4550}
	c := &Climate{drv: drv}

	temp, err := c.Temperature().Read(context.Background())
	if err != nil || temp != 21.375 {
		t.Errorf("Temperature() = %v, %v", temp, err)
	}
	hum, err := c.Humidity().Read(context.Background())
	if err != nil || hum != 45.5 {
		t.Errorf("Humidity() = %v, %v", hum, err)
	}
	if drv.awake || drv.sleeps != 2 {
		t.Errorf("chip not returned to sleep: awake=%v sleeps=%d", drv.awake, drv.sleeps)
	}

	drv.err = errors.New("crc mismatch")
	v, err := c.Temperature().Read(context.Background())
	if !errors.Is(err, ErrSensorRead) || !math.IsNaN(v) {
		t.Errorf("failed read = %v, %v", v, err)
	}
}

// publishOnlySession lifts MockPublisher to node.Session.
type publishOnlySession struct{ *MockPublisher }

func (publishOnlySession) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }

func TestPipelineTaskReportsPublishOutcome(t *testing.T) {
	ch := newTestChannel(t, "temperature", &scriptedSensor{readings: []float64{20}}, nil)
	p, c := newTestPipeline(t, Options{}, ch)

	var reports []error
	task := p.Task(func(err error) { reports = append(reports, err) })

	// Offline: sampled, nothing reported.
	if err := task.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick(nil) error = %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("reports while offline = %v", reports)
	}

	boom := errors.New("broker gone")
	pub := &MockPublisher{Err: boom}
	c.Advance(time.Minute)
	if err := task.Tick(context.Background(), publishOnlySession{pub}); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	pub.Err = nil
	c.Advance(time.Minute)
	if err := task.Tick(context.Background(), publishOnlySession{pub}); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// Interval not elapsed: no sample, no report.
	if err := task.Tick(context.Background(), publishOnlySession{pub}); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(reports) != 2 || !errors.Is(reports[0], boom) || reports[1] != nil {
		t.Errorf("reports = %v, want [broker gone <nil>]", reports)
	}
	if len(pub.Messages) != 1 {
		t.Errorf("published %d messages, want 1", len(pub.Messages))
	}
}
