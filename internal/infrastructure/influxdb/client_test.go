package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// fakeInflux serves /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "garge",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

func TestConnect(t *testing.T) {
	_, cfg := startFake(t)

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if got := c.Stats(); got != (Stats{}) {
		t.Errorf("Stats() = %+v after Connect, want zero", got)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantBatch uint
		wantFlush uint
	}{
		{"defaults", config.InfluxDBConfig{}, defaultBatchSize, 10000},
		{"configured", config.InfluxDBConfig{BatchSize: 100, FlushInterval: 30}, 100, 30000},
		{"negative", config.InfluxDBConfig{BatchSize: -1, FlushInterval: -5}, defaultBatchSize, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := batchSize(tt.cfg); got != tt.wantBatch {
				t.Errorf("batchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := flushInterval(tt.cfg); got != tt.wantFlush {
				t.Errorf("flushInterval() = %d, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: url})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Connect() error = %v, want ErrUnreachable", err)
	}
}

func TestWrites(t *testing.T) {
	fake, cfg := startFake(t)
	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ts := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c.WriteChannelSample("garge_b43a4536a89c", "temperature", 21.5, ts)
	c.WriteBridgeState("garge_b43a4536a89c", "SOCKET_AABBCCDDEEFF", true, ts)
	c.WriteLifecycle("garge_b43a4536a89c", "state", "online", ts)
	c.Flush()

	if got := c.Stats().Written; got != 3 {
		t.Errorf("Stats().Written = %d, want 3", got)
	}

	lines := fake.Lines()
	want := []string{
		"telemetry,channel=temperature,node=garge_b43a4536a89c value=21.5",
		"bridged_switch,instance=SOCKET_AABBCCDDEEFF,node=garge_b43a4536a89c on=true",
		`node_lifecycle,event=state,node=garge_b43a4536a89c detail="online"`,
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
}

func TestWriteErrorCallback(t *testing.T) {
	fake, cfg := startFake(t)
	fake.status = http.StatusBadRequest

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got := make(chan error, 1)
	c.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	c.WriteChannelSample("n", "voltage", 12.6, time.Now())
	c.Flush()

	select {
	case err := <-got:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error not reported")
	}
	if c.Stats().Failed == 0 {
		t.Error("Stats().Failed not counted")
	}
}

func TestClose(t *testing.T) {
	fake, cfg := startFake(t)
	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Writes after close are dropped.
	c.WriteChannelSample("n", "voltage", 1, time.Now())
	c.Flush()
	if len(fake.Lines()) != 0 {
		t.Error("write after Close reached the server")
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}
