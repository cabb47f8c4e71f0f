package ota

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/node"
)

// manifest has "%s" where the server URL goes.
const manifest = `[
  {"name": "garge-node-power", "version": "1.3.2", "bin_url": "%s/bin/power"},
  {"name": "garge-node-climate", "version": "1.4.0", "bin_url": "%s/bin/climate"},
  {"name": "garge-node-broken", "version": "", "bin_url": "%s/bin/broken"}
]`

type fakeRelease struct {
	srv       *httptest.Server
	manifests int
	downloads int
	status    int
	body      string
}

func newFakeRelease(t *testing.T) *fakeRelease {
	t.Helper()
	f := &fakeRelease{status: http.StatusOK, body: "\x7fELF-binary"}
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		f.manifests++
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			return
		}
		url := "http://" + r.Host
		_, _ = w.Write([]byte(strings.ReplaceAll(manifest, "%s", url)))
	})
	mux.HandleFunc("/bin/", func(w http.ResponseWriter, _ *http.Request) {
		f.downloads++
		_, _ = w.Write([]byte(f.body))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestChecker(f *fakeRelease, firmware, version, dir string) (*Checker, *clock.Manual) {
	c := clock.NewManual(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	return NewChecker(Options{
		ManifestURL: f.srv.URL + "/manifest.json",
		Firmware:    firmware,
		Version:     version,
		DownloadDir: dir,
		Interval:    time.Hour,
		Client:      f.srv.Client(),
		Clock:       c,
	}), c
}

func TestCheck(t *testing.T) {
	f := newFakeRelease(t)
	tests := []struct {
		name     string
		firmware string
		version  string
		wantOK   bool
		wantErr  error
	}{
		{"newer version", "garge-node-climate", "1.3.9", true, nil},
		{"same version", "garge-node-climate", "1.4.0", false, nil},
		{"same version with v prefix", "garge-node-climate", "v1.4.0", false, nil},
		{"older entry still differs", "garge-node-power", "1.4.0", true, nil},
		{"unknown firmware", "garge-node-radar", "1.0.0", false, ErrNoEntry},
		{"incomplete entry", "garge-node-broken", "1.0.0", false, ErrNoEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestChecker(f, tt.firmware, tt.version, "")
			up, ok, err := c.Check(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Check() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Check() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (up.Current != tt.version || up.Name != tt.firmware) {
				t.Errorf("Check() update = %+v", up)
			}
		})
	}
}

func TestCheckFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		f := newFakeRelease(t)
		f.status = http.StatusBadGateway
		c, _ := newTestChecker(f, "garge-node-climate", "1.0.0", "")
		if _, _, err := c.Check(context.Background()); !errors.Is(err, ErrManifestFetch) {
			t.Errorf("Check() error = %v, want ErrManifestFetch", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()
		c := NewChecker(Options{ManifestURL: srv.URL, Firmware: "x", Client: srv.Client()})
		if _, _, err := c.Check(context.Background()); !errors.Is(err, ErrInvalidManifest) {
			t.Errorf("Check() error = %v, want ErrInvalidManifest", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		c := NewChecker(Options{ManifestURL: "http://127.0.0.1:1/manifest.json", Firmware: "x"})
		if _, _, err := c.Check(context.Background()); !errors.Is(err, ErrManifestFetch) {
			t.Errorf("Check() error = %v, want ErrManifestFetch", err)
		}
	})
}

func TestTickStagesUpdate(t *testing.T) {
	f := newFakeRelease(t)
	dir := t.TempDir()
	c, _ := newTestChecker(f, "garge-node-climate", "1.3.9", dir)

	err := c.Tick(context.Background(), nil)
	fe, ok := node.AsFault(err)
	if !ok || fe.Kind != node.FaultUpdateAvailable {
		t.Fatalf("Tick() error = %v, want FaultUpdateAvailable", err)
	}

	staged := filepath.Join(dir, "garge-node-climate-1.4.0")
	data, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("staged binary: %v", err)
	}
	if string(data) != f.body {
		t.Errorf("staged content = %q", data)
	}
	info, err := os.Stat(staged)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("staged binary not executable: %v", info.Mode())
	}

	target, err := os.Readlink(filepath.Join(dir, CurrentLink))
	if err != nil {
		t.Fatalf("current link: %v", err)
	}
	if target != "garge-node-climate-1.4.0" {
		t.Errorf("current -> %q", target)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

// memStaging is an in-memory Staging.
type memStaging struct{ version string }

func (m *memStaging) StagedVersion(context.Context) (string, error) { return m.version, nil }

func (m *memStaging) SetStagedVersion(_ context.Context, v string) error {
	m.version = v
	return nil
}

func TestTickStagesVersionOnce(t *testing.T) {
	f := newFakeRelease(t)
	dir := t.TempDir()
	staging := &memStaging{}

	c, _ := newTestChecker(f, "garge-node-climate", "1.3.9", dir)
	c.opts.Staging = staging
	if fe, ok := node.AsFault(c.Tick(context.Background(), nil)); !ok || fe.Kind != node.FaultUpdateAvailable {
		t.Fatal("first Tick() did not stage the update")
	}
	if staging.version != "1.4.0" {
		t.Fatalf("staged version = %q, want 1.4.0", staging.version)
	}

	// After the restart the old binary is still running: no second
	// download, no second restart.
	again, _ := newTestChecker(f, "garge-node-climate", "1.3.9", dir)
	again.opts.Staging = staging
	if err := again.Tick(context.Background(), nil); err != nil {
		t.Fatalf("Tick() for an already staged version = %v, want nil", err)
	}
	if f.downloads != 1 {
		t.Errorf("downloads = %d, want 1", f.downloads)
	}
}

func TestSameVersion(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.0", "1.2.0", true},
		{"v1.2.0", "1.2.0", true},
		{" 1.2.0\n", "v1.2.0", true},
		{"1.2.0", "1.2.1", false},
		{"", "1.2.0", false},
	}
	for _, tt := range tests {
		if got := SameVersion(tt.a, tt.b); got != tt.want {
			t.Errorf("SameVersion(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTickInterval(t *testing.T) {
	f := newFakeRelease(t)
	c, clk := newTestChecker(f, "garge-node-climate", "1.4.0", "")

	for i := 0; i < 3; i++ {
		if err := c.Tick(context.Background(), nil); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if f.manifests != 1 {
		t.Errorf("manifest fetched %d times, want 1", f.manifests)
	}

	clk.Advance(time.Hour)
	_ = c.Tick(context.Background(), nil)
	if f.manifests != 2 {
		t.Errorf("manifest fetched %d times after interval, want 2", f.manifests)
	}
}

func TestTickWithoutDownloadDir(t *testing.T) {
	f := newFakeRelease(t)
	c, _ := newTestChecker(f, "garge-node-climate", "1.0.0", "")
	if err := c.Tick(context.Background(), nil); err != nil {
		t.Errorf("Tick() error = %v, want nil (log only)", err)
	}
	if f.downloads != 0 {
		t.Errorf("downloads = %d, want 0", f.downloads)
	}
}

func TestTickSwallowsFailures(t *testing.T) {
	f := newFakeRelease(t)
	f.body = ""
	c, _ := newTestChecker(f, "garge-node-climate", "1.0.0", t.TempDir())
	if err := c.Tick(context.Background(), nil); err != nil {
		t.Errorf("Tick() error = %v, want nil", err)
	}

	f.status = http.StatusInternalServerError
	c, _ = newTestChecker(f, "garge-node-climate", "1.0.0", t.TempDir())
	if err := c.Tick(context.Background(), nil); err != nil {
		t.Errorf("Tick() error = %v, want nil", err)
	}
}

func TestDownloadEmptyBody(t *testing.T) {
	f := newFakeRelease(t)
	f.body = ""
	c, _ := newTestChecker(f, "garge-node-climate", "1.0.0", t.TempDir())
	up := Update{Entry: Entry{Name: "garge-node-climate", Version: "1.4.0", BinURL: f.srv.URL + "/bin/climate"}}
	if _, err := c.Download(context.Background(), up); !errors.Is(err, ErrDownload) {
		t.Errorf("Download() error = %v, want ErrDownload", err)
	}
}

var _ node.Task = (*Checker)(nil)
