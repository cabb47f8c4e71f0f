package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/node"
)

const (
	// CurrentLink names the symlink pointing at the staged binary.
	CurrentLink = "current"

	defaultInterval = 6 * time.Hour
	fetchTimeout    = 30 * time.Second
	downloadTimeout = 10 * time.Minute

	// maxManifestSize bounds the manifest body.
	maxManifestSize = 1 << 20
)

// Entry is one manifest element.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BinURL  string `json:"bin_url"`
}

// Update describes a newer (or at least different) release.
type Update struct {
	Entry
	Current string
}

// Options configures a Checker.
type Options struct {
	ManifestURL string
	Firmware    string
	Version     string

	// DownloadDir stages binaries. Empty only logs available updates.
	DownloadDir string

	// Staging records the staged version across restarts. When set, a
	// version that is already staged does not fault again.
	Staging Staging

	Interval time.Duration
	Client   *http.Client
	Clock    clock.Clock
	Logger   node.Logger
}

// Staging persists the version of the last staged binary.
// *retained.Store satisfies it.
type Staging interface {
	StagedVersion(ctx context.Context) (string, error)
	SetStagedVersion(ctx context.Context, version string) error
}

// OptionsFromConfig maps the ota and node sections onto Options.
func OptionsFromConfig(cfg config.OTAConfig, nodeCfg config.NodeConfig, version string) Options {
	return Options{
		ManifestURL: cfg.ManifestURL,
		Firmware:    nodeCfg.Firmware,
		Version:     version,
		DownloadDir: cfg.DownloadDir,
		Interval:    cfg.CheckInterval,
	}
}

// Checker polls the manifest on an interval.
type Checker struct {
	opts     Options
	ticker   *clock.Ticker
	logger   node.Logger
	reported string
}

// NewChecker returns a checker. The first Tick checks immediately.
func NewChecker(opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = node.NopLogger{}
	}
	return &Checker{
		opts:   opts,
		ticker: clock.NewTicker(opts.Clock, opts.Interval),
		logger: logger,
	}
}

// Tick implements node.Task. Check failures are logged, never escalated.
func (c *Checker) Tick(ctx context.Context, _ node.Session) error {
	if !c.ticker.Due() {
		return nil
	}

	up, ok, err := c.Check(ctx)
	if err != nil {
		c.logger.Warn("update check failed", "error", err)
		return nil
	}
	if !ok {
		c.logger.Debug("firmware up to date", "version", c.opts.Version)
		return nil
	}

	if c.opts.DownloadDir == "" {
		if c.reported != up.Version {
			c.logger.Info("firmware update available", "current", up.Current, "available", up.Version)
			c.reported = up.Version
		}
		return nil
	}

	if c.opts.Staging != nil {
		staged, err := c.opts.Staging.StagedVersion(ctx)
		if err != nil {
			c.logger.Warn("reading staged version failed", "error", err)
			return nil
		}
		if SameVersion(staged, up.Version) {
			if c.reported != up.Version {
				c.logger.Warn("staged update is not the running binary",
					"running", up.Current,
					"staged", staged,
				)
				c.reported = up.Version
			}
			return nil
		}
	}

	path, err := c.Download(ctx, up)
	if err != nil {
		c.logger.Error("staging update failed", "version", up.Version, "error", err)
		return nil
	}
	if c.opts.Staging != nil {
		if err := c.opts.Staging.SetStagedVersion(ctx, up.Version); err != nil {
			c.logger.Error("recording staged version failed", "version", up.Version, "error", err)
			return nil
		}
	}
	c.logger.Info("firmware update staged", "version", up.Version, "path", path)
	return node.Fault(node.FaultUpdateAvailable, "ota", nil)
}

// SameVersion compares release strings, ignoring surrounding space and a
// leading "v".
func SameVersion(a, b string) bool {
	norm := func(v string) string {
		return strings.TrimPrefix(strings.TrimSpace(v), "v")
	}
	return norm(a) == norm(b)
}

// Check fetches the manifest and reports whether it lists a different
// version for this firmware.
func (c *Checker) Check(ctx context.Context) (Update, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.ManifestURL, nil)
	if err != nil {
		return Update{}, false, fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return Update{}, false, fmt.Errorf("%w: %w", ErrManifestFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Update{}, false, fmt.Errorf("%w: status %d", ErrManifestFetch, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestSize)).Decode(&entries); err != nil {
		return Update{}, false, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	entry, err := find(entries, c.opts.Firmware)
	if err != nil {
		return Update{}, false, err
	}
	if SameVersion(entry.Version, c.opts.Version) {
		return Update{}, false, nil
	}
	return Update{Entry: entry, Current: c.opts.Version}, true, nil
}

func find(entries []Entry, firmware string) (Entry, error) {
	for _, e := range entries {
		if e.Name != firmware {
			continue
		}
		if e.Version == "" || e.BinURL == "" {
			return Entry{}, fmt.Errorf("%w: %s is missing version or bin_url", ErrNoEntry, firmware)
		}
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNoEntry, firmware)
}

// Download fetches up's binary into DownloadDir and repoints the current
// link at it. It returns the staged path.
func (c *Checker) Download(ctx context.Context, up Update) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	if err := os.MkdirAll(c.opts.DownloadDir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, up.BinURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	final := filepath.Join(c.opts.DownloadDir, up.Name+"-"+up.Version)
	tmp, err := os.CreateTemp(c.opts.DownloadDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer os.Remove(tmp.Name()) // no-op after the rename

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: empty body", ErrDownload)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil { // #nosec G302 -- staged executable
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if err := relink(c.opts.DownloadDir, filepath.Base(final)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return final, nil
}

// relink atomically points dir/current at target.
func relink(dir, target string) error {
	tmp := filepath.Join(dir, "."+CurrentLink+".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, CurrentLink))
}
