package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

// Writer stores credentials. *connectivity.CredentialHolder satisfies it.
type Writer interface {
	Network() nvstore.NetworkCredentials
	SetNetwork(c nvstore.NetworkCredentials) error
	SetBroker(c nvstore.BrokerCredentials) (bool, error)
}

// dropIn is the on-disk format.
type dropIn struct {
	MQTTUser string `yaml:"mqtt_user"`
	MQTTPass string `yaml:"mqtt_pass"`
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// Watcher follows one credentials file.
type Watcher struct {
	path   string
	writer Writer
	logger node.Logger
}

// NewWatcher returns a watcher for path. A nil logger discards output.
func NewWatcher(path string, w Writer, logger node.Logger) *Watcher {
	if logger == nil {
		logger = node.NopLogger{}
	}
	return &Watcher{path: filepath.Clean(path), writer: w, logger: logger}
}

// Apply reads the file once and stores what it holds. It reports whether
// the broker pair changed.
func (w *Watcher) Apply() (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("reading credentials file: %w", err)
	}
	// Truncate-then-write shows up as an empty intermediate file.
	if len(data) == 0 {
		return false, ErrEmptyFile
	}

	var d dropIn
	if err := yaml.Unmarshal(data, &d); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if d.MQTTUser == "" && d.SSID == "" {
		return false, ErrEmptyFile
	}

	if d.SSID != "" {
		nc := nvstore.NetworkCredentials{SSID: d.SSID, Passphrase: d.Password}
		if nc != w.writer.Network() {
			if err := w.writer.SetNetwork(nc); err != nil {
				return false, err
			}
			w.logger.Info("network credentials updated from drop-in", "ssid", nc.SSID)
		}
	}

	if d.MQTTUser == "" {
		return false, nil
	}
	changed, err := w.writer.SetBroker(nvstore.BrokerCredentials{Username: d.MQTTUser, Password: d.MQTTPass})
	if err != nil {
		return false, err
	}
	if changed {
		w.logger.Info("broker credentials rotated from drop-in", "user", d.MQTTUser)
	}
	return changed, nil
}

// Run applies the file if it exists, then watches its directory until ctx
// is done. Parse failures are logged and the previous values kept.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// Editors and atomic writers replace the file, so watch the directory.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Info("watching credentials drop-in", "path", w.path)

	if _, err := os.Stat(w.path); err == nil {
		w.apply()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			w.apply()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) apply() {
	if _, err := w.Apply(); err != nil {
		w.logger.Debug("credentials drop-in not applied", "path", w.path, "error", err)
	}
}
