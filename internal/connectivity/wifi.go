package connectivity

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

const (
	// hotspotConnection is the NetworkManager profile name of the portal AP.
	hotspotConnection = "garge-portal"

	nmcliTimeout  = 30 * time.Second
	statusTimeout = 5 * time.Second
)

// commandRunner runs an external command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput() // #nosec G204 -- fixed binary, args are not shell-parsed
}

// NMCLI drives NetworkManager through the nmcli command line tool.
type NMCLI struct {
	iface string
	run   commandRunner
}

// NewNMCLI returns a Network for interface iface.
func NewNMCLI(iface string) *NMCLI {
	return &NMCLI{iface: iface, run: execRunner}
}

func (n *NMCLI) nmcli(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return "", fmt.Errorf("%w: nmcli %s: %w: %s",
			ErrCommandFailed, args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Associate implements Network.
func (n *NMCLI) Associate(ctx context.Context, creds nvstore.NetworkCredentials) error {
	args := []string{"device", "wifi", "connect", creds.SSID}
	if creds.Passphrase != "" {
		args = append(args, "password", creds.Passphrase)
	}
	args = append(args, "ifname", n.iface)
	_, err := n.nmcli(ctx, nmcliTimeout, args...)
	return err
}

// Connected implements Network. It reports whether the interface is in
// the NetworkManager "connected" state.
func (n *NMCLI) Connected() bool {
	out, err := n.nmcli(context.Background(), statusTimeout, "-t", "-f", "DEVICE,STATE", "device")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		device, state, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && device == n.iface {
			return state == "connected"
		}
	}
	return false
}

// StartAccessPoint implements Network. The hotspot is open so that a phone
// can reach the portal without a password.
func (n *NMCLI) StartAccessPoint(ctx context.Context, ssid string) error {
	if _, err := n.nmcli(ctx, nmcliTimeout,
		"connection", "add", "type", "wifi", "ifname", n.iface,
		"con-name", hotspotConnection, "autoconnect", "no", "ssid", ssid,
		"802-11-wireless.mode", "ap", "ipv4.method", "shared"); err != nil {
		return err
	}
	_, err := n.nmcli(ctx, nmcliTimeout, "connection", "up", hotspotConnection)
	return err
}

// StopAccessPoint implements Network.
func (n *NMCLI) StopAccessPoint() error {
	_, err := n.nmcli(context.Background(), nmcliTimeout, "connection", "delete", hotspotConnection)
	return err
}

// Scan lists the SSIDs NetworkManager can see on the interface. Hidden
// networks are skipped.
func (n *NMCLI) Scan(ctx context.Context) ([]string, error) {
	out, err := n.nmcli(ctx, nmcliTimeout, "-t", "-f", "SSID", "device", "wifi", "list", "ifname", n.iface)
	if err != nil {
		return nil, err
	}
	var ssids []string
	for _, line := range strings.Split(out, "\n") {
		// Terse mode escapes literal colons in values.
		ssid := strings.ReplaceAll(strings.TrimSpace(line), `\:`, ":")
		if ssid != "" {
			ssids = append(ssids, ssid)
		}
	}
	return ssids, nil
}

// Static is a Network for nodes whose link is managed elsewhere (wired
// Ethernet, a container). Association always succeeds and provisioning has
// no access point to start.
type Static struct{}

// Associate implements Network.
func (Static) Associate(context.Context, nvstore.NetworkCredentials) error {
	return nil
}

// Connected implements Network.
func (Static) Connected() bool {
	return true
}

// StartAccessPoint implements Network.
func (Static) StartAccessPoint(context.Context, string) error {
	return nil
}

// StopAccessPoint implements Network.
func (Static) StopAccessPoint() error {
	return nil
}

// NewNetwork selects the Network for network.driver.
func NewNetwork(cfg config.NetworkConfig) (Network, error) {
	switch cfg.Driver {
	case "nmcli":
		return NewNMCLI(cfg.Interface), nil
	case "static":
		return Static{}, nil
	}
	return nil, fmt.Errorf("unknown network driver %q", cfg.Driver)
}
