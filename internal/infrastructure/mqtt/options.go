package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Availability payloads, matching Home Assistant's defaults.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// sessionOptions carries the per-session settings that are not part of the
// static configuration.
type sessionOptions struct {
	username          string
	password          string
	clientID          string
	availabilityTopic string
}

// Option configures a single Connect call.
type Option func(*sessionOptions)

// WithCredentials sets the username and password for this session. They take
// precedence over mqtt.auth in the config file.
func WithCredentials(username, password string) Option {
	return func(o *sessionOptions) {
		o.username = username
		o.password = password
	}
}

// WithClientID overrides mqtt.broker.client_id.
func WithClientID(clientID string) Option {
	return func(o *sessionOptions) {
		o.clientID = clientID
	}
}

// WithAvailability sets the retained availability topic. The broker publishes
// "offline" there as the LWT and the client publishes "online" after connecting.
func WithAvailability(topic string) Option {
	return func(o *sessionOptions) {
		o.availabilityTopic = topic
	}
}

// buildClientOptions creates paho MQTT options for one session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (session options first, then config)
//   - TLS configuration with an optional private CA
//   - Clean session mode, no automatic reconnection
func buildClientOptions(cfg config.MQTTConfig, session sessionOptions) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	clientID := session.clientID
	if clientID == "" {
		clientID = cfg.Broker.ClientID
	}
	opts.SetClientID(clientID)

	username, password := session.username, session.password
	if username == "" {
		username, password = cfg.Auth.Username, cfg.Auth.Password
	}
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetCleanSession(true)

	// The connectivity state machine redials with current credentials;
	// paho must not retry with the ones captured here.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		tlsConfig, err := buildTLSConfig(cfg.Broker)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig returns the TLS settings for the broker, trusting CAFile
// in addition to the system roots when it is set.
func buildTLSConfig(broker config.MQTTBrokerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: broker.Host,
	}
	if broker.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(broker.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading broker CA: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("broker CA %s contains no certificates", broker.CAFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (power loss, WiFi drop). QoS 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, session sessionOptions) {
	if session.availabilityTopic == "" {
		return
	}
	opts.SetWill(session.availabilityTopic, payloadOffline, 1, true)
}
