package connectivity

import (
	"context"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

// MQTTDialer dials the configured broker with credentials from the holder.
type MQTTDialer struct {
	Config config.MQTTConfig

	// ClientID defaults to mqtt.broker.client_id, then to the node name.
	ClientID string

	// Availability is the LWT/birth topic.
	Availability string

	Logger mqtt.Logger
}

// Dial implements Dialer. Credentials missing from the store fall back to
// mqtt.auth in the config file.
func (d MQTTDialer) Dial(ctx context.Context, creds nvstore.BrokerCredentials) (Session, error) {
	opts := []mqtt.Option{mqtt.WithAvailability(d.Availability)}
	if creds.Present() {
		opts = append(opts, mqtt.WithCredentials(creds.Username, creds.Password))
	}
	if d.Config.Broker.ClientID == "" && d.ClientID != "" {
		opts = append(opts, mqtt.WithClientID(d.ClientID))
	}

	client, err := mqtt.Connect(ctx, d.Config, opts...)
	if err != nil {
		return nil, err
	}
	if d.Logger != nil {
		client.SetLogger(d.Logger)
	}
	return client, nil
}
