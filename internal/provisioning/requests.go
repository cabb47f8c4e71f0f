package provisioning

import (
	"context"

	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

// CredentialWriter stores what the portal collects.
// *connectivity.CredentialHolder satisfies it.
type CredentialWriter interface {
	SetNetwork(c nvstore.NetworkCredentials) error
	SetBroker(c nvstore.BrokerCredentials) (bool, error)
	ClearNetwork() error
}

// Requests returns a scheduler task that applies portal submissions made
// while the node is running. Either kind of request ends in a restart.
func (p *Portal) Requests(w CredentialWriter) node.Task {
	return node.TaskFunc(func(context.Context, node.Session) error {
		ev, ok := p.Poll()
		if !ok {
			return nil
		}
		return p.apply(w, ev)
	})
}

func (p *Portal) apply(w CredentialWriter, ev Event) error {
	switch ev.Kind {
	case EventSubmitted:
		if err := w.SetNetwork(ev.Credentials.Network); err != nil {
			return err
		}
		if ev.Credentials.Broker.Present() {
			if _, err := w.SetBroker(ev.Credentials.Broker); err != nil {
				return err
			}
		}
		p.logger.Info("credentials replaced from portal", "ssid", ev.Credentials.Network.SSID, "request_id", ev.RequestID)
		return node.Fault(node.FaultReprovisioned, "portal", nil)

	case EventCleared:
		if err := w.ClearNetwork(); err != nil {
			return err
		}
		p.logger.Info("network credentials cleared from portal", "request_id", ev.RequestID)
		return node.Fault(node.FaultCredentialsCleared, "portal", nil)
	}
	return nil
}
