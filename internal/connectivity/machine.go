package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

// Machine defaults, matching the config defaults.
const (
	defaultAssociationAttempts = 15
	defaultAssociationDelay    = time.Second
	defaultRetryInterval       = 5 * time.Second
	defaultCredentialPoll      = 250 * time.Millisecond
	defaultCheckInterval       = 5 * time.Second
)

// Network associates the node with the configured Wi-Fi network and runs
// the provisioning access point.
type Network interface {
	Associate(ctx context.Context, creds nvstore.NetworkCredentials) error
	Connected() bool
	StartAccessPoint(ctx context.Context, ssid string) error
	StopAccessPoint() error
}

// Session is one authenticated broker session. *mqtt.Client satisfies it.
type Session interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnDisconnect(callback func(err error))
	Disconnect(quiesce uint)
	Close() error
}

// Dialer makes one handshake attempt with the given credentials.
type Dialer interface {
	Dial(ctx context.Context, creds nvstore.BrokerCredentials) (Session, error)
}

// Portal blocks until a user submits credentials.
type Portal interface {
	Serve(ctx context.Context) (nvstore.Credentials, error)
}

// Options configures a Machine.
type Options struct {
	Network     Network
	Dialer      Dialer
	Portal      Portal
	Credentials *CredentialHolder
	Clock       clock.Clock

	AssociationAttempts int
	AssociationDelay    time.Duration
	RetryInterval       time.Duration
	CredentialPoll      time.Duration

	// CheckInterval paces Network.Connected queries; a lost broker session
	// is noticed on the next tick regardless.
	CheckInterval time.Duration

	// HandshakeTimeout bounds a run of failed handshakes. Zero means retry
	// until cancelled.
	HandshakeTimeout time.Duration

	// APName is the provisioning access point SSID.
	APName string

	Logger node.Logger
}

// Machine is the connectivity state machine. Tick, Session and the hook
// registration methods belong to the scheduler goroutine; State,
// SessionLost and ReportPublish may be called from anywhere.
type Machine struct {
	opts   Options
	logger node.Logger

	mu    sync.RWMutex
	state State

	session      Session
	sessionCreds nvstore.BrokerCredentials
	lost         atomic.Bool

	handshakeSince time.Time

	// Retry bookkeeping. Waits are timestamps checked on each Tick, never
	// sleeps.
	attempt     int
	nextAttempt time.Time
	retrying    bool
	retryCreds  nvstore.BrokerCredentials

	credPoll *clock.Ticker
	netCheck *clock.Ticker

	onOnline      []func(Session)
	onSessionLost []func()
}

// NewMachine returns a machine in Unprovisioned.
func NewMachine(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.AssociationAttempts <= 0 {
		opts.AssociationAttempts = defaultAssociationAttempts
	}
	if opts.AssociationDelay <= 0 {
		opts.AssociationDelay = defaultAssociationDelay
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.CredentialPoll <= 0 {
		opts.CredentialPoll = defaultCredentialPoll
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.Credentials == nil {
		opts.Credentials = NewMemoryHolder(nvstore.Credentials{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = node.NopLogger{}
	}
	return &Machine{
		opts:     opts,
		logger:   logger,
		state:    Unprovisioned,
		credPoll: clock.NewTicker(opts.Clock, opts.CredentialPoll),
		netCheck: clock.NewTicker(opts.Clock, opts.CheckInterval),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Info("connectivity state changed", "from", prev.String(), "to", s.String())
	}
}

// Session returns the live session, or nil outside Online and Degraded.
func (m *Machine) Session() Session {
	if !m.State().HasSession() {
		return nil
	}
	return m.session
}

// Current implements node.Link.
func (m *Machine) Current() node.Session {
	if sess := m.Session(); sess != nil {
		return sess
	}
	return nil
}

var _ node.Link = (*Machine)(nil)

// Credentials returns the holder the machine reads from.
func (m *Machine) Credentials() *CredentialHolder {
	return m.opts.Credentials
}

// OnOnline registers a hook run, in registration order, every time a
// session is established.
func (m *Machine) OnOnline(fn func(Session)) {
	m.onOnline = append(m.onOnline, fn)
}

// OnSessionLost registers a hook run every time a session ends.
func (m *Machine) OnSessionLost(fn func()) {
	m.onSessionLost = append(m.onSessionLost, fn)
}

// SessionLost flags the session as gone. Safe to call from the MQTT
// client's goroutine; the machine acts on it at its next Tick.
func (m *Machine) SessionLost() {
	m.lost.Store(true)
}

// ReportPublish moves between Online and Degraded based on the outcome of a
// publish made on the current session.
func (m *Machine) ReportPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err != nil && m.state == Online:
		m.state = Degraded
		m.logger.Warn("connectivity degraded", "error", err)
	case err == nil && m.state == Degraded:
		m.state = Online
		m.logger.Info("connectivity recovered")
	}
}

// Tick performs one step of the state machine. Association attempts and
// broker dials happen at most once per Tick; the delays between them are
// deadlines checked on later ticks, so Tick returns promptly except while
// provisioning, which blocks in the portal.
//
// The returned error is ctx.Err() on cancellation or a *node.FaultError
// for FaultReprovisioned and FaultHandshakeTimeout.
func (m *Machine) Tick(ctx context.Context) error {
	switch m.State() {
	case Unprovisioned:
		if !m.opts.Credentials.Network().Present() {
			m.logger.Warn("no network credentials stored")
			m.setState(Provisioning)
			return nil
		}
		m.enterAssociating()
		return nil

	case Provisioning:
		return m.provision(ctx)

	case Associating:
		return m.associate(ctx)

	case BrokerHandshake:
		return m.handshake(ctx)

	case Online, Degraded:
		m.checkSession()
		return nil
	}
	return fmt.Errorf("unknown state %v", m.State())
}

// provision runs the access point and portal until credentials arrive.
func (m *Machine) provision(ctx context.Context) error {
	if m.opts.Portal == nil {
		return ErrNoPortal
	}

	ssid := m.opts.APName
	if err := m.opts.Network.StartAccessPoint(ctx, ssid); err != nil {
		m.logger.Error("starting access point failed", "ssid", ssid, "error", err)
	} else {
		m.logger.Info("provisioning access point started", "ssid", ssid)
	}
	defer func() {
		if err := m.opts.Network.StopAccessPoint(); err != nil {
			m.logger.Warn("stopping access point failed", "error", err)
		}
	}()

	creds, err := m.opts.Portal.Serve(ctx)
	if fe, ok := node.AsFault(err); ok && fe.Kind == node.FaultCredentialsCleared {
		if cerr := m.opts.Credentials.ClearNetwork(); cerr != nil {
			return cerr
		}
		m.logger.Info("network credentials cleared")
		return err
	}
	if err != nil {
		return err
	}

	if err := m.opts.Credentials.SetNetwork(creds.Network); err != nil {
		return err
	}
	if creds.Broker.Present() {
		if _, err := m.opts.Credentials.SetBroker(creds.Broker); err != nil {
			return err
		}
	}
	m.logger.Info("credentials provisioned", "ssid", creds.Network.SSID)
	return node.Fault(node.FaultReprovisioned, "portal", nil)
}

func (m *Machine) enterAssociating() {
	m.attempt = 0
	m.nextAttempt = time.Time{}
	m.setState(Associating)
}

// associate makes one association attempt once AssociationDelay has passed
// since the previous one, falling back to provisioning after
// AssociationAttempts failures.
func (m *Machine) associate(ctx context.Context) error {
	creds := m.opts.Credentials.Network()
	if !creds.Present() {
		m.setState(Provisioning)
		return nil
	}
	if m.opts.Clock.Now().Before(m.nextAttempt) {
		return nil
	}

	m.attempt++
	err := m.opts.Network.Associate(ctx, creds)
	if err == nil {
		m.logger.Info("associated", "ssid", creds.SSID, "attempt", m.attempt)
		m.attempt = 0
		m.enterHandshake()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.logger.Warn("association failed",
		"ssid", creds.SSID,
		"attempt", m.attempt,
		"max_attempts", m.opts.AssociationAttempts,
		"error", err,
	)

	if m.attempt >= m.opts.AssociationAttempts {
		m.logger.Error("falling back to provisioning", "error", ErrAssociationExhausted)
		m.attempt = 0
		m.setState(Provisioning)
		return nil
	}
	m.nextAttempt = m.opts.Clock.Now().Add(m.opts.AssociationDelay)
	return nil
}

func (m *Machine) enterHandshake() {
	m.handshakeSince = m.opts.Clock.Now()
	m.retrying = false
	m.setState(BrokerHandshake)
}

// handshake makes one dial attempt. After a failure the next attempt waits
// RetryInterval, unless the broker pair changes first, in which case the
// new values are dialled straight away.
func (m *Machine) handshake(ctx context.Context) error {
	if m.retrying {
		if m.handshakeExpired() {
			return node.Fault(node.FaultHandshakeTimeout, "connectivity", ErrHandshakeTimeout)
		}
		switch {
		case m.credPoll.Due() && !m.opts.Credentials.Broker().Equal(m.retryCreds):
			m.logger.Info("broker credentials changed, retrying with new values")
		case m.opts.Clock.Now().Before(m.nextAttempt):
			return nil
		}
		m.retrying = false
	}

	if m.netCheck.Due() && !m.opts.Network.Connected() {
		m.logger.Warn("network lost during handshake")
		m.enterAssociating()
		return nil
	}

	creds := m.opts.Credentials.Broker()
	sess, err := m.opts.Dialer.Dial(ctx, creds)
	if err == nil {
		m.goOnline(sess, creds)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.logger.Error("broker handshake failed", "user", creds.Username, "error", err)

	if m.handshakeExpired() {
		return node.Fault(node.FaultHandshakeTimeout, "connectivity", err)
	}
	m.retrying = true
	m.retryCreds = creds
	m.nextAttempt = m.opts.Clock.Now().Add(m.opts.RetryInterval)
	m.credPoll.Reset()
	return nil
}

func (m *Machine) handshakeExpired() bool {
	if m.opts.HandshakeTimeout <= 0 {
		return false
	}
	return m.opts.Clock.Now().Sub(m.handshakeSince) >= m.opts.HandshakeTimeout
}

func (m *Machine) goOnline(sess Session, creds nvstore.BrokerCredentials) {
	m.lost.Store(false)
	sess.SetOnDisconnect(func(err error) {
		m.logger.Warn("broker session lost", "error", err)
		m.SessionLost()
	})
	m.session = sess
	m.sessionCreds = creds
	m.setState(Online)

	for _, fn := range m.onOnline {
		fn(sess)
	}
}

// checkSession notices a lost session, a dropped network or rotated broker
// credentials.
func (m *Machine) checkSession() {
	switch {
	case m.lost.Load() || !m.session.IsConnected():
		m.dropSession(BrokerHandshake, "session disconnected")
	case m.netCheck.Due() && !m.opts.Network.Connected():
		m.dropSession(Associating, "network lost")
	case !m.opts.Credentials.Broker().Equal(m.sessionCreds):
		m.dropSession(BrokerHandshake, "broker credentials rotated")
	}
}

func (m *Machine) dropSession(next State, reason string) {
	m.logger.Warn("leaving online state", "reason", reason)
	if m.session != nil {
		m.session.Disconnect(0)
	}
	m.session = nil
	m.lost.Store(false)

	for _, fn := range m.onSessionLost {
		fn()
	}

	if next == BrokerHandshake {
		m.enterHandshake()
		return
	}
	m.enterAssociating()
}

// Close ends the session, if any, publishing the graceful offline payload.
func (m *Machine) Close() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.logger.Warn("closing broker session failed", "error", err)
	}
	m.session = nil
}
