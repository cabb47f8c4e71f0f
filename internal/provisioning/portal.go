package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	scanTimeout     = 15 * time.Second
)

// EventKind says what a portal user asked for.
type EventKind int

const (
	// EventSubmitted carries new credentials.
	EventSubmitted EventKind = iota + 1

	// EventCleared asks for the network credentials to be erased.
	EventCleared
)

// Event is one queued portal request.
type Event struct {
	Kind        EventKind
	Credentials nvstore.Credentials
	RequestID   string
}

// Status is the body of GET /status.
type Status struct {
	Node          string `json:"node"`
	State         string `json:"state"`
	MQTTConnected bool   `json:"mqtt_connected"`
	Version       string `json:"version,omitempty"`
	Devices       int    `json:"bridged_devices"`
}

// Scanner lists nearby network names for the form.
type Scanner interface {
	Scan(ctx context.Context) ([]string, error)
}

// Options configures a Portal.
type Options struct {
	Addr     string
	Identity node.Identity
	Version  string

	// Status reports live state for /status. Optional.
	Status func() Status

	// Scanner fills the SSID picker. Optional; without it the form shows
	// a text field.
	Scanner Scanner

	Logger node.Logger
}

// Portal is the settings web server.
type Portal struct {
	opts    Options
	logger  node.Logger
	events  chan Event
	running atomic.Bool
}

// New returns a portal. Nothing listens until Serve or Run.
func New(opts Options) *Portal {
	logger := opts.Logger
	if logger == nil {
		logger = node.NopLogger{}
	}
	return &Portal{
		opts:   opts,
		logger: logger,
		events: make(chan Event, 1),
	}
}

// Serve implements connectivity.Portal. It listens on Addr until a
// request arrives or ctx is done. When Run already has the server up,
// Serve only waits. A clear request ends Serve with a
// FaultCredentialsCleared fault; the caller owns the credentials and
// erases them.
func (p *Portal) Serve(ctx context.Context) (nvstore.Credentials, error) {
	var errc <-chan error
	if !p.running.Load() {
		srv, ec, err := p.listen()
		if err != nil {
			return nvstore.Credentials{}, err
		}
		defer p.shutdown(srv)
		errc = ec
	}

	for {
		select {
		case <-ctx.Done():
			return nvstore.Credentials{}, ctx.Err()
		case err := <-errc:
			return nvstore.Credentials{}, fmt.Errorf("portal server: %w", err)
		case ev := <-p.events:
			switch ev.Kind {
			case EventSubmitted:
				return ev.Credentials, nil
			case EventCleared:
				p.logger.Info("clear requested from portal", "request_id", ev.RequestID)
				return nvstore.Credentials{}, node.Fault(node.FaultCredentialsCleared, "portal", nil)
			}
		}
	}
}

// Run serves until ctx is done. Requests are collected with Poll.
func (p *Portal) Run(ctx context.Context) error {
	srv, errc, err := p.listen()
	if err != nil {
		return err
	}
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		p.shutdown(srv)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return fmt.Errorf("portal server: %w", err)
	}
}

// Poll returns a queued request without blocking.
func (p *Portal) Poll() (Event, bool) {
	select {
	case ev := <-p.events:
		return ev, true
	default:
		return Event{}, false
	}
}

func (p *Portal) listen() (*http.Server, <-chan error, error) {
	ln, err := net.Listen("tcp", p.opts.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("portal listen on %s: %w", p.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           p.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	p.logger.Info("portal listening", "address", ln.Addr().String())
	return srv, errc, nil
}

func (p *Portal) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		p.logger.Warn("portal shutdown", "error", err)
	}
}

// enqueue hands a request to whoever is waiting. It never blocks.
func (p *Portal) enqueue(ev Event) error {
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBusy
	}
}
