package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/garge-node/internal/node"
	"github.com/nerrad567/garge-node/internal/nvstore"
)

type stubScanner struct {
	ssids []string
	err   error
}

func (s stubScanner) Scan(context.Context) ([]string, error) { return s.ssids, s.err }

func testPortal(opts Options) *Portal {
	if opts.Identity.Name == "" {
		opts.Identity = node.NewIdentity("a0b1c2d3e4f5")
	}
	return New(opts)
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestForm(t *testing.T) {
	t.Run("lists scanned networks once, sorted", func(t *testing.T) {
		p := testPortal(Options{Scanner: stubScanner{ssids: []string{"workshop", "garage", "", "garage"}}})
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := rec.Body.String()
		if strings.Count(body, `<option value="garage">`) != 1 {
			t.Errorf("garage should appear once:\n%s", body)
		}
		if strings.Index(body, "garage") > strings.Index(body, "workshop") {
			t.Error("options should be sorted")
		}
		if !strings.Contains(body, "garge_a0b1c2d3e4f5") {
			t.Error("form should show the node name")
		}
	})

	t.Run("falls back to a text field when the scan fails", func(t *testing.T) {
		p := testPortal(Options{Scanner: stubScanner{err: errors.New("radio busy")}})
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `<input type="text" id="ssid"`) {
			t.Error("expected free-text ssid input")
		}
	})

	t.Run("escapes network names", func(t *testing.T) {
		p := testPortal(Options{Scanner: stubScanner{ssids: []string{"<script>"}}})
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if strings.Contains(rec.Body.String(), "<script>") {
			t.Error("ssid was not escaped")
		}
	})
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name   string
		form   url.Values
		status int
		want   nvstore.Credentials
	}{
		{
			name:   "network only",
			form:   url.Values{"ssid": {"garage"}, "password": {"hunter22"}},
			status: http.StatusOK,
			want:   nvstore.Credentials{Network: nvstore.NetworkCredentials{SSID: "garage", Passphrase: "hunter22"}},
		},
		{
			name:   "network and broker",
			form:   url.Values{"ssid": {" garage "}, "password": {"pw"}, "mqtt_user": {"node"}, "mqtt_pass": {"secret"}},
			status: http.StatusOK,
			want: nvstore.Credentials{
				Network: nvstore.NetworkCredentials{SSID: "garage", Passphrase: "pw"},
				Broker:  nvstore.BrokerCredentials{Username: "node", Password: "secret"},
			},
		},
		{
			name:   "open network",
			form:   url.Values{"ssid": {"cafe"}},
			status: http.StatusOK,
			want:   nvstore.Credentials{Network: nvstore.NetworkCredentials{SSID: "cafe"}},
		},
		{
			name:   "missing ssid",
			form:   url.Values{"password": {"pw"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "ssid too long",
			form:   url.Values{"ssid": {strings.Repeat("s", 33)}},
			status: http.StatusBadRequest,
		},
		{
			name:   "password too long",
			form:   url.Values{"ssid": {"garage"}, "password": {strings.Repeat("p", 65)}},
			status: http.StatusBadRequest,
		},
		{
			name:   "broker password without user is ignored",
			form:   url.Values{"ssid": {"garage"}, "mqtt_pass": {"orphan"}},
			status: http.StatusOK,
			want:   nvstore.Credentials{Network: nvstore.NetworkCredentials{SSID: "garage"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPortal(Options{})
			rec := postForm(t, p.Handler(), "/submit", tt.form)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}

			ev, ok := p.Poll()
			if tt.status != http.StatusOK {
				if ok {
					t.Errorf("rejected submission queued %+v", ev)
				}
				return
			}
			if !ok {
				t.Fatal("no event queued")
			}
			if ev.Kind != EventSubmitted {
				t.Errorf("kind = %v, want EventSubmitted", ev.Kind)
			}
			if ev.Credentials != tt.want {
				t.Errorf("credentials = %+v, want %+v", ev.Credentials, tt.want)
			}
			if ev.RequestID == "" {
				t.Error("request id not propagated")
			}
		})
	}
}

func TestSubmitBusy(t *testing.T) {
	p := testPortal(Options{})
	h := p.Handler()
	form := url.Values{"ssid": {"garage"}}

	if rec := postForm(t, h, "/submit", form); rec.Code != http.StatusOK {
		t.Fatalf("first submit status = %d", rec.Code)
	}
	if rec := postForm(t, h, "/submit", form); rec.Code != http.StatusConflict {
		t.Errorf("second submit status = %d, want 409", rec.Code)
	}
	if rec := postForm(t, h, "/clear-wifi", nil); rec.Code != http.StatusConflict {
		t.Errorf("clear while busy status = %d, want 409", rec.Code)
	}
}

func TestClear(t *testing.T) {
	p := testPortal(Options{})
	req := httptest.NewRequest(http.MethodPost, "/clear-wifi", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
	ev, ok := p.Poll()
	if !ok || ev.Kind != EventCleared || ev.RequestID != "req-42" {
		t.Errorf("Poll() = %+v, %v", ev, ok)
	}
	if _, ok := p.Poll(); ok {
		t.Error("Poll() should be empty after draining")
	}
}

func TestStatus(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		p := testPortal(Options{Version: "1.2.0"})
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		var st Status
		if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Node != "garge_a0b1c2d3e4f5" || st.Version != "1.2.0" || st.State != "unknown" {
			t.Errorf("status = %+v", st)
		}
	})

	t.Run("reporter", func(t *testing.T) {
		p := testPortal(Options{Status: func() Status {
			return Status{Node: "n", State: "online", MQTTConnected: true, Devices: 3}
		}})
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var st Status
		if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !st.MQTTConnected || st.State != "online" || st.Devices != 3 {
			t.Errorf("status = %+v", st)
		}
	})
}

func TestRecovery(t *testing.T) {
	p := testPortal(Options{Status: func() Status { panic("boom") }})
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServe(t *testing.T) {
	addr := freeAddr(t)
	p := testPortal(Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		creds nvstore.Credentials
		err   error
	}
	done := make(chan result, 1)
	go func() {
		creds, err := p.Serve(ctx)
		done <- result{creds, err}
	}()

	// Clear requests do not end provisioning.
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.PostForm("http://"+addr+"/clear-wifi", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("portal never came up: %v", err)
	}
	resp.Body.Close()

	// The clear may still be queued; give Serve a moment to consume it.
	time.Sleep(50 * time.Millisecond)

	resp, err = http.PostForm("http://"+addr+"/submit", url.Values{"ssid": {"garage"}, "password": {"pw"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Serve() error = %v", r.err)
		}
		if r.creds.Network.SSID != "garage" || r.creds.Network.Passphrase != "pw" {
			t.Errorf("Serve() = %+v", r.creds)
		}
	case <-ctx.Done():
		t.Fatal("Serve() did not return")
	}

	if _, err := http.Get("http://" + addr + "/status"); err == nil {
		t.Error("portal still listening after Serve returned")
	}
}

func TestServeClearRequest(t *testing.T) {
	p := testPortal(Options{Addr: freeAddr(t)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.enqueue(Event{Kind: EventCleared, RequestID: "req-7"}); err != nil {
		t.Fatal(err)
	}
	_, err := p.Serve(ctx)
	fe, ok := node.AsFault(err)
	if !ok || fe.Kind != node.FaultCredentialsCleared {
		t.Fatalf("Serve() error = %v, want FaultCredentialsCleared", err)
	}
}

func TestServeCancelled(t *testing.T) {
	p := testPortal(Options{Addr: freeAddr(t)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}

func TestRun(t *testing.T) {
	addr := freeAddr(t)
	p := testPortal(Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/status")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("portal never came up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	p := testPortal(Options{Addr: ln.Addr().String()})
	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() on a taken port should fail")
	}
}

func TestServeWhileRunning(t *testing.T) {
	addr := freeAddr(t)
	p := testPortal(Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() { _ = p.Run(ctx) }()
	for i := 0; i < 50 && !p.running.Load(); i++ {
		time.Sleep(20 * time.Millisecond)
	}
	if !p.running.Load() {
		t.Fatal("Run() never started")
	}

	done := make(chan nvstore.Credentials, 1)
	go func() {
		creds, _ := p.Serve(ctx)
		done <- creds
	}()

	resp, err := http.PostForm("http://"+addr+"/submit", url.Values{"ssid": {"garage"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp.Body.Close()

	select {
	case creds := <-done:
		if creds.Network.SSID != "garage" {
			t.Errorf("Serve() = %+v", creds)
		}
	case <-ctx.Done():
		t.Fatal("Serve() did not return")
	}
}
