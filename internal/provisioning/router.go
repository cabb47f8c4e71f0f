package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/garge-node/internal/nvstore"
)

// maxFormSize bounds a submission body.
const maxFormSize = 4 << 10

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// Handler returns the portal's routes.
func (p *Portal) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(p.requestIDMiddleware)
	r.Use(p.loggingMiddleware)
	r.Use(p.recoveryMiddleware)

	r.Get("/", p.handleForm)
	r.Post("/submit", p.handleSubmit)
	r.Post("/clear-wifi", p.handleClear)
	r.Get("/status", p.handleStatus)

	return r
}

var formTemplate = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head>
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Node}} setup</title>
<style>
body { font-family: sans-serif; background: #f0f0f0; margin: 0; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
label { display: block; margin-bottom: 8px; font-size: 1.2em; }
select, input[type=text], input[type=password] { width: 100%; padding: 10px; margin-bottom: 16px; font-size: 1.2em; }
input[type=submit] { padding: 10px 20px; font-size: 1.2em; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Node}}</h1>
<form action="/submit" method="POST">
<label for="ssid">Network</label>
{{if .SSIDs}}<select id="ssid" name="ssid">{{range .SSIDs}}<option value="{{.}}">{{.}}</option>{{end}}</select>
{{else}}<input type="text" id="ssid" name="ssid" maxlength="32">
{{end}}<label for="password">Password</label>
<input type="password" id="password" name="password" maxlength="64">
<label for="mqtt_user">MQTT user (optional)</label>
<input type="text" id="mqtt_user" name="mqtt_user" maxlength="64">
<label for="mqtt_pass">MQTT password (optional)</label>
<input type="password" id="mqtt_pass" name="mqtt_pass" maxlength="64">
<input type="submit" value="Connect">
</form>
<form action="/clear-wifi" method="POST"><input type="submit" value="Forget network"></form>
</div>
</body>
</html>
`))

func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Node  string
		SSIDs []string
	}{Node: p.opts.Identity.Name}

	if p.opts.Scanner != nil {
		ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
		ssids, err := p.opts.Scanner.Scan(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("network scan failed", "error", err)
		}
		data.SSIDs = uniqueSorted(ssids)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := formTemplate.Execute(w, data); err != nil {
		p.logger.Error("rendering form", "error", err)
	}
}

func (p *Portal) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	creds, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := p.enqueue(Event{Kind: EventSubmitted, Credentials: creds, RequestID: requestID(r)}); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	p.logger.Info("credentials submitted", "ssid", creds.Network.SSID, "broker_user", creds.Broker.Username)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Data received. Restarting...\n"))
}

func (p *Portal) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := p.enqueue(Event{Kind: EventCleared, RequestID: requestID(r)}); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	p.logger.Info("network credentials clear requested")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Network settings cleared. Restarting...\n"))
}

func (p *Portal) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{Node: p.opts.Identity.Name, Version: p.opts.Version, State: "unknown"}
	if p.opts.Status != nil {
		st = p.opts.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		p.logger.Warn("writing status", "error", err)
	}
}

// parseSubmission validates the form against the stored field widths.
func parseSubmission(r *http.Request) (nvstore.Credentials, error) {
	fields := []struct {
		name  string
		value string
		field nvstore.Field
	}{
		{"ssid", strings.TrimSpace(r.PostFormValue("ssid")), nvstore.FieldSSID},
		{"password", r.PostFormValue("password"), nvstore.FieldPassphrase},
		{"mqtt_user", strings.TrimSpace(r.PostFormValue("mqtt_user")), nvstore.FieldBrokerUser},
		{"mqtt_pass", r.PostFormValue("mqtt_pass"), nvstore.FieldBrokerPass},
	}
	for _, f := range fields {
		if len(f.value) > f.field.Width {
			return nvstore.Credentials{}, fmt.Errorf("%w: %s holds %d bytes", ErrFieldTooLong, f.name, f.field.Width)
		}
	}
	if fields[0].value == "" {
		return nvstore.Credentials{}, ErrMissingSSID
	}

	creds := nvstore.Credentials{
		Network: nvstore.NetworkCredentials{SSID: fields[0].value, Passphrase: fields[1].value},
	}
	if fields[2].value != "" {
		creds.Broker = nvstore.BrokerCredentials{Username: fields[2].value, Password: fields[3].value}
	}
	return creds, nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// requestIDMiddleware tags each request with an id, honouring X-Request-ID.
func (p *Portal) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}

func (p *Portal) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		p.logger.Debug("portal request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r),
		)
	})
}

func (p *Portal) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				p.logger.Error("panic recovered in portal handler", "error", err, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
