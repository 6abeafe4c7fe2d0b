// Package portal implements the provisioning portal: an HTTP server
// behind an open access point, plus a captive DNS responder that pulls
// every client onto the configuration page. The portal blocks until the
// device is configured and restarted.
package portal

import (
	"context"
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"agroflow/internal/sensor"
	"agroflow/internal/store"
	"agroflow/internal/wifi"
)

//go:embed index.html
var indexHTML []byte

// restartDelay is how long the confirmation page stays reachable before
// the device restarts to join the configured network.
const restartDelay = 3 * time.Second

// Scanner lists the visible wireless networks.
type Scanner interface {
	Scan() ([]wifi.Network, error)
}

// Options configures a Portal.
type Options struct {
	Store    store.Store
	Scanner  Scanner
	Reader   sensor.Reader // nil disables the calibration stream
	Scale    sensor.Scale
	HTTPAddr string
	DNSAddr  string
	APAddr   string // IPv4 address every DNS query resolves to
	Restart  func()
	Logger   *log.Logger

	// RestartDelay overrides the post-save restart delay (tests only).
	RestartDelay time.Duration
}

// Portal is the provisioning HTTP + DNS service.
type Portal struct {
	router       *chi.Mux
	store        store.Store
	scanner      Scanner
	reader       sensor.Reader
	scale        sensor.Scale
	httpAddr     string
	dnsAddr      string
	apAddr       string
	restart      func()
	restartDelay time.Duration
	logger       *log.Logger
	upgrader     websocket.Upgrader
}

// New creates the portal and wires up its routes.
func New(opts Options) *Portal {
	delay := opts.RestartDelay
	if delay == 0 {
		delay = restartDelay
	}

	p := &Portal{
		router:       chi.NewRouter(),
		store:        opts.Store,
		scanner:      opts.Scanner,
		reader:       opts.Reader,
		scale:        opts.Scale,
		httpAddr:     opts.HTTPAddr,
		dnsAddr:      opts.DNSAddr,
		apAddr:       opts.APAddr,
		restart:      opts.Restart,
		restartDelay: delay,
		logger:       opts.Logger,
		upgrader: websocket.Upgrader{
			// Captive-portal clients arrive under arbitrary hostnames.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	p.setupRoutes()
	return p
}

// setupRoutes configures all routes.
func (p *Portal) setupRoutes() {
	r := p.router

	r.Use(middleware.Recoverer)

	r.Get("/", p.handleIndex)
	r.Get("/scan", p.handleScan)
	r.Post("/save", p.handleSave)
	r.Get("/calibrate", p.handleCalibrate)

	// Captive-portal fallback: every unknown path or method gets the
	// setup page.
	r.NotFound(p.handleIndex)
	r.MethodNotAllowed(p.handleIndex)
}

// Router returns the portal's HTTP handler.
func (p *Portal) Router() http.Handler {
	return p.router
}

// Run starts the captive DNS responder and the HTTP server and blocks.
// A saved configuration (followed by a restart) is the only normal exit;
// ctx cancellation is for tests.
func (p *Portal) Run(ctx context.Context) error {
	dnsErr := p.serveDNS(ctx)

	srv := &http.Server{
		Addr:              p.httpAddr,
		Handler:           p.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.ListenAndServe()
	}()

	if p.logger != nil {
		p.logger.Printf("[Portal] Waiting for configuration on http://%s", p.apAddr)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-dnsErr:
		return err
	}
}

// handleIndex serves the embedded configuration page.
func (p *Portal) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexHTML)
}

// handleScan scans for networks and returns them as JSON, in scan
// order. Networks with an empty name are excluded.
func (p *Portal) handleScan(w http.ResponseWriter, r *http.Request) {
	networks, err := p.scanner.Scan()
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("[Portal] Scan failed: %v", err)
		}
		http.Error(w, "network scan failed", http.StatusInternalServerError)
		return
	}

	visible := make([]wifi.Network, 0, len(networks))
	for _, n := range networks {
		if n.SSID == "" {
			continue
		}
		visible = append(visible, n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(visible)
}

// handleSave persists the submitted credentials, serves a confirmation
// page and schedules the restart that brings the node into operating
// mode.
func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	ssid := r.FormValue("ssid")
	password := r.FormValue("password")

	if ssid == "" {
		http.Error(w, "ssid is required", http.StatusBadRequest)
		return
	}

	if err := p.store.SaveCredentials(ssid, password); err != nil {
		if p.logger != nil {
			p.logger.Printf("[Portal] Failed to save credentials: %v", err)
		}
		http.Error(w, "failed to save credentials", http.StatusInternalServerError)
		return
	}

	if p.logger != nil {
		p.logger.Printf("[Portal] Credentials saved for network %q, restarting in %v", ssid, p.restartDelay)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<html><body style="font-family: sans-serif; text-align: center; margin-top: 50px;">` +
		`<h2>Configuration saved!</h2>` +
		`<p>The device will restart in 3 seconds to join your network.</p>` +
		`</body></html>`))

	time.AfterFunc(p.restartDelay, p.restart)
}
