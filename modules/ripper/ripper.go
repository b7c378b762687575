package ripper

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/icyrip/pkg/icy"
)

type Ripper struct {
	services.Service
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	// streamURL is cfg.URL with any playlist resolved. It is only touched by
	// the running goroutine.
	streamURL string

	mtx    sync.Mutex
	status Status
}

// Status describes what the ripper is doing.
type Status struct {
	URL         string `json:"url"`
	Station     string `json:"station,omitempty"`
	Session     string `json:"session,omitempty"`
	Connected   bool   `json:"connected"`
	Title       string `json:"title,omitempty"`
	Segments    int    `json:"segments"`
	LastSegment string `json:"last_segment,omitempty"`
	Bytes       int64  `json:"bytes"`
}

var module = "ripper"

// New creates and returns a new Ripper.
func New(cfg Config, logger slog.Logger, reg prometheus.Registerer) (*Ripper, error) {
	if cfg.URL == "" {
		return nil, errors.New("no stream url configured")
	}
	cfg.applyDefaults()

	r := &Ripper{
		cfg:     &cfg,
		logger:  logger.With("module", module),
		metrics: newMetrics(reg),
		tracer:  otel.Tracer("github.com/zachfi/icyrip/modules/ripper"),
		status:  Status{URL: cfg.URL},
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Ripper) starting(_ context.Context) error {
	if r.cfg.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	return nil
}

// resolve turns cfg.URL into the stream URL once. Until it succeeds every
// session starts with it, so a station that is down at boot is retried.
func (r *Ripper) resolve(ctx context.Context, logger *slog.Logger) error {
	if r.streamURL != "" {
		return nil
	}

	streamURL, err := icy.ResolvePlaylistURL(ctx, nil, r.cfg.URL)
	if err != nil {
		return err
	}
	if streamURL != r.cfg.URL {
		logger.Info("resolved playlist to stream url", "url", streamURL)
	}

	r.streamURL = streamURL
	return nil
}

func (r *Ripper) running(ctx context.Context) error {
	cfg := backoff.Config{
		MinBackoff: r.cfg.ReconnectBackoff,
		MaxBackoff: r.cfg.ReconnectBackoffMax,
		MaxRetries: r.cfg.ReconnectMaxRetries,
	}

	return retry(ctx, cfg, r.logger, r.session)
}

func (r *Ripper) stopping(_ error) error {
	r.logger.Info("stopping")
	r.setDisconnected()
	return nil
}

// Status returns a snapshot of the current state.
func (r *Ripper) Status() Status {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.status
}

// StatusHandler serves Status as JSON.
func (r *Ripper) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Status()); err != nil {
			r.logger.Error("error encoding status", "err", err)
		}
	})
}

func (r *Ripper) setConnected(session string, params icy.Params) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.status.Session = session
	r.status.Station = params.Name
	r.status.Connected = true
	r.status.Title = ""
	r.metrics.connected.Set(1)
}

func (r *Ripper) setDisconnected() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.status.Connected = false
	r.metrics.connected.Set(0)
}

func (r *Ripper) setTitle(title string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.status.Title = title
}

func (r *Ripper) recordSegment(name string, _ int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.status.Segments++
	r.status.LastSegment = name
}

func (r *Ripper) addBytes(n int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.status.Bytes += int64(n)
}
