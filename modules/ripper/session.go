package ripper

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/icyrip/pkg/icy"
)

// session connects once and rips until the connection ends. Every session
// starts from scratch: nothing but the written files survives it.
func (r *Ripper) session(ctx context.Context) (bool, error) {
	id := uuid.NewString()
	logger := r.logger.With("session", id)

	ctx, span := r.tracer.Start(ctx, "session")
	span.SetAttributes(attribute.String("session.id", id))

	progressed, err := r.rip(ctx, logger, id)

	spanErr := err
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		spanErr = nil
	}
	_ = tracing.ErrHandler(span, spanErr, "session failed", nil)

	return progressed, err
}

func (r *Ripper) rip(ctx context.Context, logger *slog.Logger, id string) (bool, error) {
	r.metrics.sessions.Inc()

	if err := r.resolve(ctx, logger); err != nil {
		r.metrics.sessionFailures.WithLabelValues("resolve").Inc()
		if icy.IsConfigFault(err) {
			return false, permanent(err)
		}
		return false, errors.Wrap(err, "error resolving stream url")
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("stream.url", r.streamURL))

	logger.Info("opening stream", "url", r.streamURL)
	conn, err := icy.Dial(ctx, r.streamURL, icy.DialConfig{
		DialTimeout: r.cfg.DialTimeout,
		ReadTimeout: r.cfg.ReadTimeout,
		UserAgent:   r.cfg.UserAgent,
		ReadSize:    r.cfg.ReadSize,
	})
	if err != nil {
		r.metrics.sessionFailures.WithLabelValues("connect").Inc()
		return false, errors.Wrap(err, "error opening stream")
	}
	defer conn.Close()

	// A blocked read only returns once the socket is closed.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for k, v := range conn.Response.Header {
		logger.Debug("response header", "key", k, "value", v)
	}

	params, err := icy.ParamsFromHeader(conn.Response.Header)
	if err != nil {
		r.metrics.sessionFailures.WithLabelValues("config").Inc()
		return false, permanent(err)
	}

	dir := r.cfg.Dir
	if params.Name != "" {
		dir = filepath.Join(dir, sanitizeTitle(params.Name))
	}
	store, err := NewDirStore(dir, r.cfg.WriteBufferSize, r.cfg.KeepLongest, logger)
	if err != nil {
		return false, permanent(err)
	}

	w := NewSegmentWriter(store, params, r.cfg.SanitizeTitles, logger, r.metrics)
	w.onFlush = r.recordSegment
	w.onAudio = r.addBytes

	d, err := icy.NewDemuxer(conn, conn.Queue, params, w, icy.DemuxConfig{
		MinBuffer: r.cfg.MinBuffer,
		HighWater: r.cfg.HighWater,
		ReadSize:  r.cfg.ReadSize,
	})
	if err != nil {
		return false, permanent(err)
	}

	var (
		current string
		blocks  int
	)
	d.MetadataCallbackFunc = func(m icy.Metadata) {
		blocks++
		r.metrics.metadataBlocks.Inc()
		if title, ok := m.StreamTitle(); ok && title != current {
			current = title
			logger.Info("now listening to", "title", title)
			r.setTitle(title)
		}
	}

	logger.Info("connected",
		"station", params.Name,
		"genre", params.Genre,
		"bitrate", params.Bitrate,
		"metaint", params.MetaInt,
		"format", params.Subtype,
		"dir", store.Dir(),
	)
	r.setConnected(id, params)
	defer r.setDisconnected()

	err = d.Run(ctx)

	if title, ok := d.Title(); ok {
		w.SetTitle(title)
	}
	w.Close(r.cfg.FlushIncomplete)

	// A server that faults before a whole interval arrives keeps backing off.
	progressed := blocks > 0 || w.Received() >= int64(params.MetaInt)

	switch {
	case ctx.Err() != nil:
		return progressed, ctx.Err()
	case errors.Is(err, io.EOF):
		r.metrics.sessionFailures.WithLabelValues("eof").Inc()
		return progressed, errors.Wrap(err, "stream closed by server")
	case icy.IsProtocolFault(err):
		r.metrics.sessionFailures.WithLabelValues("protocol").Inc()
		logger.Error("protocol fault", "err", err, "state", d.State(), "remaining", d.Remaining())
	default:
		r.metrics.sessionFailures.WithLabelValues("read").Inc()
	}

	return progressed, err
}
