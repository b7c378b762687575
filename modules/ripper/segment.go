package ripper

import (
	"bytes"
	"log/slog"

	"github.com/zachfi/icyrip/pkg/icy"
)

// SegmentWriter turns the demuxed stream into one file per track.
//
// A title change is only seen in the metadata block after the audio that
// carried the transition, so at every boundary the last metaint bytes are
// held back and handed to the new track. This is a heuristic: it assumes the
// server lags by at most one metadata interval.
type SegmentWriter struct {
	store    Store
	metaint  int
	ext      string
	sanitize bool
	logger   *slog.Logger
	metrics  *metrics

	acc     bytes.Buffer
	first   bool
	title   string
	flushed int
	total   int64
	onFlush func(name string, size int)
	onAudio func(size int)
}

func NewSegmentWriter(store Store, params icy.Params, sanitize bool, logger *slog.Logger, m *metrics) *SegmentWriter {
	return &SegmentWriter{
		store:    store,
		metaint:  params.MetaInt,
		ext:      params.Subtype,
		sanitize: sanitize,
		logger:   logger,
		metrics:  m,
		first:    true,
	}
}

// Audio appends audio bytes for the track in progress.
func (w *SegmentWriter) Audio(p []byte) error {
	w.acc.Write(p)
	w.total += int64(len(p))
	if w.metrics != nil {
		w.metrics.audioBytes.Add(float64(len(p)))
	}
	if w.onAudio != nil {
		w.onAudio(len(p))
	}
	return nil
}

// Boundary writes the audio confirmed to belong to the previous title and
// keeps the lag window for the new one.
func (w *SegmentWriter) Boundary(b icy.Boundary) error {
	split := w.acc.Len() - w.metaint
	if split < 0 {
		split = 0
	}

	prefix, kind := "", "complete"
	if w.first {
		// The connection almost certainly started mid-track.
		prefix, kind = partialPrefix, "partial"
		w.first = false
	}

	name := segmentName(prefix, b.Previous, w.ext, w.sanitize)
	w.write(name, w.acc.Bytes()[:split], kind)

	rest := append([]byte(nil), w.acc.Bytes()[split:]...)
	w.acc.Reset()
	w.acc.Write(rest)

	w.title = b.Title
	if w.metrics != nil {
		w.metrics.titleChanges.Inc()
	}

	return nil
}

// Close writes the unconfirmed remainder when flushIncomplete is set. The
// remainder is otherwise dropped, since no title change confirmed where the
// track ends.
func (w *SegmentWriter) Close(flushIncomplete bool) {
	if !flushIncomplete || w.acc.Len() == 0 {
		w.logger.Debug("dropping unconfirmed audio", "title", w.title, "size", ByteCountIEC(w.acc.Len()))
		return
	}

	name := segmentName(incompletePrefix, w.title, w.ext, w.sanitize)
	w.write(name, w.acc.Bytes(), "incomplete")
	w.acc.Reset()
}

// SetTitle records the title of the track in progress, used to name the
// incomplete remainder.
func (w *SegmentWriter) SetTitle(title string) {
	w.title = title
}

// Pending returns the audio not yet written.
func (w *SegmentWriter) Pending() []byte {
	return w.acc.Bytes()
}

// Received returns the number of audio bytes seen.
func (w *SegmentWriter) Received() int64 {
	return w.total
}

// Flushed returns the number of segment files written.
func (w *SegmentWriter) Flushed() int {
	return w.flushed
}

// write failures are logged and the segment is dropped. The stream position
// is unaffected, so the following tracks are still split correctly.
func (w *SegmentWriter) write(name string, b []byte, kind string) {
	if err := w.store.WriteFile(name, b); err != nil {
		w.logger.Error("error writing segment", "err", err, "name", name, "size", ByteCountIEC(len(b)))
		if w.metrics != nil {
			w.metrics.segmentsWritten.WithLabelValues("failed").Inc()
		}
		return
	}

	w.flushed++
	w.logger.Info("wrote segment", "name", name, "size", ByteCountIEC(len(b)))
	if w.metrics != nil {
		w.metrics.segmentsWritten.WithLabelValues(kind).Inc()
		w.metrics.segmentBytes.Observe(float64(len(b)))
	}
	if w.onFlush != nil {
		w.onFlush(name, len(b))
	}
}
