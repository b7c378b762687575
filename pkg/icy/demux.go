package icy

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

const (
	defaultMinBuffer = 512
	defaultHighWater = 16 * 1024
	defaultReadSize  = 4 * 1024
)

// State of the demultiplexer.
type State int

const (
	// StateFilling waits for the queue to hold enough bytes to make progress.
	StateFilling State = iota
	// StateReadingAudio delivers audio bytes until the next metadata block.
	StateReadingAudio
	// StateReadingMetadataLength consumes the metadata length byte.
	StateReadingMetadataLength
	// StateReadingMetadata consumes a whole metadata block.
	StateReadingMetadata
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateReadingAudio:
		return "reading-audio"
	case StateReadingMetadataLength:
		return "reading-metadata-length"
	case StateReadingMetadata:
		return "reading-metadata"
	}
	return "unknown"
}

// Boundary is emitted when the announced title changes.
type Boundary struct {
	// Title of the track that is starting.
	Title string
	// Previous is the title of the track the audio so far belongs to.
	Previous string
}

// Sink receives the demultiplexed stream.
type Sink interface {
	// Audio receives audio bytes in stream order. p is owned by the sink.
	Audio(p []byte) error
	// Boundary is called once a title change has been observed.
	Boundary(b Boundary) error
}

// MetadataCallbackFunc is called for every parsed metadata block.
type MetadataCallbackFunc func(m Metadata)

// DemuxConfig tunes how the demuxer buffers the source.
type DemuxConfig struct {
	// MinBuffer is the number of queued bytes required before a transition is
	// attempted while the source is still open.
	MinBuffer int
	// HighWater caps how far ahead of the parser the queue is filled.
	HighWater int
	// ReadSize is the size of a single read from the source.
	ReadSize int
}

func (c *DemuxConfig) applyDefaults() {
	if c.MinBuffer <= 0 {
		c.MinBuffer = defaultMinBuffer
	}
	if c.HighWater <= 0 {
		c.HighWater = defaultHighWater
	}
	if c.HighWater < c.MinBuffer {
		c.HighWater = c.MinBuffer
	}
	if c.ReadSize <= 0 {
		c.ReadSize = defaultReadSize
	}
}

// Demuxer separates audio from inline metadata. It pulls from src into the
// queue on demand and walks the queued bytes in protocol order: metaint audio
// bytes, a length byte, length*16 bytes of metadata, repeated.
//
// A Demuxer belongs to a single connection and is not safe for concurrent
// use.
type Demuxer struct {
	// Optional function called for every parsed metadata block.
	MetadataCallbackFunc MetadataCallbackFunc

	cfg    DemuxConfig
	src    io.Reader
	queue  *Queue
	sink   Sink
	params Params

	state     State
	resume    State // state to return to once filling is done
	remaining int   // audio bytes until the next metadata block
	metaLen   int   // size of the metadata block being read

	title    string
	hasTitle bool
	metadata Metadata

	readBuf []byte
	eof     bool
}

// NewDemuxer returns a Demuxer reading from src. q may already hold bytes read
// past the response header.
func NewDemuxer(src io.Reader, q *Queue, params Params, sink Sink, cfg DemuxConfig) (*Demuxer, error) {
	if params.MetaInt <= 0 {
		return nil, errors.Wrapf(ErrNoMetadata, "metaint %d", params.MetaInt)
	}
	if params.Subtype == "" {
		return nil, ErrNoContentType
	}
	if q == nil {
		q = NewQueue()
	}
	cfg.applyDefaults()

	return &Demuxer{
		cfg:       cfg,
		src:       src,
		queue:     q,
		sink:      sink,
		params:    params,
		state:     StateReadingAudio,
		remaining: params.MetaInt,
		readBuf:   make([]byte, cfg.ReadSize),
	}, nil
}

// State returns the current state.
func (d *Demuxer) State() State { return d.state }

// Remaining returns the number of audio bytes before the next metadata block.
func (d *Demuxer) Remaining() int { return d.remaining }

// Title returns the current title and whether one has been announced yet.
func (d *Demuxer) Title() (string, bool) { return d.title, d.hasTitle }

// Metadata returns the most recently parsed metadata block.
func (d *Demuxer) Metadata() Metadata { return d.metadata }

// Run drives the state machine until the source ends or a fault occurs. It
// returns io.EOF when the source ended cleanly between protocol units.
func (d *Demuxer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := d.fill(); err != nil {
			return err
		}

		if !d.ready() {
			if d.eof {
				return d.finish()
			}
			d.enterFilling()
			continue
		}

		if err := d.Step(); err != nil {
			return err
		}
	}
}

// fill issues at most one read from the source when the queue is below the
// high water mark or below what the current state needs.
func (d *Demuxer) fill() error {
	if d.eof {
		return nil
	}
	if d.queue.Len() >= d.cfg.HighWater && d.queue.Len() >= d.need() {
		return nil
	}

	n, err := d.src.Read(d.readBuf)
	if n > 0 {
		d.queue.Put(d.readBuf[:n])
	}
	if err != nil {
		if err == io.EOF {
			d.eof = true
			return nil
		}
		return errors.Wrap(err, "reading stream")
	}
	return nil
}

// need returns how many queued bytes the pending state requires.
func (d *Demuxer) need() int {
	s := d.pending()
	if d.eof {
		switch s {
		case StateReadingMetadata:
			return d.metaLen
		default:
			return 1
		}
	}

	if s == StateReadingMetadata && d.metaLen > d.cfg.MinBuffer {
		return d.metaLen
	}
	return d.cfg.MinBuffer
}

func (d *Demuxer) ready() bool {
	return d.queue.Len() >= d.need()
}

func (d *Demuxer) pending() State {
	if d.state == StateFilling {
		return d.resume
	}
	return d.state
}

func (d *Demuxer) enterFilling() {
	if d.state != StateFilling {
		d.resume = d.state
		d.state = StateFilling
	}
}

// finish is reached when the source has ended and the queue cannot satisfy
// the pending state.
func (d *Demuxer) finish() error {
	if d.pending() == StateReadingMetadata {
		return errors.Wrapf(ErrDesync, "metadata block declares %d bytes, stream ended with %d",
			d.metaLen, d.queue.Len())
	}
	return io.EOF
}

// Step performs a single transition from the queued bytes.
func (d *Demuxer) Step() error {
	if d.state == StateFilling {
		d.state = d.resume
	}

	if d.remaining < 0 {
		return errors.Wrapf(ErrNegativeRemaining, "remaining %d", d.remaining)
	}

	switch d.state {
	case StateReadingAudio:
		return d.readAudio()
	case StateReadingMetadataLength:
		return d.readMetadataLength()
	case StateReadingMetadata:
		return d.readMetadata()
	}
	return errors.Errorf("invalid state %d", d.state)
}

func (d *Demuxer) readAudio() error {
	chunk := d.queue.Get(d.remaining)
	d.remaining -= len(chunk)

	if d.remaining == 0 {
		d.state = StateReadingMetadataLength
	}

	if len(chunk) == 0 {
		return nil
	}
	return d.sink.Audio(chunk)
}

func (d *Demuxer) readMetadataLength() error {
	b := d.queue.Get(1)
	if len(b) == 0 {
		return errors.Wrap(ErrDesync, "metadata length byte missing")
	}

	if b[0] == 0 {
		d.remaining = d.params.MetaInt
		d.state = StateReadingAudio
		return nil
	}

	d.metaLen = int(b[0]) * MetadataBlockUnit
	d.state = StateReadingMetadata
	return nil
}

func (d *Demuxer) readMetadata() error {
	if d.queue.Len() < d.metaLen {
		return errors.Wrapf(ErrDesync, "metadata block declares %d bytes, %d queued", d.metaLen, d.queue.Len())
	}

	block := d.queue.Get(d.metaLen)
	d.metaLen = 0
	d.remaining = d.params.MetaInt
	d.state = StateReadingAudio

	m := ParseMetadata(block)
	d.metadata = m
	if d.MetadataCallbackFunc != nil {
		d.MetadataCallbackFunc(m)
	}

	title, ok := m.StreamTitle()
	if !ok {
		return errors.Wrapf(ErrMissingTitle, "block %q", block)
	}

	return d.observeTitle(title)
}

func (d *Demuxer) observeTitle(title string) error {
	if !d.hasTitle {
		d.title = title
		d.hasTitle = true
		return nil
	}
	if title == d.title {
		return nil
	}

	previous := d.title
	d.title = title
	return d.sink.Boundary(Boundary{Title: title, Previous: previous})
}
