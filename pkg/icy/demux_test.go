package icy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"
)

// recordingSink collects everything the demuxer emits.
type recordingSink struct {
	audio      bytes.Buffer
	boundaries []Boundary
	// audio length at each boundary
	offsets []int
}

func (s *recordingSink) Audio(p []byte) error {
	s.audio.Write(p)
	return nil
}

func (s *recordingSink) Boundary(b Boundary) error {
	s.boundaries = append(s.boundaries, b)
	s.offsets = append(s.offsets, s.audio.Len())
	return nil
}

// streamBuilder assembles a synthetic interleaved stream.
type streamBuilder struct {
	metaint int
	wire    bytes.Buffer
	audio   bytes.Buffer
	next    byte
}

func newStreamBuilder(metaint int) *streamBuilder {
	return &streamBuilder{metaint: metaint}
}

// chunk appends one metaint worth of audio followed by the metadata block for
// text ("" means a zero length byte).
func (b *streamBuilder) chunk(text string) *streamBuilder {
	b.audioBytes(b.metaint)
	b.wire.Write(EncodeMetadata(text))
	return b
}

func (b *streamBuilder) title(title string) *streamBuilder {
	return b.chunk("StreamTitle='" + title + "';")
}

func (b *streamBuilder) audioBytes(n int) *streamBuilder {
	for i := 0; i < n; i++ {
		b.wire.WriteByte(b.next)
		b.audio.WriteByte(b.next)
		b.next++
	}
	return b
}

func (b *streamBuilder) raw(p []byte) *streamBuilder {
	b.wire.Write(p)
	return b
}

func demux(t *testing.T, metaint int, r io.Reader, cfg DemuxConfig) (*recordingSink, *Demuxer, error) {
	t.Helper()

	sink := &recordingSink{}
	d, err := NewDemuxer(r, NewQueue(), Params{MetaInt: metaint, Subtype: "mpeg"}, sink, cfg)
	if err != nil {
		t.Fatalf("NewDemuxer failed: %v", err)
	}

	return sink, d, d.Run(context.Background())
}

// randomChunkReader returns reads of random size between 1 and max bytes.
type randomChunkReader struct {
	r   io.Reader
	rng *rand.Rand
	max int
}

func (r *randomChunkReader) Read(p []byte) (int, error) {
	n := 1 + r.rng.Intn(r.max)
	if n < len(p) {
		p = p[:n]
	}
	return r.r.Read(p)
}

func TestDemuxer_TitleChange(t *testing.T) {
	b := newStreamBuilder(16000).
		title("Song A").
		title("Song B")

	sink, d, err := demux(t, 16000, bytes.NewReader(b.wire.Bytes()), DemuxConfig{})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}

	if len(sink.boundaries) != 1 {
		t.Fatalf("expected one boundary, got %d: %+v", len(sink.boundaries), sink.boundaries)
	}
	if want := (Boundary{Title: "Song B", Previous: "Song A"}); sink.boundaries[0] != want {
		t.Errorf("expected %+v, got %+v", want, sink.boundaries[0])
	}
	if sink.offsets[0] != 32000 {
		t.Errorf("expected boundary after 32000 audio bytes, got %d", sink.offsets[0])
	}
	if !bytes.Equal(sink.audio.Bytes(), b.audio.Bytes()) {
		t.Errorf("audio differs from the stream with metadata removed")
	}

	if title, ok := d.Title(); !ok || title != "Song B" {
		t.Errorf("expected current title 'Song B', got %q", title)
	}
}

func TestDemuxer_ReadChunkingInvariant(t *testing.T) {
	b := newStreamBuilder(1000).
		title("A").
		chunk("").
		title("A").
		title("B").
		chunk("StreamTitle='C';StreamUrl='http://example.com/x';").
		chunk("").
		title("D").
		audioBytes(777)

	want, _, err := demux(t, 1000, bytes.NewReader(b.wire.Bytes()), DemuxConfig{})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
	if len(want.boundaries) != 3 {
		t.Fatalf("expected three boundaries, got %+v", want.boundaries)
	}

	readers := map[string]func() io.Reader{
		"one byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(b.wire.Bytes())) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(b.wire.Bytes())) },
		"data err": func() io.Reader { return iotest.DataErrReader(bytes.NewReader(b.wire.Bytes())) },
	}
	for i := 0; i < 10; i++ {
		seed := int64(i)
		readers["random"+string(rune('0'+i))] = func() io.Reader {
			return &randomChunkReader{r: bytes.NewReader(b.wire.Bytes()), rng: rand.New(rand.NewSource(seed)), max: 5000}
		}
	}

	for name, newReader := range readers {
		t.Run(name, func(t *testing.T) {
			got, _, err := demux(t, 1000, newReader(), DemuxConfig{ReadSize: 1500})
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected clean end of stream, got %v", err)
			}
			if !bytes.Equal(got.audio.Bytes(), want.audio.Bytes()) {
				t.Errorf("audio differs")
			}
			if len(got.boundaries) != len(want.boundaries) {
				t.Fatalf("expected %d boundaries, got %d", len(want.boundaries), len(got.boundaries))
			}
			for i := range want.boundaries {
				if got.boundaries[i] != want.boundaries[i] || got.offsets[i] != want.offsets[i] {
					t.Errorf("boundary %d: expected %+v at %d, got %+v at %d",
						i, want.boundaries[i], want.offsets[i], got.boundaries[i], got.offsets[i])
				}
			}
		})
	}
}

func TestDemuxer_ZeroLengthMetadata(t *testing.T) {
	b := newStreamBuilder(600).
		chunk("").
		chunk("").
		title("A").
		chunk("").
		chunk("")

	sink, d, err := demux(t, 600, bytes.NewReader(b.wire.Bytes()), DemuxConfig{})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
	if len(sink.boundaries) != 0 {
		t.Errorf("expected no boundaries, got %+v", sink.boundaries)
	}
	if title, _ := d.Title(); title != "A" {
		t.Errorf("expected title 'A', got %q", title)
	}
	if sink.audio.Len() != 5*600 {
		t.Errorf("expected %d audio bytes, got %d", 5*600, sink.audio.Len())
	}
}

func TestDemuxer_RepeatedTitle(t *testing.T) {
	b := newStreamBuilder(600).
		title("A").
		title("B").
		title("B").
		title("B")

	sink, _, err := demux(t, 600, bytes.NewReader(b.wire.Bytes()), DemuxConfig{})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
	if len(sink.boundaries) != 1 {
		t.Errorf("expected one boundary, got %+v", sink.boundaries)
	}
}

func TestDemuxer_MetadataCallback(t *testing.T) {
	b := newStreamBuilder(600).
		chunk("StreamTitle='A';StreamUrl='u';").
		chunk("")

	sink := &recordingSink{}
	d, err := NewDemuxer(bytes.NewReader(b.wire.Bytes()), nil, Params{MetaInt: 600, Subtype: "mpeg"}, sink, DemuxConfig{})
	if err != nil {
		t.Fatalf("NewDemuxer failed: %v", err)
	}

	var seen []Metadata
	d.MetadataCallbackFunc = func(m Metadata) { seen = append(seen, m) }

	if err := d.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
	if len(seen) != 1 || seen[0]["StreamUrl"] != "u" {
		t.Errorf("expected one block with StreamUrl, got %v", seen)
	}
}

func TestDemuxer_Faults(t *testing.T) {
	t.Run("declared block larger than stream", func(t *testing.T) {
		b := newStreamBuilder(600).
			title("A").
			audioBytes(600).
			raw([]byte{0xff}).
			raw([]byte("StreamTitle='short';"))

		sink, _, err := demux(t, 600, iotest.OneByteReader(bytes.NewReader(b.wire.Bytes())), DemuxConfig{})
		if !errors.Is(err, ErrDesync) {
			t.Fatalf("expected ErrDesync, got %v", err)
		}
		if !IsProtocolFault(err) {
			t.Errorf("expected a protocol fault")
		}
		if sink.audio.Len() != 1200 {
			t.Errorf("expected audio before the fault to be delivered, got %d bytes", sink.audio.Len())
		}
	})

	t.Run("missing title", func(t *testing.T) {
		b := newStreamBuilder(600).
			chunk("StreamUrl='http://example.com';")

		_, _, err := demux(t, 600, bytes.NewReader(b.wire.Bytes()), DemuxConfig{})
		if !errors.Is(err, ErrMissingTitle) {
			t.Fatalf("expected ErrMissingTitle, got %v", err)
		}
	})

	t.Run("negative counter", func(t *testing.T) {
		q := NewQueue()
		q.Put(make([]byte, 1024))
		d, err := NewDemuxer(bytes.NewReader(nil), q, Params{MetaInt: 600, Subtype: "mpeg"}, &recordingSink{}, DemuxConfig{})
		if err != nil {
			t.Fatalf("NewDemuxer failed: %v", err)
		}
		d.remaining = -1

		if err := d.Step(); !errors.Is(err, ErrNegativeRemaining) {
			t.Fatalf("expected ErrNegativeRemaining, got %v", err)
		}
	})

	t.Run("sink error", func(t *testing.T) {
		b := newStreamBuilder(600).title("A").title("B")
		sinkErr := errors.New("disk full")

		d, err := NewDemuxer(bytes.NewReader(b.wire.Bytes()), nil, Params{MetaInt: 600, Subtype: "mpeg"},
			&failingSink{err: sinkErr}, DemuxConfig{})
		if err != nil {
			t.Fatalf("NewDemuxer failed: %v", err)
		}
		if err := d.Run(context.Background()); !errors.Is(err, sinkErr) {
			t.Fatalf("expected sink error, got %v", err)
		}
	})

	t.Run("read error", func(t *testing.T) {
		_, _, err := demux(t, 600, iotest.TimeoutReader(bytes.NewReader(make([]byte, 4096))), DemuxConfig{ReadSize: 100})
		if !errors.Is(err, iotest.ErrTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})
}

func TestDemuxer_Filling(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	sink := &recordingSink{}
	d, err := NewDemuxer(pr, nil, Params{MetaInt: 600, Subtype: "mpeg"}, sink, DemuxConfig{})
	if err != nil {
		t.Fatalf("NewDemuxer failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	// Less than the minimum is not acted on while the stream is open.
	if _, err := pw.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := pw.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	pw.Close()

	if err := <-done; !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean end of stream, got %v", err)
	}
	// Once the stream ended the tail is still delivered.
	if sink.audio.Len() != 200 {
		t.Errorf("expected 200 audio bytes, got %d", sink.audio.Len())
	}
	if d.Remaining() != 400 {
		t.Errorf("expected 400 remaining, got %d", d.Remaining())
	}
}

func TestDemuxer_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := NewDemuxer(bytes.NewReader(make([]byte, 2048)), nil, Params{MetaInt: 600, Subtype: "mpeg"}, &recordingSink{}, DemuxConfig{})
	if err != nil {
		t.Fatalf("NewDemuxer failed: %v", err)
	}
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDemuxer_InvalidParams(t *testing.T) {
	if _, err := NewDemuxer(nil, nil, Params{Subtype: "mpeg"}, &recordingSink{}, DemuxConfig{}); !errors.Is(err, ErrNoMetadata) {
		t.Errorf("expected ErrNoMetadata, got %v", err)
	}
	if _, err := NewDemuxer(nil, nil, Params{MetaInt: 10}, &recordingSink{}, DemuxConfig{}); !errors.Is(err, ErrNoContentType) {
		t.Errorf("expected ErrNoContentType, got %v", err)
	}
}

type failingSink struct {
	recordingSink
	err error
}

func (s *failingSink) Boundary(Boundary) error {
	return s.err
}
