package icy

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxHeaderSize bounds how many bytes ReadHeader consumes looking for the end
// of the response header.
const MaxHeaderSize = 16 * 1024

// Header maps lower-cased response header names to trimmed values.
type Header map[string]string

// Get returns the value for the case-insensitive key.
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Response is the parsed status line and header block.
type Response struct {
	Proto  string
	Code   int
	Status string
	Header Header
}

// ReadHeader reads from r into q until the blank line ending the response
// header, consumes the header from q and parses it. Bytes read past the
// terminator stay in q.
func ReadHeader(r io.Reader, q *Queue, readSize int) (*Response, error) {
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	buf := make([]byte, readSize)

	for {
		if end, termLen := headerEnd(q.Peek(q.Len())); end >= 0 {
			raw := q.Get(end + termLen)
			return parseResponse(raw[:end])
		}

		if q.Len() > MaxHeaderSize {
			return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes without terminator", q.Len())
		}

		n, err := r.Read(buf)
		if n > 0 {
			q.Put(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil, errors.Wrap(io.ErrUnexpectedEOF, "reading response header")
			}
			return nil, errors.Wrap(err, "reading response header")
		}
	}
}

// headerEnd returns the index of the header terminator and its length, or -1.
func headerEnd(b []byte) (int, int) {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	}
	return -1, 0
}

func parseResponse(raw []byte) (*Response, error) {
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")

	proto, rest, ok := strings.Cut(strings.TrimSpace(lines[0]), " ")
	if !ok {
		return nil, errors.Errorf("malformed status line %q", lines[0])
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed status line %q", lines[0])
	}

	resp := &Response{
		Proto:  proto,
		Code:   code,
		Status: rest,
		Header: Header{},
	}

	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		resp.Header[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	if code < 200 || code > 299 {
		return resp, &StatusError{Code: code, Status: rest, Location: resp.Header.Get("location")}
	}

	return resp, nil
}

// Params are the protocol parameters the demuxer needs, plus the station
// details advertised alongside them.
type Params struct {
	// Number of audio bytes between metadata blocks.
	MetaInt int

	// Subtype of the audio content type, used as the file extension.
	Subtype string

	Name        string
	Genre       string
	Description string
	Server      string
	Bitrate     int
}

// ParamsFromHeader derives Params from the response header.
func ParamsFromHeader(h Header) (Params, error) {
	p := Params{
		Name:        h.Get("icy-name"),
		Genre:       h.Get("icy-genre"),
		Description: h.Get("icy-description"),
		Server:      h.Get("server"),
	}

	raw := h.Get("icy-metaint")
	if raw == "" {
		return p, ErrNoMetadata
	}
	metaint, err := strconv.Atoi(raw)
	if err != nil {
		return p, errors.Wrapf(ErrNoMetadata, "cannot parse metaint %q", raw)
	}
	if metaint <= 0 {
		return p, errors.Wrapf(ErrNoMetadata, "metaint %d", metaint)
	}
	p.MetaInt = metaint

	subtype, err := audioSubtype(h.Get("content-type"))
	if err != nil {
		return p, err
	}
	p.Subtype = subtype

	if br := h.Get("icy-br"); br != "" {
		// Some servers send "128,128"; only the first value matters.
		br, _, _ = strings.Cut(br, ",")
		if v, err := strconv.Atoi(strings.TrimSpace(br)); err == nil {
			p.Bitrate = v
		}
	}

	return p, nil
}

func audioSubtype(contentType string) (string, error) {
	_, subtype, ok := strings.Cut(contentType, "audio/")
	if !ok {
		return "", errors.Wrapf(ErrNoContentType, "content type %q", contentType)
	}
	subtype, _, _ = strings.Cut(subtype, ";")
	subtype = strings.TrimSpace(subtype)
	if subtype == "" {
		return "", errors.Wrapf(ErrNoContentType, "content type %q", contentType)
	}
	return subtype, nil
}
