package icy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultReadTimeout = 5 * time.Second
	defaultUserAgent   = "icyrip/0.1"

	maxRedirects = 5
)

// DialConfig controls how a stream connection is established.
type DialConfig struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
	UserAgent   string
	ReadSize    int
}

func (c *DialConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.ReadSize <= 0 {
		c.ReadSize = defaultReadSize
	}
}

// Conn is an open stream connection. Reads time out after ReadTimeout of
// inactivity so a stalled server surfaces as an error.
type Conn struct {
	// Response is the parsed response header.
	Response *Response
	// Queue holds the bytes read past the response header.
	Queue *Queue
	// URL is the address the stream was finally served from.
	URL string

	conn        net.Conn
	readTimeout time.Duration
}

// Dial connects to rawURL, requests the stream with inline metadata and reads
// the response header. Redirects are followed.
func Dial(ctx context.Context, rawURL string, cfg DialConfig) (*Conn, error) {
	cfg.applyDefaults()

	for i := 0; i <= maxRedirects; i++ {
		c, err := dialOnce(ctx, rawURL, cfg)
		if err == nil {
			return c, nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.Redirect() {
			next, perr := resolveReference(rawURL, se.Location)
			if perr != nil {
				return nil, perr
			}
			rawURL = next
			continue
		}
		return nil, err
	}

	return nil, errors.Errorf("stopped after %d redirects", maxRedirects)
}

func dialOnce(ctx context.Context, rawURL string, cfg DialConfig) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse url")
	}

	addr, err := hostPort(u)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}

	if u.Scheme == "https" {
		tc := tls.Client(nc, &tls.Config{ServerName: u.Hostname()})
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "tls handshake")
		}
		nc = tc
	}

	c := &Conn{
		Queue:       NewQueue(),
		URL:         rawURL,
		conn:        nc,
		readTimeout: cfg.ReadTimeout,
	}

	if _, err := c.conn.Write(requestLine(u, cfg.UserAgent)); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "failed to send request")
	}

	resp, err := ReadHeader(c, c.Queue, cfg.ReadSize)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Response = resp

	return c, nil
}

func hostPort(u *url.URL) (string, error) {
	switch u.Scheme {
	case "http", "icy", "":
		if u.Port() == "" {
			return net.JoinHostPort(u.Hostname(), "80"), nil
		}
	case "https":
		if u.Port() == "" {
			return net.JoinHostPort(u.Hostname(), "443"), nil
		}
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.Host, nil
}

func requestLine(u *url.URL, userAgent string) []byte {
	path := u.RequestURI()

	return []byte(fmt.Sprintf("GET %s HTTP/1.0\r\n"+
		"Host: %s\r\n"+
		"User-Agent: %s\r\n"+
		"Accept: */*\r\n"+
		"Icy-MetaData: 1\r\n"+
		"Connection: close\r\n"+
		"\r\n", path, u.Host, userAgent))
}

func resolveReference(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse url")
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse redirect location %q", location)
	}
	return b.ResolveReference(l).String(), nil
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.conn.Read(p)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
