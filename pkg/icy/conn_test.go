package icy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// icyServer accepts a single connection, records the request and answers
// with response.
func icyServer(t *testing.T, response string) (addr string, requests <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		var req strings.Builder
		br := bufio.NewReader(c)
		for {
			line, err := br.ReadString('\n')
			req.WriteString(line)
			if err != nil || line == "\r\n" {
				break
			}
		}
		ch <- req.String()

		_, _ = io.WriteString(c, response)
	}()

	return ln.Addr().String(), ch
}

func TestDial(t *testing.T) {
	addr, requests := icyServer(t, "ICY 200 OK\r\n"+
		"content-type: audio/mpeg\r\n"+
		"icy-metaint: 4\r\n"+
		"icy-name: Test\r\n"+
		"\r\n"+
		"abcd\x00efgh")

	c, err := Dial(context.Background(), "http://"+addr+"/live?token=x", DialConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	req := <-requests
	if !strings.HasPrefix(req, "GET /live?token=x HTTP/1.0\r\n") {
		t.Errorf("unexpected request line in %q", req)
	}
	if !strings.Contains(req, "Icy-MetaData: 1\r\n") {
		t.Errorf("expected Icy-MetaData header in %q", req)
	}
	if !strings.Contains(req, "Host: "+addr+"\r\n") {
		t.Errorf("expected Host header in %q", req)
	}

	params, err := ParamsFromHeader(c.Response.Header)
	if err != nil {
		t.Fatalf("ParamsFromHeader failed: %v", err)
	}
	if params.MetaInt != 4 || params.Subtype != "mpeg" || params.Name != "Test" {
		t.Errorf("unexpected params %+v", params)
	}

	rest, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	body := string(c.Queue.Get(c.Queue.Len())) + string(rest)
	if body != "abcd\x00efgh" {
		t.Errorf("expected body after header, got %q", body)
	}
}

func TestDial_Redirect(t *testing.T) {
	target, _ := icyServer(t, "ICY 200 OK\r\ncontent-type: audio/mpeg\r\nicy-metaint: 4\r\n\r\n")
	origin, _ := icyServer(t, fmt.Sprintf("HTTP/1.0 302 Found\r\nLocation: http://%s/stream\r\n\r\n", target))

	c, err := Dial(context.Background(), "http://"+origin+"/", DialConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if c.URL != "http://"+target+"/stream" {
		t.Errorf("expected final url on target, got %s", c.URL)
	}
}

func TestDial_Status(t *testing.T) {
	addr, _ := icyServer(t, "HTTP/1.0 404 Not Found\r\n\r\n")

	_, err := Dial(context.Background(), "http://"+addr+"/", DialConfig{})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "ftp://example.com/", DialConfig{}); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestConn_ReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.WriteString(c, "ICY 200 OK\r\nicy-metaint: 4\r\ncontent-type: audio/mpeg\r\n\r\n")
		<-stop
	}()

	c, err := Dial(context.Background(), "http://"+ln.Addr().String()+"/", DialConfig{ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	_, err = c.Read(make([]byte, 10))
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
}
