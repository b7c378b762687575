package icy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxPlaylistSize bounds how much of a response is inspected for a playlist.
const maxPlaylistSize = 64 * 1024

// parsePLS parses a PLS playlist file and returns the first stream URL
func parsePLS(body io.Reader) (string, error) {
	s := bufio.NewScanner(body)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "File") {
			continue
		}
		if _, u, ok := strings.Cut(line, "="); ok {
			if u = strings.TrimSpace(u); u != "" {
				return u, nil
			}
		}
	}
	if err := s.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U parses an M3U playlist file and returns the first stream URL
func parseM3U(body io.Reader) (string, error) {
	s := bufio.NewScanner(body)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", fmt.Errorf("no stream URL found in M3U playlist")
}

func isPlaylist(url, contentType, content string) (pls bool, m3u bool) {
	pls = strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(url, ".pls") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")

	trimmed := strings.TrimSpace(content)
	m3u = strings.Contains(contentType, "audio/mpegurl") ||
		strings.Contains(contentType, "audio/x-mpegurl") ||
		strings.Contains(contentType, "application/vnd.apple.mpegurl") ||
		strings.HasSuffix(url, ".m3u") ||
		strings.HasSuffix(url, ".m3u8") ||
		strings.HasPrefix(trimmed, "#EXTM3U") ||
		strings.HasPrefix(trimmed, "http://") ||
		strings.HasPrefix(trimmed, "https://")

	return pls, m3u
}

// ResolvePlaylistURL checks if the URL is a playlist file and resolves it to
// a stream URL. Anything that is not recognisably a playlist is returned
// unchanged and left for Dial to judge. A playlist without a stream URL
// returns ErrBadPlaylist; any other error is a transport failure.
func ResolvePlaylistURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		// Shoutcast v1 servers answer "ICY 200 OK", which net/http rejects.
		// Those are streams, not playlists.
		if strings.Contains(err.Error(), "malformed HTTP") {
			return url, nil
		}
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	// Already a stream.
	if resp.Header.Get("icy-metaint") != "" {
		return url, nil
	}
	if pls, m3u := isPlaylist(url, contentType, ""); !pls && !m3u && strings.HasPrefix(contentType, "audio/") {
		return url, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(body)

	pls, m3u := isPlaylist(url, contentType, content)
	switch {
	case pls:
		streamURL, err := parsePLS(strings.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("failed to parse PLS playlist: %w: %w", ErrBadPlaylist, err)
		}
		return streamURL, nil
	case m3u:
		streamURL, err := parseM3U(strings.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("failed to parse M3U playlist: %w: %w", ErrBadPlaylist, err)
		}
		return streamURL, nil
	}

	return url, nil
}
