// Package icy reads ICY (Shoutcast/Icecast) streams: audio bytes interleaved
// with inline metadata blocks announcing the current track title.
//
// Compared to a plain metadata-stripping reader it is built for track
// splitting:
//   - Raw socket connection so bytes read past the response header are kept
//   - An explicit demultiplexing state machine driven from a byte queue
//   - Title change detection reported to a Sink as boundary events
//   - Playlist resolution: .pls and .m3u URLs are resolved to the stream URL
package icy
