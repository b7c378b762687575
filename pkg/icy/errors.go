package icy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Protocol faults. Each one ends the current connection.
var (
	ErrNegativeRemaining = errors.New("remaining audio byte counter is negative")
	ErrDesync            = errors.New("stream desynchronized")
	ErrMissingTitle      = errors.New("metadata block has no StreamTitle")
)

// Configuration faults: the server does not offer what the demuxer needs.
var (
	ErrNoMetadata     = errors.New("server did not offer inline metadata (icy-metaint)")
	ErrNoContentType  = errors.New("server did not send an audio content type")
	ErrHeaderTooLarge = errors.New("response header exceeds limit")
	ErrBadPlaylist    = errors.New("playlist has no usable stream URL")
)

// StatusError is returned when the server answers with a non-success status.
type StatusError struct {
	Code     int
	Status   string
	Location string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// Redirect reports whether the status points to another location.
func (e *StatusError) Redirect() bool {
	return e.Code >= 300 && e.Code < 400 && e.Location != ""
}

// IsProtocolFault reports whether err is a demultiplexing fault.
func IsProtocolFault(err error) bool {
	return errors.Is(err, ErrNegativeRemaining) ||
		errors.Is(err, ErrDesync) ||
		errors.Is(err, ErrMissingTitle)
}

// IsConfigFault reports whether err means the stream can never be ripped,
// no matter how often it is retried.
func IsConfigFault(err error) bool {
	return errors.Is(err, ErrNoMetadata) ||
		errors.Is(err, ErrNoContentType) ||
		errors.Is(err, ErrBadPlaylist)
}
