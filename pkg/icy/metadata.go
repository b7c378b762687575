package icy

import (
	"bytes"
	"strings"
)

// MetadataBlockUnit is the multiplier applied to the metadata length byte.
const MetadataBlockUnit = 16

const streamTitleKey = "StreamTitle"

// Metadata holds the key/value pairs of one inline metadata block.
type Metadata map[string]string

// ParseMetadata decodes a null padded metadata block of the form
// StreamTitle='...';StreamUrl='...';
// Entries without '=' are skipped.
func ParseMetadata(block []byte) Metadata {
	if i := bytes.IndexByte(block, 0); i >= 0 {
		block = block[:i]
	}

	m := Metadata{}
	for _, entry := range strings.Split(string(block), ";") {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		m[k] = strings.Trim(v, "'")
	}

	return m
}

// StreamTitle returns the announced track title.
func (m Metadata) StreamTitle() (string, bool) {
	t, ok := m[streamTitleKey]
	return t, ok
}

// Equals reports whether both blocks carry the same pairs.
func (m Metadata) Equals(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// EncodeMetadata builds the wire form of a metadata block: the length byte
// followed by the payload null padded to a multiple of 16 bytes. An empty
// text encodes as a single zero byte. Text longer than 255*16 bytes is
// truncated.
func EncodeMetadata(text string) []byte {
	if text == "" {
		return []byte{0}
	}

	payload := []byte(text)
	if len(payload) > 255*MetadataBlockUnit {
		payload = payload[:255*MetadataBlockUnit]
	}

	blocks := (len(payload) + MetadataBlockUnit - 1) / MetadataBlockUnit

	out := make([]byte, 1+blocks*MetadataBlockUnit)
	out[0] = byte(blocks)
	copy(out[1:], payload)

	return out
}
